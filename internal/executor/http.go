package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxReadBody caps how much of a response is read into memory.
const maxReadBody = 10 << 20

// Response is what came back from a Call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends Calls. Errors are transport failures; any HTTP status is
// a successful response.
type Transport interface {
	Do(ctx context.Context, call *Call) (*Response, error)
}

// HTTPConfig tunes the outbound HTTP client.
type HTTPConfig struct {
	MaxIdleConns       int
	InsecureSkipVerify bool
	ProxyURL           string
}

// HTTPExecutor sends Calls with net/http.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an executor from cfg.
func NewHTTPExecutor(cfg HTTPConfig) (*HTTPExecutor, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &HTTPExecutor{client: &http.Client{Transport: transport}}, nil
}

// NewHTTPExecutorWithClient wraps an existing client.
func NewHTTPExecutorWithClient(client *http.Client) *HTTPExecutor {
	return &HTTPExecutor{client: client}
}

// Do sends call and reads the whole response. call.Timeout bounds the
// exchange including the body read.
func (e *HTTPExecutor) Do(ctx context.Context, call *Call) (*Response, error) {
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if call.BasicAuth != nil {
		req.SetBasicAuth(call.BasicAuth.Username, call.BasicAuth.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Elapsed reports the milliseconds since start, using the monotonic clock.
func Elapsed(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
