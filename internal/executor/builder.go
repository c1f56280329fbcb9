package executor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
	"github.com/josepht96/scoutrun/internal/variables"
)

// Call is a fully resolved outbound HTTP request.
type Call struct {
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	BasicAuth *storage.BasicAuth
	Timeout   time.Duration
	// Applied lists the body transforms written into Body.
	Applied []transform.Applied
}

// Builder turns stored requests into Calls.
type Builder struct {
	transforms *transform.Engine
}

// NewBuilder creates a request builder. A nil engine uses the wall clock.
func NewBuilder(engine *transform.Engine) *Builder {
	if engine == nil {
		engine = transform.NewEngine()
	}
	return &Builder{transforms: engine}
}

// Build resolves req against vars and env into a Call.
func (b *Builder) Build(req *storage.Request, vars map[string]any, env *storage.Environment) (*Call, error) {
	call := &Call{
		Method:  strings.ToUpper(req.Method),
		Header:  buildHeaders(req, vars, env),
		Timeout: Timeout(req.TimeoutMS),
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}

	u, err := buildURL(req, vars)
	if err != nil {
		return nil, err
	}
	call.URL = u

	switch req.BodyType {
	case storage.BodyJSON:
		body := variables.Resolve(req.BodyJSON, vars)
		if req.BodyTransforms != nil {
			call.Applied = b.transforms.Apply(body, req.BodyTransforms, vars)
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json body: %w", err)
		}
		call.Body = data
		if call.Header.Get("Content-Type") == "" {
			call.Header.Set("Content-Type", "application/json")
		}
	case storage.BodyForm:
		form := url.Values{}
		for k, v := range variables.ResolveStringMap(req.BodyForm, vars) {
			form.Set(k, v)
		}
		call.Body = []byte(form.Encode())
		if call.Header.Get("Content-Type") == "" {
			call.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	case storage.BodyRaw:
		call.Body = []byte(variables.ResolveString(req.BodyRaw, vars))
	}

	switch req.AuthType {
	case storage.AuthBasic:
		call.BasicAuth = &storage.BasicAuth{
			Username: variables.ResolveString(req.AuthBasic.Username, vars),
			Password: variables.ResolveString(req.AuthBasic.Password, vars),
		}
	case storage.AuthBearer:
		token := variables.ResolveString(req.AuthBearer, vars)
		if token != "" && call.Header.Get("Authorization") == "" {
			call.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return call, nil
}

// Timeout converts a request timeout in milliseconds, floored at 1ms.
func Timeout(ms int) time.Duration {
	return time.Duration(max(1, ms)) * time.Millisecond
}

// buildHeaders overlays resolved request headers on resolved environment
// defaults and drops entries that end up empty.
func buildHeaders(req *storage.Request, vars map[string]any, env *storage.Environment) http.Header {
	merged := make(map[string]string)
	if env != nil {
		for k, v := range variables.ResolveStringMap(env.DefaultHeaders, vars) {
			merged[http.CanonicalHeaderKey(k)] = v
		}
	}
	for k, v := range variables.ResolveStringMap(req.Headers, vars) {
		merged[http.CanonicalHeaderKey(k)] = v
	}

	header := make(http.Header, len(merged))
	for k, v := range merged {
		if strings.TrimSpace(v) == "" {
			continue
		}
		header.Set(k, v)
	}
	return header
}

func buildURL(req *storage.Request, vars map[string]any) (string, error) {
	raw := variables.ResolveString(req.URL, vars)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	if len(req.QueryParams) == 0 {
		return u.String(), nil
	}

	params, _ := variables.Resolve(req.QueryParams, vars).(map[string]any)
	query := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				query.Add(k, variables.Stringify(item))
			}
		default:
			query.Add(k, variables.Stringify(v))
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
