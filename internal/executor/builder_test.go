package executor

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepht96/scoutrun/internal/storage"
	"github.com/josepht96/scoutrun/internal/transform"
)

func TestBuildResolvesURL(t *testing.T) {
	env := &storage.Environment{Variables: map[string]any{"base_url": "https://x"}}
	req := &storage.Request{Method: "get", URL: "{{base_url}}/widgets"}

	call, err := NewBuilder(nil).Build(req, env.Variables, env)
	require.NoError(t, err)
	assert.Equal(t, "GET", call.Method)
	assert.Equal(t, "https://x/widgets", call.URL)
	assert.Empty(t, call.Body)
}

func TestBuildQueryParams(t *testing.T) {
	req := &storage.Request{
		URL: "https://api.test/items?fixed=1",
		QueryParams: map[string]any{
			"page":  float64(2),
			"tag":   []any{"a", "{{tag}}"},
			"skip":  nil,
			"owner": "{{owner}}",
		},
	}
	vars := map[string]any{"tag": "b", "owner": "me"}

	call, err := NewBuilder(nil).Build(req, vars, nil)
	require.NoError(t, err)

	u, err := url.Parse(call.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "1", q.Get("fixed"))
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, []string{"a", "b"}, q["tag"])
	assert.Equal(t, "me", q.Get("owner"))
	assert.False(t, q.Has("skip"))
}

func TestBuildRejectsRelativeURL(t *testing.T) {
	_, err := NewBuilder(nil).Build(&storage.Request{URL: "{{missing}}/widgets"}, nil, nil)
	require.Error(t, err)
}

func TestBuildHeadersOverlayAndDropEmpty(t *testing.T) {
	env := &storage.Environment{DefaultHeaders: map[string]string{
		"x-env":     "{{stage}}",
		"X-Remove":  "present",
		"X-Default": "kept",
	}}
	req := &storage.Request{
		URL: "https://x",
		Headers: map[string]string{
			"X-Env":    "override-{{stage}}",
			"x-remove": "",
		},
	}

	call, err := NewBuilder(nil).Build(req, map[string]any{"stage": "qa"}, env)
	require.NoError(t, err)
	assert.Equal(t, "override-qa", call.Header.Get("X-Env"))
	assert.Equal(t, "kept", call.Header.Get("X-Default"))
	_, present := call.Header["X-Remove"]
	assert.False(t, present)
}

func TestBuildJSONBodyWithTransforms(t *testing.T) {
	engine := &transform.Engine{Now: func() time.Time { return time.Date(2026, 3, 4, 0, 0, 0, 0, time.Local) }}
	req := &storage.Request{
		Method:   "POST",
		URL:      "https://x/orders",
		BodyType: storage.BodyJSON,
		BodyJSON: map[string]any{"t": map[string]any{"id": "{{id}}"}},
		BodyTransforms: &transform.Spec{Signatures: []transform.Signature{{
			TargetPath: "t.sig",
			Algorithm:  transform.AlgorithmSHA512,
			Components: `t.id,"|","suffix"`,
		}}},
	}

	call, err := NewBuilder(engine).Build(req, map[string]any{"id": "abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", call.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(call.Body, &body))
	sum := sha512.Sum512([]byte("abc|suffix"))
	assert.Equal(t, hex.EncodeToString(sum[:]), body["t"].(map[string]any)["sig"])
	require.Len(t, call.Applied, 1)

	// The stored body is left untouched.
	assert.Equal(t, "{{id}}", req.BodyJSON.(map[string]any)["t"].(map[string]any)["id"])
}

func TestBuildKeepsExplicitContentType(t *testing.T) {
	req := &storage.Request{
		URL:      "https://x",
		BodyType: storage.BodyJSON,
		BodyJSON: []any{1.0},
		Headers:  map[string]string{"Content-Type": "application/vnd.api+json"},
	}
	call, err := NewBuilder(nil).Build(req, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.api+json", call.Header.Get("Content-Type"))
	assert.Equal(t, "[1]", string(call.Body))
}

func TestBuildFormAndRawBodies(t *testing.T) {
	form := &storage.Request{
		URL:      "https://x",
		BodyType: storage.BodyForm,
		BodyForm: map[string]string{"user": "{{user}}"},
	}
	call, err := NewBuilder(nil).Build(form, map[string]any{"user": "ann"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "user=ann", string(call.Body))
	assert.Equal(t, "application/x-www-form-urlencoded", call.Header.Get("Content-Type"))

	raw := &storage.Request{URL: "https://x", BodyType: storage.BodyRaw, BodyRaw: "hello {{user}}"}
	call, err = NewBuilder(nil).Build(raw, map[string]any{"user": "ann"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello ann", string(call.Body))
	assert.Empty(t, call.Header.Get("Content-Type"))
}

func TestBuildAuth(t *testing.T) {
	vars := map[string]any{"user": "ann", "token": "t0k"}

	basic := &storage.Request{URL: "https://x", AuthType: storage.AuthBasic,
		AuthBasic: storage.BasicAuth{Username: "{{user}}", Password: "pw"}}
	call, err := NewBuilder(nil).Build(basic, vars, nil)
	require.NoError(t, err)
	require.NotNil(t, call.BasicAuth)
	assert.Equal(t, storage.BasicAuth{Username: "ann", Password: "pw"}, *call.BasicAuth)

	bearer := &storage.Request{URL: "https://x", AuthType: storage.AuthBearer, AuthBearer: "{{token}}"}
	call, err = NewBuilder(nil).Build(bearer, vars, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer t0k", call.Header.Get("Authorization"))

	bearer.Headers = map[string]string{"Authorization": "Custom abc"}
	call, err = NewBuilder(nil).Build(bearer, vars, nil)
	require.NoError(t, err)
	assert.Equal(t, "Custom abc", call.Header.Get("Authorization"))

	bearer.Headers = nil
	bearer.AuthBearer = ""
	call, err = NewBuilder(nil).Build(bearer, vars, nil)
	require.NoError(t, err)
	assert.Empty(t, call.Header.Get("Authorization"))
}

func TestTimeout(t *testing.T) {
	assert.Equal(t, time.Millisecond, Timeout(0))
	assert.Equal(t, time.Millisecond, Timeout(-5))
	assert.Equal(t, 1500*time.Millisecond, Timeout(1500))
}
