package variables

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestResolveString(t *testing.T) {
	vars := map[string]any{"base_url": "https://x", "id": 42.0, "flag": true}

	assert.Equal(t, "https://x/widgets", ResolveString("{{base_url}}/widgets", vars))
	assert.Equal(t, "https://x/widgets/42", ResolveString("{{ base_url }}/widgets/{{id}}", vars))
	assert.Equal(t, "enabled=true", ResolveString("enabled={{flag}}", vars))
}

func TestResolveUnknownStaysLiteral(t *testing.T) {
	assert.Equal(t, "{{missing}}", Resolve("{{missing}}", map[string]any{}))
	assert.Equal(t, "a {{missing}} b", ResolveString("a {{missing}} b", map[string]any{"other": "x"}))
}

func TestResolveDeepStructure(t *testing.T) {
	in := map[string]any{"a": []any{map[string]any{"b": "{{k}}"}}}
	want := map[string]any{"a": []any{map[string]any{"b": "v"}}}

	got := Resolve(in, map[string]any{"k": "v"})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
	// input untouched
	assert.Equal(t, "{{k}}", in["a"].([]any)[0].(map[string]any)["b"])
}

func TestResolveKeysUntouched(t *testing.T) {
	got := Resolve(map[string]any{"{{k}}": "{{k}}"}, map[string]any{"k": "v"})
	assert.Equal(t, map[string]any{"{{k}}": "v"}, got)
}

func TestResolveNonStringPassthrough(t *testing.T) {
	vars := map[string]any{"k": "v"}
	assert.Equal(t, 3.5, Resolve(3.5, vars))
	assert.Equal(t, true, Resolve(true, vars))
	assert.Nil(t, Resolve(nil, vars))
}

func TestResolveIdempotent(t *testing.T) {
	vars := map[string]any{"host": "api.local", "token": "abc", "n": 7.0}
	inputs := []any{
		"{{host}}/{{missing}}",
		map[string]any{"h": "{{host}}", "l": []any{"{{token}}", 1.0, nil, "{{n}}"}},
		[]any{"x", "{{ host }}"},
		map[string]string{"Authorization": "Bearer {{token}}"},
	}
	for _, in := range inputs {
		once := Resolve(in, vars)
		twice := Resolve(once, vars)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("resolve not idempotent for %v (-once +twice):\n%s", in, diff)
		}
	}
}

func TestResolveSinglePass(t *testing.T) {
	vars := map[string]any{"base_url": "{{scheme}}://{{host}}", "scheme": "https", "host": "y"}
	assert.Equal(t, "{{scheme}}://{{host}}/a", ResolveString("{{base_url}}/a", vars))

	vars = map[string]any{"tmpl": "Hello {{name}}", "name": "x"}
	assert.Equal(t, `{"t":"Hello {{name}}"}`, ResolveString(`{"t":"{{tmpl}}"}`, vars))
}

func TestResolveDeepNesting(t *testing.T) {
	var doc any = "{{leaf}}"
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			doc = map[string]any{"n": doc}
		} else {
			doc = []any{doc}
		}
	}
	got := Resolve(doc, map[string]any{"leaf": "ok"})
	for i := 199; i >= 0; i-- {
		if i%2 == 0 {
			got = got.(map[string]any)["n"]
		} else {
			got = got.([]any)[0]
		}
	}
	assert.Equal(t, "ok", got)
}

func TestMergeLaterWins(t *testing.T) {
	merged := Merge(map[string]any{"base_url": "https://x", "a": 1}, map[string]any{"base_url": "https://y"})
	assert.Equal(t, "https://y", merged["base_url"])
	assert.Equal(t, 1, merged["a"])
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "10", Stringify(10.0))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b.c"}, Names("{{a}} and {{ b.c }} and {{}}"))
}
