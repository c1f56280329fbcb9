// Package variables substitutes {{name}} placeholders inside request data.
package variables

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholder matches {{ name }} where name is [A-Za-z0-9_.-]+.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Merge layers variable maps left to right; later maps win.
func Merge(layers ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// Resolve returns a copy of value with every known placeholder substituted.
// Maps are walked by value (keys untouched), slices element by element and
// anything else is returned unchanged. Unknown placeholders stay literal.
// The input is never mutated.
func Resolve(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return ResolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, vars)
		}
		return out
	case map[string]string:
		return ResolveStringMap(v, vars)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = ResolveString(item, vars)
		}
		return out
	default:
		return value
	}
}

// ResolveString substitutes every placeholder in s in a single pass.
// Substituted values are spliced verbatim, braces included.
func ResolveString(s string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			return match
		}
		return Stringify(val)
	})
}

// ResolveStringMap resolves every value of a string map.
func ResolveStringMap(m map[string]string, vars map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ResolveString(v, vars)
	}
	return out
}

// Names lists the placeholder names referenced in s, in order of appearance.
func Names(s string) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}

// Stringify renders a variable value the way it is spliced into text.
// nil becomes the empty string, whole floats drop their fraction and
// composite values are rendered as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case map[string]any, []any, map[string]string, []string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
