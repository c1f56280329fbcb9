// Package jsonpath reads and writes values at dotted paths inside decoded JSON.
//
// A path such as "data.items.0.id" walks object keys and array indices.
// Leading and trailing dots are ignored and an empty path addresses the
// document itself.
package jsonpath

import (
	"strconv"
	"strings"
)

// Segments splits a dotted path into its non-empty segments.
func Segments(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get returns the value at path, or nil when any segment does not resolve.
func Get(doc any, path string) any {
	v, _ := Lookup(doc, path)
	return v
}

// Lookup is Get that also reports whether the path resolved.
func Lookup(doc any, path string) (any, bool) {
	current := doc
	for _, seg := range Segments(path) {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path and reports whether the write happened.
// Missing intermediate objects are created when the segment addressing them
// is not an integer; anything else (index out of range, scalar in the way,
// empty path) fails silently.
func Set(doc any, path string, value any) bool {
	segs := Segments(path)
	if len(segs) == 0 {
		return false
	}

	current := doc
	for i, seg := range segs[:len(segs)-1] {
		next := segs[i+1]
		switch node := current.(type) {
		case map[string]any:
			child, ok := node[seg]
			if !ok || child == nil {
				if isIndex(next) {
					return false
				}
				child = make(map[string]any)
				node[seg] = child
			}
			current = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return false
			}
			if node[idx] == nil {
				if isIndex(next) {
					return false
				}
				node[idx] = make(map[string]any)
			}
			current = node[idx]
		default:
			return false
		}
	}

	last := segs[len(segs)-1]
	switch node := current.(type) {
	case map[string]any:
		node[last] = value
		return true
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(node) {
			return false
		}
		node[idx] = value
		return true
	default:
		return false
	}
}

func isIndex(seg string) bool {
	_, err := strconv.Atoi(seg)
	return err == nil
}
