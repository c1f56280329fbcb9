// Package assertion evaluates declarative checks against an HTTP response.
package assertion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/josepht96/scoutrun/internal/jsonpath"
)

// Assertion types.
const (
	TypeStatusCode   = "status_code"
	TypeJSONPath     = "json_path"
	TypeHeader       = "header"
	TypeBodyContains = "body_contains"
)

// Comparators.
const (
	Equals   = "equals"
	Contains = "contains"
	LT       = "lt"
	LTE      = "lte"
	GT       = "gt"
	GTE      = "gte"
	Subset   = "subset"
)

// Messages shared with clients.
const (
	MsgUnsupported = "Unsupported assertion type"
	MsgNotJSON     = "Response body is not JSON"
)

// ErrInvalidAssertion is returned by Validate.
var ErrInvalidAssertion = errors.New("invalid assertion")

// allowed lists the comparators each type accepts. An empty comparator means equals.
var allowed = map[string]map[string]bool{
	TypeStatusCode:   {Equals: true},
	TypeBodyContains: {Equals: true},
	TypeJSONPath:     {Equals: true, Contains: true, LT: true, LTE: true, GT: true, GTE: true, Subset: true},
	TypeHeader:       {Equals: true, Contains: true, LT: true, LTE: true, GT: true, GTE: true},
}

// Assertion is a declarative condition attached to a request.
type Assertion struct {
	ID            int64  `json:"id,omitempty" yaml:"-"`
	RequestID     int64  `json:"request_id,omitempty" yaml:"-"`
	Type          string `json:"type" yaml:"type"`
	Field         string `json:"field,omitempty" yaml:"field,omitempty"`
	ExpectedValue string `json:"expected_value" yaml:"expected_value"`
	Comparator    string `json:"comparator,omitempty" yaml:"comparator,omitempty"`
	AllowPartial  bool   `json:"allow_partial,omitempty" yaml:"allow_partial,omitempty"`
}

// comparator returns the effective comparator.
func (a Assertion) comparator() string {
	if a.Comparator == "" {
		return Equals
	}
	return strings.ToLower(a.Comparator)
}

// Validate reports whether the type/comparator combination is supported.
func Validate(a Assertion) error {
	comps, ok := allowed[a.Type]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAssertion, a.Type)
	}
	if !comps[a.comparator()] {
		return fmt.Errorf("%w: comparator %q is not valid for %s", ErrInvalidAssertion, a.Comparator, a.Type)
	}
	if (a.Type == TypeJSONPath || a.Type == TypeHeader) && strings.TrimSpace(a.Field) == "" {
		return fmt.Errorf("%w: %s requires a field", ErrInvalidAssertion, a.Type)
	}
	return nil
}

// Diagnostic is the recorded outcome of one assertion.
type Diagnostic struct {
	ID       int64  `json:"id,omitempty"`
	Type     string `json:"type"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected"`
	Actual   any    `json:"actual"`
	Message  string `json:"message"`
}

// Response is the part of an HTTP response assertions look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Outcome holds the diagnostics of one evaluation.
type Outcome struct {
	Passed []Diagnostic
	Failed []Diagnostic
}

// OK reports whether no assertion failed.
func (o Outcome) OK() bool { return len(o.Failed) == 0 }

// Evaluate checks every assertion against resp. The body is decoded as JSON
// at most once.
func Evaluate(assertions []Assertion, resp *Response) Outcome {
	out := Outcome{Passed: []Diagnostic{}, Failed: []Diagnostic{}}
	ev := &evaluator{resp: resp}
	for _, a := range assertions {
		d, ok := ev.eval(a)
		if ok {
			out.Passed = append(out.Passed, d)
		} else {
			out.Failed = append(out.Failed, d)
		}
	}
	return out
}

type evaluator struct {
	resp    *Response
	parsed  bool
	doc     any
	jsonErr error
}

func (e *evaluator) json() (any, error) {
	if !e.parsed {
		e.parsed = true
		dec := json.NewDecoder(bytes.NewReader(e.resp.Body))
		dec.UseNumber()
		if err := dec.Decode(&e.doc); err != nil {
			e.jsonErr = err
		} else if dec.More() {
			e.jsonErr = errors.New("trailing data after JSON value")
		}
		e.doc = normalize(e.doc)
	}
	return e.doc, e.jsonErr
}

func (e *evaluator) eval(a Assertion) (Diagnostic, bool) {
	d := Diagnostic{ID: a.ID, Type: a.Type, Field: a.Field, Expected: a.ExpectedValue}
	if err := Validate(a); err != nil {
		d.Message = MsgUnsupported
		return d, false
	}

	switch a.Type {
	case TypeStatusCode:
		return e.statusCode(a, d)
	case TypeJSONPath:
		return e.jsonPath(a, d)
	case TypeHeader:
		return e.header(a, d)
	case TypeBodyContains:
		return e.bodyContains(a, d)
	}
	d.Message = MsgUnsupported
	return d, false
}

func (e *evaluator) statusCode(a Assertion, d Diagnostic) (Diagnostic, bool) {
	d.Actual = e.resp.StatusCode
	want, err := strconv.Atoi(strings.TrimSpace(a.ExpectedValue))
	if err != nil {
		d.Message = fmt.Sprintf("expected status code %q is not an integer", a.ExpectedValue)
		return d, false
	}
	if e.resp.StatusCode != want {
		d.Message = fmt.Sprintf("status code %d != %d", e.resp.StatusCode, want)
		return d, false
	}
	d.Message = fmt.Sprintf("status code %d == %d", e.resp.StatusCode, want)
	return d, true
}

func (e *evaluator) jsonPath(a Assertion, d Diagnostic) (Diagnostic, bool) {
	doc, err := e.json()
	if err != nil {
		d.Message = MsgNotJSON
		return d, false
	}
	actual, found := jsonpath.Lookup(doc, a.Field)
	d.Actual = actual
	if !found {
		d.Message = fmt.Sprintf("path %q not found", a.Field)
		return d, false
	}
	return compare(a, d, actual, parseExpected(a.ExpectedValue))
}

func (e *evaluator) header(a Assertion, d Diagnostic) (Diagnostic, bool) {
	values := e.resp.Header.Values(a.Field)
	if len(values) == 0 {
		d.Message = fmt.Sprintf("header %q not present", a.Field)
		return d, false
	}
	actual := strings.Join(values, ", ")
	d.Actual = actual
	return compare(a, d, actual, a.ExpectedValue)
}

func (e *evaluator) bodyContains(a Assertion, d Diagnostic) (Diagnostic, bool) {
	d.Actual = truncate(string(e.resp.Body), 200)
	if strings.Contains(string(e.resp.Body), a.ExpectedValue) {
		d.Message = fmt.Sprintf("body contains %q", a.ExpectedValue)
		return d, true
	}
	d.Message = fmt.Sprintf("body does not contain %q", a.ExpectedValue)
	return d, false
}

// compare applies the assertion's comparator to actual and expected.
func compare(a Assertion, d Diagnostic, actual, expected any) (Diagnostic, bool) {
	switch op := a.comparator(); op {
	case Equals:
		if valuesEqual(actual, expected, a.ExpectedValue) ||
			(a.AllowPartial && isSubset(expected, actual)) {
			d.Message = fmt.Sprintf("%s equals %s", describe(a), a.ExpectedValue)
			return d, true
		}
		d.Message = fmt.Sprintf("%s: expected %s, got %s", describe(a), a.ExpectedValue, render(actual))
		return d, false

	case Contains:
		s, ok := actual.(string)
		if !ok {
			d.Message = fmt.Sprintf("%s: contains requires a string, got %T", describe(a), actual)
			return d, false
		}
		if strings.Contains(s, a.ExpectedValue) {
			d.Message = fmt.Sprintf("%s contains %q", describe(a), a.ExpectedValue)
			return d, true
		}
		d.Message = fmt.Sprintf("%s: %q does not contain %q", describe(a), s, a.ExpectedValue)
		return d, false

	case LT, LTE, GT, GTE:
		left, lerr := toFloat64(actual)
		right, rerr := toFloat64(a.ExpectedValue)
		if lerr != nil || rerr != nil {
			d.Message = fmt.Sprintf("%s: %s requires numeric values, got %s and %q", describe(a), op, render(actual), a.ExpectedValue)
			return d, false
		}
		var ok bool
		switch op {
		case LT:
			ok = left < right
		case LTE:
			ok = left <= right
		case GT:
			ok = left > right
		case GTE:
			ok = left >= right
		}
		if ok {
			d.Message = fmt.Sprintf("%s %v %s %v", describe(a), left, op, right)
			return d, true
		}
		d.Message = fmt.Sprintf("%s: expected %s %v, got %v", describe(a), op, right, left)
		return d, false

	case Subset:
		want, wok := expected.(map[string]any)
		got, gok := actual.(map[string]any)
		if !wok || !gok {
			d.Message = fmt.Sprintf("%s: subset requires objects on both sides", describe(a))
			return d, false
		}
		if isSubset(want, got) {
			d.Message = fmt.Sprintf("%s contains subset %s", describe(a), a.ExpectedValue)
			return d, true
		}
		d.Message = fmt.Sprintf("%s: %s is not a subset of %s", describe(a), a.ExpectedValue, render(actual))
		return d, false
	}

	d.Message = MsgUnsupported
	return d, false
}

func describe(a Assertion) string {
	if a.Field == "" {
		return a.Type
	}
	return fmt.Sprintf("%s %s", a.Type, a.Field)
}

// parseExpected decodes an expected value as JSON, falling back to the raw string.
func parseExpected(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return normalize(v)
}

// valuesEqual compares decoded JSON values. A string actual also matches the
// raw expected text, so "5" equals the string "5" as well as the number 5.
func valuesEqual(actual, expected any, raw string) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	if s, ok := actual.(string); ok && s == raw {
		return true
	}
	return false
}

// isSubset reports whether every key of want is matched in got. Nested
// objects are matched recursively; lists match when each wanted element is
// found somewhere in the actual list.
func isSubset(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !isSubset(wv, gv) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, gv := range g {
				if isSubset(wv, gv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(want, got)
	}
}

// normalize converts json.Number to float64 throughout a decoded document.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	default:
		return v
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
