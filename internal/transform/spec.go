// Package transform rewrites JSON request bodies before dispatch: field
// overrides (optionally with a random timestamp suffix) followed by hash
// signatures computed from the overridden body.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpec is wrapped by every validation failure of a transform spec.
var ErrInvalidSpec = errors.New("invalid body transform spec")

// Supported signature algorithms.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// Spec is the body_transforms document attached to a request.
type Spec struct {
	Overrides  []Override  `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Signatures []Signature `json:"signatures,omitempty" yaml:"signatures,omitempty"`
}

// Override writes a (variable-resolved) value at TargetPath.
type Override struct {
	TargetPath string `json:"target_path" yaml:"target_path" jsonschema:"minLength=1"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	IsRandom   bool   `json:"is_random,omitempty" yaml:"is_random,omitempty"`
	CharLimit  int    `json:"char_limit,omitempty" yaml:"char_limit,omitempty" jsonschema:"minimum=0"`
}

// Signature hashes the concatenation of Components and writes the hex digest
// at TargetPath. Components is a comma separated list of "quoted" literals
// and dotted body paths.
type Signature struct {
	TargetPath string `json:"target_path" yaml:"target_path" jsonschema:"minLength=1"`
	Algorithm  string `json:"algorithm" yaml:"algorithm" jsonschema:"enum=sha256,enum=sha512"`
	Components string `json:"components" yaml:"components" jsonschema:"minLength=1"`
}

// IsEmpty reports whether the spec has nothing to apply.
func (s *Spec) IsEmpty() bool {
	return s == nil || (len(s.Overrides) == 0 && len(s.Signatures) == 0)
}

// ValidationError is a single problem found in a spec.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// SpecError collects every ValidationError of a spec.
type SpecError struct {
	Errors []ValidationError
}

func (e *SpecError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidSpec, strings.Join(msgs, "; "))
}

func (e *SpecError) Unwrap() error { return ErrInvalidSpec }

// Validate checks the semantic rules the JSON schema cannot express.
func (s *Spec) Validate() error {
	if s == nil {
		return nil
	}
	var errs []ValidationError
	for i, o := range s.Overrides {
		path := fmt.Sprintf("overrides[%d]", i)
		if strings.Trim(o.TargetPath, ".") == "" {
			errs = append(errs, ValidationError{Path: path + ".target_path", Message: "target_path is required"})
		}
		if o.CharLimit < 0 {
			errs = append(errs, ValidationError{Path: path + ".char_limit", Message: "char_limit must not be negative"})
		}
	}
	for i, sig := range s.Signatures {
		path := fmt.Sprintf("signatures[%d]", i)
		if strings.Trim(sig.TargetPath, ".") == "" {
			errs = append(errs, ValidationError{Path: path + ".target_path", Message: "target_path is required"})
		}
		switch strings.ToLower(sig.Algorithm) {
		case AlgorithmSHA256, AlgorithmSHA512:
		default:
			errs = append(errs, ValidationError{Path: path + ".algorithm", Message: fmt.Sprintf("unsupported algorithm %q", sig.Algorithm)})
		}
		comps, err := ParseComponents(sig.Components)
		if err != nil {
			errs = append(errs, ValidationError{Path: path + ".components", Message: err.Error()})
		} else if len(comps) == 0 {
			errs = append(errs, ValidationError{Path: path + ".components", Message: "components is required"})
		}
	}
	if len(errs) > 0 {
		return &SpecError{Errors: errs}
	}
	return nil
}

// Parse validates raw JSON against the spec schema and decodes it.
func Parse(raw []byte) (*Spec, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, &SpecError{Errors: []ValidationError{{Message: fmt.Sprintf("decode: %v", err)}}}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Component is one element of a signature's components list.
type Component struct {
	Literal bool
	Value   string // literal text, or the body path
}

// ParseComponents splits a components string on commas outside of quotes.
// Quoted tokens are literals; anything else is a path. Whitespace around
// commas is ignored and empty tokens are dropped.
func ParseComponents(s string) ([]Component, error) {
	var (
		comps   []Component
		current strings.Builder
		quoted  bool
	)
	flush := func() error {
		tok := strings.TrimSpace(current.String())
		current.Reset()
		if tok == "" {
			return nil
		}
		if strings.HasPrefix(tok, `"`) {
			if len(tok) < 2 || !strings.HasSuffix(tok, `"`) {
				return fmt.Errorf("unterminated literal %s", tok)
			}
			comps = append(comps, Component{Literal: true, Value: tok[1 : len(tok)-1]})
			return nil
		}
		comps = append(comps, Component{Value: tok})
		return nil
	}

	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated literal in %q", s)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return comps, nil
}
