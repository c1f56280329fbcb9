package transform

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"regexp"
	"strings"
	"time"

	"github.com/josepht96/scoutrun/internal/jsonpath"
	"github.com/josepht96/scoutrun/internal/variables"
)

// TimestampLayout is the random-suffix format: YYYYMMDD-HHMMSS.mmmnnnnnn.
const TimestampLayout = "20060102-150405.000000000"

// randomBaseLen is how many characters of the base value are kept.
const randomBaseLen = 10

// Client-generated timestamp suffixes. A partial suffix is one cut short to
// fit a char_limit.
var (
	precomputedSuffix = regexp.MustCompile(`^\d{8}-\d{6}(\.\d{0,9})?$`)
	partialSuffix     = regexp.MustCompile(`^\d{8}-(\d{0,5}|\d{6}(\.\d{0,9})?)$`)
)

// Kinds of applied transforms.
const (
	KindOverride  = "override"
	KindSignature = "signature"
)

// Applied records one write made to the body.
type Applied struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Engine applies transform specs. Now supplies the wall clock used for
// random suffixes and defaults to time.Now.
type Engine struct {
	Now func() time.Time
}

// NewEngine returns an Engine using the local wall clock.
func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// Apply runs all overrides, then all signatures, against body in place.
// Bodies that are not JSON objects are left untouched.
func (e *Engine) Apply(body any, spec *Spec, vars map[string]any) []Applied {
	doc, ok := body.(map[string]any)
	if !ok || spec.IsEmpty() {
		return nil
	}

	var applied []Applied
	for _, o := range spec.Overrides {
		value := variables.Resolve(o.Value, vars)
		if o.IsRandom {
			value = RandomValue(variables.Stringify(value), o.CharLimit, e.now())
		}
		if jsonpath.Set(doc, o.TargetPath, value) {
			applied = append(applied, Applied{Kind: KindOverride, Path: o.TargetPath, Value: value})
		}
	}

	for _, sig := range spec.Signatures {
		digest, ok := Sign(doc, sig, vars)
		if !ok {
			continue
		}
		if jsonpath.Set(doc, sig.TargetPath, digest) {
			applied = append(applied, Applied{Kind: KindSignature, Path: sig.TargetPath, Value: digest})
		}
	}
	return applied
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// RandomValue keeps the first ten characters of base and appends a
// timestamp, cutting the timestamp short when charLimit would be exceeded.
// A base that already carries a timestamp suffix is returned unchanged.
func RandomValue(base string, charLimit int, now time.Time) string {
	runes := []rune(base)
	if isPrecomputed(runes, charLimit) {
		return base
	}
	if len(runes) > randomBaseLen {
		runes = runes[:randomBaseLen]
	}
	prefix := string(runes)
	stamp := now.Local().Format(TimestampLayout)

	if charLimit > 0 && len(runes)+len(stamp) > charLimit {
		room := charLimit - len(runes)
		if room < 0 {
			room = 0
		}
		stamp = stamp[:room]
	}
	return prefix + stamp
}

// isPrecomputed reports whether runes is a prefix of at most ten characters
// followed by a timestamp suffix. A truncated suffix only counts when the
// value already fits within charLimit.
func isPrecomputed(runes []rune, charLimit int) bool {
	for start := 1; start <= randomBaseLen && start < len(runes); start++ {
		suffix := string(runes[start:])
		if precomputedSuffix.MatchString(suffix) {
			return true
		}
		if charLimit > 0 && len(runes) <= charLimit && partialSuffix.MatchString(suffix) {
			return true
		}
	}
	return false
}

// Sign computes the lowercase hex digest described by sig over doc.
// It returns false for an unknown algorithm or unparsable components.
func Sign(doc any, sig Signature, vars map[string]any) (string, bool) {
	h := newHash(sig.Algorithm)
	if h == nil {
		return "", false
	}
	comps, err := ParseComponents(sig.Components)
	if err != nil {
		return "", false
	}

	var sb strings.Builder
	for _, c := range comps {
		if c.Literal {
			sb.WriteString(c.Value)
			continue
		}
		v := jsonpath.Get(doc, c.Value)
		if s, ok := v.(string); ok {
			v = variables.ResolveString(s, vars)
		}
		sb.WriteString(componentString(v))
	}

	h.Write([]byte(sb.String()))
	return hex.EncodeToString(h.Sum(nil)), true
}

// componentString renders a signature component. Booleans render as
// True/False to match the signatures produced by existing clients.
func componentString(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "True"
		}
		return "False"
	}
	return variables.Stringify(v)
}

func newHash(algorithm string) hash.Hash {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA256:
		return sha256.New()
	case AlgorithmSHA512:
		return sha512.New()
	default:
		return nil
	}
}
