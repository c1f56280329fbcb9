package transform

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fixedEngine() *Engine {
	return &Engine{Now: func() time.Time {
		return time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.Local)
	}}
}

func TestSignatureFromPathAndLiterals(t *testing.T) {
	body := map[string]any{"t": map[string]any{"id": "abc"}}
	spec := &Spec{Signatures: []Signature{{
		TargetPath: "t.sig",
		Algorithm:  "sha512",
		Components: `t.id,"|","suffix"`,
	}}}

	applied := fixedEngine().Apply(body, spec, nil)

	want := sha512Hex("abc|suffix")
	assert.Equal(t, want, body["t"].(map[string]any)["sig"])
	require.Len(t, applied, 1)
	assert.Equal(t, Applied{Kind: KindSignature, Path: "t.sig", Value: want}, applied[0])
}

func TestSignatureDeterministic(t *testing.T) {
	spec := &Spec{Signatures: []Signature{{TargetPath: "sig", Algorithm: "sha256", Components: `a , "-" , b`}}}
	first := map[string]any{"a": "x", "b": 3.0}
	second := map[string]any{"a": "x", "b": 3.0}

	e := fixedEngine()
	e.Apply(first, spec, nil)
	e.Apply(second, spec, nil)

	assert.Equal(t, first["sig"], second["sig"])
	assert.Equal(t, sha256Hex("x-3"), first["sig"])
}

func TestSignatureNullComponentIsEmpty(t *testing.T) {
	body := map[string]any{"a": nil}
	spec := &Spec{Signatures: []Signature{{TargetPath: "sig", Algorithm: "sha256", Components: `a,missing,"k"`}}}
	fixedEngine().Apply(body, spec, nil)
	assert.Equal(t, sha256Hex("k"), body["sig"])
}

func TestSignatureBooleanComponents(t *testing.T) {
	body := map[string]any{"active": true, "deleted": false, "n": 7.0}
	spec := &Spec{Signatures: []Signature{{TargetPath: "sig", Algorithm: "sha256", Components: `active,"|",deleted,"|",n`}}}
	fixedEngine().Apply(body, spec, nil)
	assert.Equal(t, sha256Hex("True|False|7"), body["sig"])
}

func TestSignatureResolvesTemplatedValues(t *testing.T) {
	body := map[string]any{"key": "{{secret}}"}
	spec := &Spec{Signatures: []Signature{{TargetPath: "sig", Algorithm: "sha256", Components: `key`}}}
	fixedEngine().Apply(body, spec, map[string]any{"secret": "s3"})
	assert.Equal(t, sha256Hex("s3"), body["sig"])
}

func TestOverrideBeforeSignature(t *testing.T) {
	spec := &Spec{
		Signatures: []Signature{{TargetPath: "sig", Algorithm: "sha256", Components: `amount,"|",currency`}},
	}
	plain := map[string]any{"amount": "10", "currency": "USD"}
	fixedEngine().Apply(plain, spec, nil)

	spec.Overrides = []Override{{TargetPath: "amount", Value: "{{amt}}"}}
	overridden := map[string]any{"amount": "10", "currency": "USD"}
	applied := fixedEngine().Apply(overridden, spec, map[string]any{"amt": "25"})

	assert.Equal(t, "25", overridden["amount"])
	assert.Equal(t, sha256Hex("25|USD"), overridden["sig"])
	assert.NotEqual(t, plain["sig"], overridden["sig"])
	require.Len(t, applied, 2)
	assert.Equal(t, KindOverride, applied[0].Kind)
	assert.Equal(t, KindSignature, applied[1].Kind)
}

func TestRandomOverrideWithCharLimit(t *testing.T) {
	body := map[string]any{"order": map[string]any{}}
	spec := &Spec{Overrides: []Override{{TargetPath: "order.ref", Value: "ORDER12345", IsRandom: true, CharLimit: 20}}}

	fixedEngine().Apply(body, spec, nil)

	got := body["order"].(map[string]any)["ref"].(string)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 20)
	assert.True(t, strings.HasPrefix(got, "ORDER12345"), got)
	assert.Equal(t, "ORDER1234520260304-0", got)
}

func TestRandomValueFormat(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.Local)
	assert.Equal(t, "ABCDEFGHIJ20260304-050607.123456789", RandomValue("ABCDEFGHIJKLMNOP", 0, now))
	assert.Equal(t, "ab20260304-050607.123456789", RandomValue("ab", 0, now))
	assert.Equal(t, "ABCDEFGHIJ", RandomValue("ABCDEFGHIJ", 5, now))
}

func TestRandomValueAcceptsPrecomputed(t *testing.T) {
	now := time.Date(2027, 1, 2, 3, 4, 5, 0, time.Local)

	client := "ORDER1234520250101-101010.000111222"
	assert.Equal(t, client, RandomValue(client, 0, now))

	short := "ID20261016-101112.123456789"
	assert.Equal(t, short, RandomValue(short, 0, now))

	truncated := "ORDER1234520261016-1"
	assert.Equal(t, truncated, RandomValue(truncated, 20, now))
}

func TestRandomValueRecomputesPartialSuffixWithoutLimit(t *testing.T) {
	now := time.Date(2027, 1, 2, 3, 4, 5, 0, time.Local)
	assert.Equal(t, "ORDER1234520270102-030405.000000000", RandomValue("ORDER1234520261016-1", 0, now))
	assert.Equal(t, "ORDER1234520270102-0", RandomValue("ORDER1234520261016-1234", 20, now))
}

func TestApplyNonMapBodyIsNoop(t *testing.T) {
	spec := &Spec{Overrides: []Override{{TargetPath: "a", Value: "x"}}}
	body := []any{"a"}
	assert.Nil(t, fixedEngine().Apply(body, spec, nil))
	assert.Equal(t, []any{"a"}, body)
}

func TestUnsupportedAlgorithmSkipped(t *testing.T) {
	body := map[string]any{"a": "x"}
	spec := &Spec{Signatures: []Signature{{TargetPath: "sig", Algorithm: "md5", Components: "a"}}}
	assert.Empty(t, fixedEngine().Apply(body, spec, nil))
	assert.NotContains(t, body, "sig")
}

func TestParseComponents(t *testing.T) {
	comps, err := ParseComponents(` t.id , "a,b" ,"",x `)
	require.NoError(t, err)
	assert.Equal(t, []Component{
		{Value: "t.id"},
		{Literal: true, Value: "a,b"},
		{Literal: true, Value: ""},
		{Value: "x"},
	}, comps)

	_, err = ParseComponents(`a,"open`)
	assert.Error(t, err)
}

func TestParseValidSpec(t *testing.T) {
	spec, err := Parse([]byte(`{
		"overrides": [{"target_path": "a.b", "value": "{{x}}", "is_random": true, "char_limit": 12}],
		"signatures": [{"target_path": "sig", "algorithm": "sha256", "components": "a.b,\"k\""}]
	}`))
	require.NoError(t, err)
	require.Len(t, spec.Overrides, 1)
	assert.Equal(t, 12, spec.Overrides[0].CharLimit)
	assert.Equal(t, "sha256", spec.Signatures[0].Algorithm)
}

func TestParseRejectsMalformedSpec(t *testing.T) {
	cases := map[string]string{
		"bad algorithm":     `{"signatures": [{"target_path": "s", "algorithm": "md5", "components": "a"}]}`,
		"missing path":      `{"overrides": [{"value": 1}]}`,
		"negative limit":    `{"overrides": [{"target_path": "a", "char_limit": -1}]}`,
		"wrong type":        `{"overrides": "nope"}`,
		"not json":          `{"overrides": [`,
		"empty components":  `{"signatures": [{"target_path": "s", "algorithm": "sha256", "components": " , "}]}`,
		"unterminated lit.": `{"signatures": [{"target_path": "s", "algorithm": "sha256", "components": "\"abc"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSpec), "error %v should wrap ErrInvalidSpec", err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	spec, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
}
