// Package auth identifies API callers from bearer tokens, checks their
// capabilities and rate limits them per actor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned when no valid identity is presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when an identity lacks a capability.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when an actor exceeded its budget.
	ErrRateLimited = errors.New("rate limited")
)

// Capabilities carried in the token scope claim.
const (
	CapRunsTrigger = "runs:trigger"
	CapRunsRead    = "runs:read"
	CapCatalogEdit = "catalog:write"
	CapReports     = "reports:write"
)

// AllCapabilities is granted to anonymous callers when auth is disabled.
var AllCapabilities = []string{CapRunsTrigger, CapRunsRead, CapCatalogEdit, CapReports}

// Identity is an authenticated caller.
type Identity struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

// Can reports whether the identity holds capability.
func (i *Identity) Can(capability string) bool {
	return i != nil && slices.Contains(i.Scopes, capability)
}

// Authorize returns ErrForbidden unless id holds capability.
func Authorize(id *Identity, capability string) error {
	if id == nil {
		return ErrUnauthenticated
	}
	if !id.Can(capability) {
		return fmt.Errorf("%w: %s lacks %s", ErrForbidden, id.Subject, capability)
	}
	return nil
}

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// Anonymous accepts every request as the same all-capable identity.
type Anonymous struct{}

// Authenticate implements Authenticator.
func (Anonymous) Authenticate(*http.Request) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: AllCapabilities}, nil
}

// Claims are the JWT claims scoutrun issues and accepts. Scope is a space
// separated capability list.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTIdentity verifies HS256 bearer tokens.
type JWTIdentity struct {
	secret []byte
	now    func() time.Time
}

// NewJWTIdentity creates a verifier for tokens signed with secret.
func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject with the given capabilities.
func (j *JWTIdentity) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// Authenticate implements Authenticator.
func (j *JWTIdentity) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return j.Verify(strings.TrimSpace(raw))
}

// Verify parses and validates a signed token.
func (j *JWTIdentity) Verify(raw string) (*Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return &Identity{Subject: claims.Subject, Scopes: strings.Fields(claims.Scope)}, nil
}

type contextKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
