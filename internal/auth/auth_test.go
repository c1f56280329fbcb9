package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTIdentityRoundTrip(t *testing.T) {
	j := NewJWTIdentity("s3cret")
	token, err := j.Issue("ann", []string{CapRunsTrigger, CapRunsRead}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	id, err := j.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "ann", id.Subject)
	assert.True(t, id.Can(CapRunsTrigger))
	assert.False(t, id.Can(CapCatalogEdit))

	require.NoError(t, Authorize(id, CapRunsRead))
	assert.ErrorIs(t, Authorize(id, CapReports), ErrForbidden)
	assert.ErrorIs(t, Authorize(nil, CapReports), ErrUnauthenticated)
}

func TestJWTIdentityRejects(t *testing.T) {
	j := NewJWTIdentity("s3cret")

	missing := httptest.NewRequest("GET", "/", nil)
	_, err := j.Authenticate(missing)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewJWTIdentity("different").Issue("ann", nil, time.Hour)
	require.NoError(t, err)
	_, err = j.Verify(other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired, err := j.Issue("ann", nil, -time.Minute)
	require.NoError(t, err)
	_, err = j.Verify(expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	noSubject, err := j.Issue("", nil, time.Hour)
	require.NoError(t, err)
	_, err = j.Verify(noSubject)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.Verify(none)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAnonymousHasEveryCapability(t *testing.T) {
	id, err := Anonymous{}.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	for _, c := range AllCapabilities {
		assert.True(t, id.Can(c), c)
	}
}

func TestTokenBucketLimiterPerActor(t *testing.T) {
	l := NewTokenBucketLimiter(1, 2)
	assert.True(t, l.Allow("ann"))
	assert.True(t, l.Allow("ann"))
	assert.False(t, l.Allow("ann"))
	assert.True(t, l.Allow("bob"))
}

func TestTokenBucketLimiterDisabled(t *testing.T) {
	l := NewTokenBucketLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("ann"))
	}
}
