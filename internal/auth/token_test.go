// ABOUTME: Tests for JWT verification and the collapsed failure contract
// ABOUTME: Covers round-trip, expiry, wrong secret, wrong alg, missing sub

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte("test-secret-for-streaming"))
	require.NoError(t, err)
	return v
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user-42", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity)
}

func TestJWTVerifier_EmptySecretRejected(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.Error(t, err)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user-42", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewJWTVerifier([]byte("a-different-secret"))
	require.NoError(t, err)

	token, err := other.Generate("user-42", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestJWTVerifier_MalformedToken(t *testing.T) {
	v := newTestVerifier(t)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, ErrVerificationFailed, "token %q", tok)
	}
}

func TestJWTVerifier_MissingSubClaim(t *testing.T) {
	v := newTestVerifier(t)

	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-for-streaming"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestJWTVerifier_RejectsNonHMACAlg(t *testing.T) {
	v := newTestVerifier(t)

	// alg=none tokens must never verify regardless of claims.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
