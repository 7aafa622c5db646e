// ABOUTME: JWT token verification for authenticating stream connections
// ABOUTME: Uses HS256 signing; all failure modes collapse to one error for the peer

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrVerificationFailed is the single failure a caller observes. The
// underlying cause (malformed, expired, bad signature, missing claim) is
// preserved in the wrapped error for diagnostics but must never be
// forwarded to the remote peer.
var ErrVerificationFailed = errors.New("token verification failed")

// Verifier validates a bearer credential and extracts the identity claim.
type Verifier interface {
	Verify(credential string) (identity string, err error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs. It is purely
// functional: no side effects beyond consulting the secret supplied at
// construction.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates signature, expiration, and well-formedness, and
// extracts the identity from the "sub" claim.
func (v *JWTVerifier) Verify(credential string) (string, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", ErrVerificationFailed)
		}
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if !token.Valid {
		return "", ErrVerificationFailed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: malformed claims", ErrVerificationFailed)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrVerificationFailed)
	}

	return sub, nil
}

// Generate mints a token for the given identity. Token issuance proper
// lives outside the gateway; this exists for the dev `token` CLI command
// and for tests.
func (v *JWTVerifier) Generate(identity string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
