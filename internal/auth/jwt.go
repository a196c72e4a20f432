package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromToken reads the exp claim of a bearer token without verifying
// it; the server owns the signing key. Opaque or exp-less tokens yield the
// zero time.
func ExpiryFromToken(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time.UTC()
}
