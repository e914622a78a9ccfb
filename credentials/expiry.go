package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ExpiresWithin reports whether the access token's "exp" claim falls within
// the next d. The token is parsed without signature verification - the client
// only needs the expiry hint, the server remains the authority on validity.
// Returns false when the token is absent, opaque, or carries no expiry.
func (p Pair) ExpiresWithin(d time.Duration) bool {
	if p.AccessToken == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(p.AccessToken, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}

	return !NowTimeFunc().Add(d).Before(claims.ExpiresAt.Time)
}
