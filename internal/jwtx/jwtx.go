// Package jwtx inspects bearer tokens without verifying their signature.
// The client only needs the expiry claim to decide whether a token is worth
// sending; actual validation is the server's job.
package jwtx

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is the margin applied to expiry checks so a token about to
// expire is refreshed proactively instead of being used and rejected.
const DefaultSkew = 30 * time.Second

// NowFunc returns the current time. It can be overridden in tests.
var NowFunc = time.Now

var parser = jwtlib.NewParser()

// ExpiresAt returns the expiry time of the token's exp claim. The boolean is
// false when the token is structurally malformed or carries no usable exp
// claim; such tokens are never trusted.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwtlib.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IsExpired reports whether the token should be treated as expired, applying
// the given skew margin. Malformed tokens and tokens without a numeric exp
// claim are always expired (fail closed).
func IsExpired(token string, skew time.Duration) bool {
	if token == "" {
		return true
	}
	exp, ok := ExpiresAt(token)
	if !ok {
		return true
	}
	return !exp.After(NowFunc().Add(skew))
}
