// Package auth verifies the bearer token supplied at connection
// handshake. Token issuance and password hashing are a sibling
// service's job; this core only ever verifies.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/duoline/chatcore/internal/apperr"
)

// Verifier checks a bearer token and resolves it to a user id.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier from the jwt.secret configuration value.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, returning the "sub" claim as
// an integer user id. Expiry is enforced by jwt.ParseWithClaims itself.
func (v *Verifier) Verify(tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, apperr.New(apperr.AuthFailed, "missing bearer token")
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil || !tok.Valid {
		return 0, apperr.Wrap(apperr.AuthFailed, "token verification failed", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, apperr.New(apperr.AuthFailed, "missing sub claim")
	}

	uid, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.AuthFailed, "sub claim is not a user id", err)
	}

	return uid, nil
}

// ParseExpiresIn converts the jwt.expiresIn config string (e.g. "24h",
// "15m") into a Duration. Nothing in this module calls it; verification
// relies on the token's own exp claim.
func ParseExpiresIn(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("auth: jwt.expiresIn is empty")
	}
	return time.ParseDuration(s)
}
