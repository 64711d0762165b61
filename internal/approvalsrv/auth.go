package approvalsrv

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Validate for an expired, malformed, or
// wrong-signature bearer token.
var ErrInvalidToken = errors.New("approvalsrv: invalid token")

// claims identifies the owner the bearer token was minted for; approval
// actions are scoped to that owner's pending mutations only.
type claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and validates the bearer tokens the approval surface
// accepts. It mirrors the owning daemon's JWT secret — anyone who can mint
// a token here can approve or reject that owner's pending mutations, so the
// secret must be treated the same way the daemon's own auth secret is.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a bearer token scoped to owner.
func (t *tokenIssuer) Issue(owner string) (string, error) {
	now := time.Now()
	c := claims{
		Owner: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(t.secret)
}

// Validate parses token and returns the owner it was scoped to.
func (t *tokenIssuer) Validate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Owner == "" {
		return "", ErrInvalidToken
	}
	return c.Owner, nil
}
