package usertoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// Verifier performs a local sanity check of identity provider access
// tokens (HS256 with the provider's project JWT secret) before the
// authoritative remote validation call. It is optional: without the
// secret configured, callers go straight to the provider.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier creates a token verifier from the provider JWT secret.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token verifier requires a secret")
	}
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{secret: []byte(secret), leeway: leeway}, nil
}

// VerifySubject validates the token signature and expiry and returns
// the subject user id.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}
