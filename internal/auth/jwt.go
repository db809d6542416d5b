// Package auth issues and checks the bearer tokens members use to call the
// library API, and decides which role may do what.
//
// IDENTITY:
// The library does not own passwords. A member signs up with the uid handed
// out by the identity provider; the server (or libraryctl token) then issues
// a short-lived HS256 JWT whose "sub" claim is that uid:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"<uid>","iss":"community-library","exp":...}
//
// RequireAuth validates the token on every protected request and puts the uid
// in the request context. Authorizer (authz.go) maps the uid to a role.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is stamped into every token and required on validation.
	Issuer = "community-library"

	// MinSecretLength is the shortest HMAC secret NewTokenService accepts.
	MinSecretLength = 16

	// DefaultTTL applies when NewTokenService is given a non-positive ttl.
	DefaultTTL = 24 * time.Hour
)

// TokenService signs and verifies access tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. Generate issues tokens that live for
// ttl. Example secret: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of tokens from Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for uid with the service TTL.
func (s *TokenService) Generate(uid string) (string, error) {
	return s.GenerateWithDuration(uid, s.ttl)
}

// GenerateWithDuration signs a token for uid that expires after d. A negative
// d yields an already expired token, which tests use.
func (s *TokenService) GenerateWithDuration(uid string, d time.Duration) (string, error) {
	if uid == "" {
		return "", errors.New("auth: uid is required")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr and returns the uid in its "sub" claim.
//
// The signature, expiry and issuer are all checked. Only HS256 is accepted, so
// a token claiming "alg":"none" (or an asymmetric algorithm keyed with our
// secret) is rejected before the key is even looked at.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
