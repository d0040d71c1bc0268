// Package auth resolves bearer credentials to identities. Tokens are HS256
// JWTs carrying the principal id in "sub" and its role in "type"; revoked
// tokens are kept in a badger-backed list until they would have expired.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/counselchat/internal/domain"
)

const issuerName = "counselchat"

// Claims is the JWT payload.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer signs and parses access tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl means 15 minutes.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for identity and returns it with its expiry.
func (i *Issuer) Issue(identity domain.Identity) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		Type: string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse checks the signature and expiry of token. Failures are AuthErrors.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.NewAuthError(domain.AuthExpired, err)
	default:
		return nil, domain.NewAuthError(domain.AuthMalformed, err)
	}
}

// subject extracts the role and numeric id carried by claims.
func subject(claims *Claims) (domain.Role, int64, error) {
	role, err := domain.ParseRole(claims.Type)
	if err != nil {
		return "", 0, domain.NewAuthError(domain.AuthWrongType, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, domain.NewAuthError(domain.AuthMalformed, fmt.Errorf("bad subject %q", claims.Subject))
	}
	return role, id, nil
}
