package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims understood by JWTVerifier. The subject is the
// user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier signs and verifies HS256 tokens.
type JWTVerifier struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTVerifier builds a verifier with the given secret. A non-positive
// expiry issues tokens without an expiration claim.
func NewJWTVerifier(secret string, expiry time.Duration, optFns ...func(v *JWTVerifier)) *JWTVerifier {
	v := &JWTVerifier{secret: []byte(secret), expiry: expiry}
	for _, fn := range optFns {
		fn(v)
	}
	return v
}

// WithIssuer requires and stamps the iss claim.
func WithIssuer(iss string) func(v *JWTVerifier) {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// Generate issues a signed token for id.
func (v *JWTVerifier) Generate(id Identity) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Email: strings.TrimSpace(id.Email),
		Name:  strings.TrimSpace(id.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UserID,
			Issuer:   v.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if v.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify implements Verifier. Every failure maps to ErrUnauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{
		UserID: claims.Subject,
		Email:  strings.TrimSpace(claims.Email),
		Name:   strings.TrimSpace(claims.Name),
	}, nil
}
