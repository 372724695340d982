package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_GenerateVerify(t *testing.T) {
	v := NewJWTVerifier("secret", time.Hour)
	token, err := v.Generate(Identity{UserID: "user-1", Email: " user@example.com ", Name: "User"})
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "user-1", Email: "user@example.com", Name: "User"}, id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("secret", time.Hour, WithIssuer("agentstream"))
	good, err := v.Generate(Identity{UserID: "u1"})
	require.NoError(t, err)

	otherKey, err := NewJWTVerifier("other", time.Hour, WithIssuer("agentstream")).Generate(Identity{UserID: "u1"})
	require.NoError(t, err)

	wrongIssuer, err := NewJWTVerifier("secret", time.Hour, WithIssuer("someone")).Generate(Identity{UserID: "u1"})
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "agentstream",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer: "agentstream",
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "u1",
		Issuer:  "agentstream",
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"other key":    otherKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     unsigned,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}

	_, err = v.Verify(context.Background(), good)
	assert.NoError(t, err)
}

func TestJWTVerifier_Disabled(t *testing.T) {
	v := NewJWTVerifier("", time.Hour)
	_, err := v.Generate(Identity{UserID: "u1"})
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, err = v.Verify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewJWTVerifier("s", 0).Generate(Identity{})
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("bearer  abc "))
	assert.Equal(t, "", ExtractBearer("Basic abc"))
	assert.Equal(t, "", ExtractBearer("Bearer"))
	assert.Equal(t, "", ExtractBearer(""))
}
