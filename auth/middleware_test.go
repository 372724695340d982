package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenVerifier struct{}

func (brokenVerifier) Verify(context.Context, string) (*Identity, error) {
	return nil, errors.New("key service down")
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier("secret", time.Hour)
	token, err := v.Generate(Identity{UserID: "u1"})
	require.NoError(t, err)

	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(v, nil)(next)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
		user   string
	}{
		{name: "valid header", header: "Bearer " + token, want: http.StatusNoContent, user: "u1"},
		{name: "valid query token", query: "?access_token=" + token, want: http.StatusNoContent, user: "u1"},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1/messages"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.user != "" {
				require.NotNil(t, seen)
				assert.Equal(t, tt.user, seen.UserID)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), "unauthenticated")
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestMiddleware_VerifierErrorIs401(t *testing.T) {
	h := Middleware(brokenVerifier{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_NilVerifierPassesThrough(t *testing.T) {
	called := false
	h := Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
