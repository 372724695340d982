// Package auth authenticates requests before they reach the engine.
// Missing or invalid credentials surface as ErrUnauthenticated and are
// rejected at the transport edge; they never reach the orchestrator.
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned for a missing, malformed or invalid
	// credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth disabled")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityContextKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value, or "" when the value has another shape.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
