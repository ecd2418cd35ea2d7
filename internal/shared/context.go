package shared

import (
	"context"

	"github.com/google/uuid"
)

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal stores the verified principal id in context.
func ContextWithPrincipal(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, principalContextKey{}, id)
}

// PrincipalFromContext returns the principal id or uuid.Nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(principalContextKey{}).(uuid.UUID)
	return id
}
