// ABOUTME: Context helpers for carrying the verified identity through a request
// ABOUTME: WithIdentity/FromContext pair used by HTTP middleware and handlers

package auth

import "context"

type contextKey struct{}

// WithIdentity returns a context carrying the verified identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext extracts the verified identity, or nil if none is present.
func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKey{}).(*Identity)
	return identity
}
