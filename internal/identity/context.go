package identity

import "context"

type identityContextKey struct{}

// ContextWith stores the resolved identity in context.
func ContextWith(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the resolved identity from context. Returns nil
// for unauthenticated requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
