package api

import (
	"context"

	"retro-api/domain"
)

type identityCtxKey struct{}

// WithIdentity returns a context carrying the authenticated caller identity.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, identity)
}

// ContextIdentity resolves the caller identity placed on the request context
// by the handlers. The zero identity is returned when none is present.
type ContextIdentity struct{}

func (ContextIdentity) Current(ctx context.Context) domain.Identity {
	identity, _ := ctx.Value(identityCtxKey{}).(domain.Identity)
	return identity
}
