package common

import "context"

// UserContext carries the caller identity resolved by the HTTP layer.
type UserContext struct {
	UserID string
}

type userContextKey struct{}

// WithUserContext attaches a UserContext to ctx.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserContextFrom returns the UserContext attached to ctx, or nil.
func UserContextFrom(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey{}).(*UserContext)
	return uc
}
