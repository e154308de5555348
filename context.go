package authjwt

import (
	"context"
	"time"
)

type claimsKey struct{}

// BindClaims stores validated claims inside the context for downstream consumers.
func BindClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext retrieves claims previously stored by BindClaims.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok
}

// ClaimFromContext returns a single claim of the authenticated principal.
func ClaimFromContext(ctx context.Context, key string) (any, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}
	v, ok := claims[key]
	return v, ok
}

// detach keeps ctx values but drops its deadline and cancellation, so a
// shared fetch outlives the caller that started it.
func detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if _, ok := ctx.(*detachedContext); ok {
		return ctx
	}
	return &detachedContext{parent: ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d *detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (d *detachedContext) Done() <-chan struct{} {
	return nil
}

func (d *detachedContext) Err() error {
	return nil
}

func (d *detachedContext) Value(key any) any {
	if d.parent == nil {
		return nil
	}
	return d.parent.Value(key)
}
