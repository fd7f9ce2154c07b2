package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is who is calling, as asserted by a verified access token.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, userID, tenantID, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, TenantID: tenantID, Role: role})
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) { return field(ctx, func(i Identity) string { return i.UserID }) }

func TenantID(ctx context.Context) (string, error) {
	return field(ctx, func(i Identity) string { return i.TenantID })
}

func Role(ctx context.Context) (string, error) { return field(ctx, func(i Identity) string { return i.Role }) }

func field(ctx context.Context, pick func(Identity) string) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if v := pick(id); v != "" {
		return v, nil
	}
	return "", ErrNoIdentity
}
