package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID         string
	OrganizationID string
	Role           string
}

type ctxKey struct{}

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.UserID != "" {
		return id.UserID, nil
	}
	return "", errors.New("user_id not in context")
}

func OrganizationID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.OrganizationID != "" {
		return id.OrganizationID, nil
	}
	return "", errors.New("organization_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", errors.New("role not in context")
}
