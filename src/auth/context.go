package auth

import (
	"context"
)

type contextKey string

const AdminKey contextKey = "admin"

// Admin identifies the caller of the admin API. Tokens are shared, so only the remote
// address is known.
type Admin struct {
	RemoteAddr string
}

func WithAdmin(ctx context.Context, admin *Admin) context.Context {
	return context.WithValue(ctx, AdminKey, admin)
}

func GetAdminFromContext(ctx context.Context) (*Admin, bool) {
	admin, ok := ctx.Value(AdminKey).(*Admin)
	return admin, ok
}
