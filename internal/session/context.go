package session

import (
	"context"

	"github.com/softwareproject/portal/internal/models"
)

type contextKey int

const (
	clientIDKey contextKey = iota
	managerKey
	userKey
)

// WithClientID returns a context carrying the browser's client id.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientIDFromContext returns the client id set by WithClientID.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// WithManager returns a context carrying the request's session manager.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey, m)
}

// ManagerFromContext returns the manager set by WithManager, or nil.
func ManagerFromContext(ctx context.Context) *Manager {
	m, _ := ctx.Value(managerKey).(*Manager)
	return m
}

// WithUser returns a context carrying the signed-in user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the user set by WithUser, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}
