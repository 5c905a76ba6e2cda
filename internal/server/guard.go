package server

import (
	"net/http"

	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/session"
)

// guardOptions configures requireSession for one route.
type guardOptions struct {
	// RequiredRole, when set, must match the stored user's role unless the
	// user holds the admin role.
	RequiredRole string
	// EnsureFresh refreshes an expired access token before rendering.
	EnsureFresh bool
}

// requireSession runs before a protected page. Missing tokens send the
// browser to the login route; a failed refresh sends it to the expired path; a role
// mismatch sends it home. On success the manager and user are placed in the
// request context.
func (s *Server) requireSession(opts guardOptions) func(http.Handler) http.Handler {
	cfg := s.app.Config.Auth
	expiredPath := cfg.ExpiredPath
	if expiredPath == "" {
		expiredPath = config.DefaultExpiredPath
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			mgr := s.app.Registry.Open(session.ClientIDFromContext(ctx))

			token, err := mgr.Store().AccessToken(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to read session")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if token == "" {
				http.Redirect(w, r, cfg.LoginPath, http.StatusFound)
				return
			}

			if opts.EnsureFresh {
				if _, err := mgr.EnsureValid(ctx); err != nil {
					s.logger.Info().Str("path", r.URL.Path).Err(err).Msg("session could not be refreshed")
					http.Redirect(w, r, expiredPath, http.StatusFound)
					return
				}
			}

			user, err := mgr.Store().User(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("stored user unreadable")
				user = nil
			}
			if opts.RequiredRole != "" {
				if user == nil {
					http.Redirect(w, r, cfg.LoginPath, http.StatusFound)
					return
				}
				if !user.HasRole(opts.RequiredRole, cfg.AdminRole) {
					http.Redirect(w, r, "/", http.StatusFound)
					return
				}
			}

			ctx = session.WithManager(ctx, mgr)
			ctx = session.WithUser(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
