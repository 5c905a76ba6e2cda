package server

import (
	"net/http"

	"github.com/softwareproject/portal/internal/models"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	a := s.app

	// Public pages
	mux.HandleFunc("/", a.PageHandler.ServeLanding)
	mux.HandleFunc("/auth", a.AuthHandler.ServeAuthPage)
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, a.AuthHandler.ServeLoginPage, a.AuthHandler.HandleLogin)
	})
	signup := func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, a.AuthHandler.ServeSignupPage, a.AuthHandler.HandleSignup)
	}
	mux.HandleFunc("/signup", signup)
	mux.HandleFunc("/register", signup)
	mux.HandleFunc("/logout", a.AuthHandler.HandleLogout)

	// Protected pages
	mux.Handle("/home", s.requireSession(guardOptions{EnsureFresh: true})(
		http.HandlerFunc(a.DashboardHandler.ServeHome)))
	mux.Handle("/moderation", s.requireSession(guardOptions{RequiredRole: models.RoleModerator})(
		http.HandlerFunc(a.DashboardHandler.ServeModeration)))

	// Static files (CSS, JS, images)
	mux.HandleFunc("/static/", a.PageHandler.StaticFileHandler)

	// MCP endpoint (JSON-RPC over HTTP)
	if a.MCPHandler != nil {
		mux.Handle("/mcp", a.MCPHandler)
	}

	// API routes
	mux.HandleFunc("/api/health", a.HealthHandler.ServeHTTP)
	mux.HandleFunc("/api/version", a.VersionHandler.ServeHTTP)
	mux.HandleFunc("/api/session", a.SessionHandler.ServeHTTP)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.handleNotFound)

	return mux
}

// handleNotFound returns a JSON 404 for unmatched API routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not Found","message":"The requested endpoint does not exist"}`))
}
