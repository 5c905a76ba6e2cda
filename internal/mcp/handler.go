package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/session"
)

// HomeMessenger returns the public landing message.
type HomeMessenger interface {
	Message(ctx context.Context) (string, error)
}

// Handler is the HTTP handler for the MCP endpoint.
// It wraps mcp-go's StreamableHTTPServer and delegates to it.
type Handler struct {
	streamable *mcpserver.StreamableHTTPServer
	server     *mcpserver.MCPServer
	logger     *common.Logger
	registry   *session.Registry
	cookieName string
}

// NewHandler creates the MCP handler. Tools act with the portal session of
// the browser identified by the client cookie.
func NewHandler(cfg *config.Config, logger *common.Logger, registry *session.Registry, home HomeMessenger) *Handler {
	mcpSrv := NewServer(registry.API(), home, logger)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(true),
	)

	logger.Info().
		Int("tools", len(toolNames)).
		Str("api_url", cfg.API.URL).
		Msg("MCP handler initialized")

	return &Handler{
		streamable: streamable,
		server:     mcpSrv,
		logger:     logger,
		registry:   registry,
		cookieName: cfg.Auth.CookieName,
	}
}

// NewServer builds the MCP server with the portal tools registered.
func NewServer(api *client.APIClient, home HomeMessenger, logger *common.Logger) *mcpserver.MCPServer {
	mcpSrv := mcpserver.NewMCPServer(
		"softwareproject-portal",
		config.GetVersion(),
		mcpserver.WithToolCapabilities(true),
	)
	RegisterTools(mcpSrv, api, home, logger)
	return mcpSrv
}

// ServeHTTP resolves the caller's session and delegates to the
// StreamableHTTPServer. Callers without a stored access token get 401.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r, ok := h.withSession(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "unauthorized",
			"error_description": "Sign in to the portal to use the MCP endpoint",
		})
		return
	}

	h.streamable.ServeHTTP(w, r)
}

// withSession attaches the caller's session manager to the request context.
// The client id comes from the context when the server middleware ran, and
// from the cookie otherwise.
func (h *Handler) withSession(r *http.Request) (*http.Request, bool) {
	clientID := session.ClientIDFromContext(r.Context())
	if clientID == "" {
		cookie, err := r.Cookie(h.cookieName)
		if err != nil {
			return r, false
		}
		if _, err := uuid.Parse(cookie.Value); err != nil {
			return r, false
		}
		clientID = cookie.Value
	}

	mgr := h.registry.Open(clientID)
	token, err := mgr.Store().AccessToken(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read session for MCP request")
		return r, false
	}
	if token == "" {
		return r, false
	}

	ctx := session.WithClientID(r.Context(), clientID)
	ctx = session.WithManager(ctx, mgr)
	return r.WithContext(ctx), true
}
