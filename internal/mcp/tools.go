package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/session"
)

const maxToolResponse = 1 << 20

var toolNames = []string{"get_version", "get_home_message", "whoami", "call_api"}

// RegisterTools adds the portal tools to s.
func RegisterTools(s *server.MCPServer, api *client.APIClient, home HomeMessenger, logger *common.Logger) {
	s.AddTool(VersionTool(), VersionToolHandler(api))

	s.AddTool(mcp.NewTool("get_home_message",
		mcp.WithDescription("Get the public welcome message shown on the landing page."),
	), homeMessageHandler(home))

	s.AddTool(mcp.NewTool("whoami",
		mcp.WithDescription("Show the signed-in portal user and when the access token expires."),
	), whoamiHandler())

	s.AddTool(mcp.NewTool("call_api",
		mcp.WithDescription("GET a path under /api/ with the signed-in user's access token. Expired tokens are refreshed once."),
		mcp.WithString("path", mcp.Required(), mcp.Description("API path, e.g. /api/home")),
	), callAPIHandler(api, logger))
}

func homeMessageHandler(home HomeMessenger) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := home.Message(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("failed to load message: %v", err)), nil
		}
		return textResult(msg), nil
	}
}

func whoamiHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr := session.ManagerFromContext(ctx)
		if mgr == nil {
			return errorResult(session.ErrNoAccessToken.Error()), nil
		}
		sess, err := mgr.Session(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("failed to load session: %v", err)), nil
		}
		out := map[string]interface{}{
			"authenticated": mgr.IsAuthenticated(ctx),
			"user":          sess.User,
		}
		tok, err := mgr.Token(ctx)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		if !tok.Expiry.IsZero() {
			out["expires_at"] = tok.Expiry
		}
		out["has_refresh_token"] = tok.RefreshToken != ""
		return jsonResult(out), nil
	}
}

// validAPIPath accepts absolute paths under /api/ without traversal.
func validAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") && !strings.Contains(path, "..")
}

func callAPIHandler(api *client.APIClient, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := r.GetString("path", "")
		if !validAPIPath(path) {
			return errorResult(fmt.Sprintf("invalid path %q (must start with /api/)", path)), nil
		}
		mgr := session.ManagerFromContext(ctx)
		if mgr == nil {
			return errorResult(session.ErrNoAccessToken.Error()), nil
		}

		req, err := api.NewRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		resp, err := mgr.Do(ctx, req)
		if err != nil {
			if session.IsAuthError(err) {
				return errorResult(session.ErrSessionExpired.Error()), nil
			}
			logger.Warn().Str("path", path).Err(err).Msg("call_api request failed")
			return errorResult(fmt.Sprintf("request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponse))
		if err != nil {
			return errorResult(fmt.Sprintf("failed to read response: %v", err)), nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errorResult(fmt.Sprintf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))), nil
		}
		return textResult(string(body)), nil
	}
}
