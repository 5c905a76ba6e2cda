package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/config"
)

// versionInfo holds version fields for one component.
type versionInfo struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// VersionTool returns the mcp.Tool definition for get_version.
func VersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the portal and API versions. Use this to verify connectivity."),
	)
}

// VersionToolHandler reports the portal version plus the API's when it can
// be reached.
func VersionToolHandler(api *client.APIClient) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := map[string]versionInfo{
			"portal": {
				Version: config.GetVersion(),
				Build:   config.GetBuild(),
				Commit:  config.GetGitCommit(),
			},
		}

		if req, err := api.NewRequest(ctx, http.MethodGet, "/api/version", nil); err == nil {
			if resp, err := api.HTTPClient().Do(req); err == nil {
				var serverResp map[string]string
				if client.DecodeResponse(resp, &serverResp) == nil {
					result["api"] = versionInfo{
						Version: serverResp["version"],
						Build:   serverResp["build"],
						Commit:  serverResp["git_commit"],
					}
				}
			}
		}

		return jsonResult(result), nil
	}
}
