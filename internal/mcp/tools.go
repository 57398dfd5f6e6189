package mcp

import (
	"context"
	"fmt"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all watchdog tools with the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatusTool(s, client)
	registerRunsTool(s, client)
	registerHealthTool(s, client)
}

func registerStatusTool(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("watchdog_status",
		gomcp.WithDescription("Get the latest sealed outcome of every monitored flow (transfer, deposit, withdrawal and so on). Each flow reports ok, skip or fail."),
	)

	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerRunsTool(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("watchdog_runs",
		gomcp.WithDescription("Get the recent runs of one flow, newest first, including per-step latency and gas usage."),
		gomcp.WithString("flow",
			gomcp.Required(),
			gomcp.Description("Flow name, e.g. transfer, deposit, deposit_user, withdrawal, withdraw_finalize"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum number of runs to return (default 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		flow, err := req.RequireString("flow")
		if err != nil {
			return gomcp.NewToolResultError("flow parameter is required"), nil
		}
		limit := req.GetInt("limit", 20)

		path := fmt.Sprintf("/v1/runs?flow=%s&limit=%d", url.QueryEscape(flow), limit)
		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get runs: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	})
}

func registerHealthTool(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("watchdog_health",
		gomcp.WithDescription("Check whether the watchdog service itself is up and serving its API."),
	)

	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := client.Get("/health"); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Watchdog is unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText("Watchdog is up."), nil
	})
}
