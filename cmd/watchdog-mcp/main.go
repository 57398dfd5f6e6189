// Watchdog MCP server.
// Exposes watchdog status tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/watchdog/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	watchdogURL := os.Getenv("WATCHDOG_URL")
	if watchdogURL == "" {
		watchdogURL = "http://localhost:8081"
	}

	s := server.NewMCPServer(
		"watchdog",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(watchdogURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
