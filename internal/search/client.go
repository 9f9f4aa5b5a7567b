// Package search implements Phase 4 (spec.md "Phase 4 — Search"): retrieving
// context for the cycle's chosen target — the target file's contents,
// symbols related to it elsewhere in the tree, and notes from prior cycles
// — written to ctx.searchResults. Client is adapted from the teacher's
// mcp_client.go MCPClient, used here as an optional external retrieval tool
// (e.g. a semantic code-search MCP server) layered on top of the local
// filesystem scan Retriever always performs.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// Config describes how to launch and talk to an MCP search server.
type Config struct {
	ServerCommand []string          `json:"serverCommand"`
	ServerArgs    []string          `json:"serverArgs"`
	ServerEnv     map[string]string `json:"serverEnv"`
}

// Client wraps one MCP session, grounded on the teacher's MCPClient.
type Client struct {
	client  *mcp.Client
	session *mcp.ClientSession
	logger  *logrus.Logger
	config  *Config
}

// NewClient creates a Client for config; call Connect before CallTool.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		client: mcp.NewClient(&mcp.Implementation{Name: "cycleforge-search", Version: "v1.0.0"}, nil),
		logger: logger,
		config: config,
	}
}

// Connect launches the configured server process and establishes an MCP
// session over it.
func (c *Client) Connect(ctx context.Context) error {
	if c.config == nil || len(c.config.ServerCommand) == 0 {
		return fmt.Errorf("search: mcp server command is required")
	}

	cmd := exec.Command(c.config.ServerCommand[0], c.config.ServerCommand[1:]...)
	cmd.Args = append(cmd.Args, c.config.ServerArgs...)
	for k, v := range c.config.ServerEnv {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	session, err := c.client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("search: connect to mcp server: %w", err)
	}
	c.session = session
	c.logger.Info("search: connected to mcp server")
	return nil
}

// CallTool invokes a named tool on the connected server.
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("search: mcp client not connected")
	}
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("search: mcp tool %q failed: %w", toolName, err)
	}
	return result, nil
}

// Close releases the MCP session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// parseToolResult decodes an MCP tool result's first text content block as
// JSON into target; a non-JSON payload is returned as an error.
func parseToolResult(result *mcp.CallToolResult, target any) error {
	if result == nil || len(result.Content) == 0 {
		return fmt.Errorf("search: empty mcp tool result")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return fmt.Errorf("search: unsupported mcp content type")
	}
	if err := json.Unmarshal([]byte(text.Text), target); err != nil {
		return fmt.Errorf("search: decode mcp tool result: %w", err)
	}
	return nil
}
