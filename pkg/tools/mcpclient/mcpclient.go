// Package mcpclient spawns MCP servers and exposes their tools as toolbox
// tools.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Command describes an MCP server process.
type Command struct {
	Name string
	Args []string
	// Env is the complete environment of the child process. A nil map
	// inherits the parent environment.
	Env map[string]string
	Dir string
}

// MCPClient is a connected session to one MCP server.
type MCPClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// New spawns the server process and performs the MCP handshake.
func New(ctx context.Context, cmd Command) (*MCPClient, error) {
	c := exec.Command(cmd.Name, cmd.Args...) //nolint:gosec // command comes from operator configuration
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = envList(cmd.Env)
	}

	return newFromTransport(ctx, &mcp.CommandTransport{Command: c})
}

func newFromTransport(ctx context.Context, transport mcp.Transport) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "netpilot",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect: %w", err)
	}

	return &MCPClient{client: client, session: session}, nil
}

// ListTools fetches the server's tools. Each returned tool's handler calls
// back through CallTool.
func (c *MCPClient) ListTools(ctx context.Context) ([]toolbox.Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	tools := make([]toolbox.Tool, 0, len(result.Tools))
	for _, sdkTool := range result.Tools {
		t, err := c.fromSDKTool(sdkTool)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: convert tool %q: %w", sdkTool.Name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}

// ToolError is returned by CallTool when the server reports a failed call.
// Its message is the server's text unchanged.
type ToolError struct {
	Tool string
	Text string
	Op   string
	Kind string
}

func (e *ToolError) Error() string     { return e.Text }
func (e *ToolError) Operation() string { return e.Op }
func (e *ToolError) ErrorKind() string { return e.Kind }

// CallTool calls a named tool with JSON-encoded arguments.
func (c *MCPClient) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", fmt.Errorf("mcpclient: unmarshal arguments: %w", err)
		}
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcpclient: call tool: %w", err)
	}

	text := extractText(result)

	if result.IsError {
		te := &ToolError{Tool: name, Text: text}
		if m, ok := result.StructuredContent.(map[string]any); ok {
			te.Op, _ = m["operation"].(string)
			te.Kind, _ = m["kind"].(string)
		}
		return "", te
	}

	return text, nil
}

// Close ends the session. The SDK closes the child's stdin and escalates to
// signals if it does not exit.
func (c *MCPClient) Close() error {
	return c.session.Close()
}

func (c *MCPClient) fromSDKTool(sdkTool *mcp.Tool) (toolbox.Tool, error) {
	schemaBytes, err := json.Marshal(sdkTool.InputSchema)
	if err != nil {
		return toolbox.Tool{}, fmt.Errorf("marshal input schema: %w", err)
	}

	name := sdkTool.Name

	return toolbox.Tool{
		Name:        name,
		Description: sdkTool.Description,
		InputSchema: json.RawMessage(schemaBytes),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			return c.CallTool(ctx, name, input)
		},
	}, nil
}

func extractText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
