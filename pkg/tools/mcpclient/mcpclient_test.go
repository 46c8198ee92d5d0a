package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestServer runs an SDK server with the given handlers on an in-memory
// transport and returns a connected client.
func setupTestServer(t *testing.T, register func(*mcp.Server)) *MCPClient {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	register(server)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client, err := newFromTransport(ctx, clientTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func addTool(server *mcp.Server, tool toolbox.Tool) {
	handler := tool.Handler
	server.AddTool(&mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, req.Params.Arguments)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: result}}}, nil
	})
}

func echoHandler(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func TestListTools(t *testing.T) {
	client := setupTestServer(t, func(s *mcp.Server) {
		addTool(s, toolbox.Tool{
			Name:        "run_show_command",
			Description: "Run a show command",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
			Handler:     echoHandler,
		})
		addTool(s, toolbox.Tool{
			Name:        "ping",
			Description: "Ping a target",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler:     echoHandler,
		})
	})

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	byName := make(map[string]toolbox.Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}

	show, ok := byName["run_show_command"]
	require.True(t, ok)
	assert.Equal(t, "Run a show command", show.Description)
	assert.Contains(t, string(show.InputSchema), `"command"`)
	assert.NotNil(t, show.Handler)
}

func TestCallToolSuccess(t *testing.T) {
	client := setupTestServer(t, func(s *mcp.Server) {
		addTool(s, toolbox.Tool{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`), Handler: echoHandler})
	})

	text, err := client.CallTool(context.Background(), "echo", json.RawMessage(`{"target":"10.0.0.1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"10.0.0.1"}`, text)
}

func TestCallToolErrorKeepsServerText(t *testing.T) {
	client := setupTestServer(t, func(s *mcp.Server) {
		addTool(s, toolbox.Tool{
			Name:        "ping",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: func(context.Context, json.RawMessage) (string, error) {
				return "", errors.New("Error performing ping: no route to host")
			},
		})
	})

	text, err := client.CallTool(context.Background(), "ping", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Empty(t, text)
	assert.Equal(t, "Error performing ping: no route to host", err.Error())

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ping", te.Tool)
}

func TestCallToolErrorReadsStructuredKind(t *testing.T) {
	client := setupTestServer(t, func(s *mcp.Server) {
		s.AddTool(&mcp.Tool{Name: "get_config", InputSchema: json.RawMessage(`{"type":"object"}`)},
			func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{
					Content:           []mcp.Content{&mcp.TextContent{Text: "Error getting config: unknown device"}},
					StructuredContent: map[string]any{"operation": "get_config", "kind": "unknown_device"},
					IsError:           true,
				}, nil
			})
	})

	_, err := client.CallTool(context.Background(), "get_config", json.RawMessage(`{}`))

	var ke toolbox.KindError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, "get_config", ke.Operation())
	assert.Equal(t, "unknown_device", ke.ErrorKind())
}

func TestCallToolMultipleContent(t *testing.T) {
	client := setupTestServer(t, func(s *mcp.Server) {
		s.AddTool(&mcp.Tool{Name: "multi", InputSchema: json.RawMessage(`{"type":"object"}`)},
			func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{Content: []mcp.Content{
					&mcp.TextContent{Text: "line 1"},
					&mcp.TextContent{Text: "line 2"},
				}}, nil
			})
	})

	text, err := client.CallTool(context.Background(), "multi", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", text)
}

func TestCallToolInvalidArguments(t *testing.T) {
	client := setupTestServer(t, func(*mcp.Server) {})

	_, err := client.CallTool(context.Background(), "x", json.RawMessage(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal arguments")
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"PYTHONPATH": "/app", "PATH": "/usr/bin"})
	assert.Equal(t, []string{"PATH=/usr/bin", "PYTHONPATH=/app"}, got)
}
