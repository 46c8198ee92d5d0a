// Package mcpserver exposes a toolbox over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/netpilot/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configures an MCPServer.
type Options struct {
	// Instructions is advertised to clients during initialization.
	Instructions string
	// Logger receives one record per tool call. Nil discards.
	Logger *slog.Logger
}

// MCPServer serves toolbox tools over the MCP protocol. Tool calls are
// handled one at a time, end to end.
type MCPServer struct {
	server *mcp.Server
	log    *slog.Logger

	// callMu serializes tool handlers; the SDK may dispatch requests
	// concurrently.
	callMu sync.Mutex
}

// New creates an MCPServer with the given name and version.
func New(name, version string, opts Options) *MCPServer {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, &mcp.ServerOptions{Instructions: opts.Instructions})

	return &MCPServer{server: server, log: log}
}

// Register adds tools to the server.
func (s *MCPServer) Register(tools ...toolbox.Tool) {
	for _, t := range tools {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(t.Name, t.Handler))
	}
}

// Serve reads requests from in and writes responses to out until ctx is
// cancelled or the stream closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	schema := t.InputSchema
	if schema == nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// errorPayload is attached as structured content to failed calls so clients
// do not have to parse the error text.
type errorPayload struct {
	Operation string `json:"operation"`
	Kind      string `json:"kind"`
}

func (s *MCPServer) toSDKHandler(name string, h toolbox.Handler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.callMu.Lock()
		defer s.callMu.Unlock()

		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		result, err := h(ctx, args)
		if err != nil {
			s.log.WarnContext(ctx, "tool call failed", "tool", name, "duration", time.Since(start), "error", err)

			res := &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}

			var ke toolbox.KindError
			if errors.As(err, &ke) {
				res.StructuredContent = errorPayload{Operation: ke.Operation(), Kind: ke.ErrorKind()}
			}

			return res, nil
		}

		s.log.InfoContext(ctx, "tool call", "tool", name, "duration", time.Since(start))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
