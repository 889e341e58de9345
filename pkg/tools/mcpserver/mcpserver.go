// Package mcpserver serves a toolbox.ToolBox over the MCP protocol using the
// official MCP Go SDK.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/germanamz/devicelab/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Option configures an MCPServer.
type Option func(*mcp.ServerOptions)

// WithLogger enables SDK logging of server activity.
func WithLogger(log *slog.Logger) Option {
	return func(o *mcp.ServerOptions) { o.Logger = log }
}

// WithInstructions sets the instructions sent to connecting clients.
func WithInstructions(s string) Option {
	return func(o *mcp.ServerOptions) { o.Instructions = s }
}

// MCPServer exposes the tools of a ToolBox. Every call is dispatched through
// ToolBox.Call, so calls from concurrent clients run one at a time.
type MCPServer struct {
	server *mcp.Server
}

// New creates an MCPServer with the given name and version.
func New(name, version string, opts ...Option) *MCPServer {
	so := &mcp.ServerOptions{}
	for _, o := range opts {
		o(so)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, so)

	return &MCPServer{server: server}
}

// Register adds every tool of tb.
func (s *MCPServer) Register(tb *toolbox.ToolBox) {
	for _, t := range tb.Tools() {
		s.server.AddTool(toSDKTool(t), toSDKHandler(tb, t.Name))
	}
}

// Serve reads requests from in and writes responses to out. It blocks until
// ctx is cancelled or the transport closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// ServeStdio serves over the process's standard input and output.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	return s.run(ctx, &mcp.StdioTransport{})
}

func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

func toSDKHandler(tb *toolbox.ToolBox, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		res := tb.Call(ctx, name, args)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
