package mcp

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/latch/internal/service"
)

// MCPServer wraps the mcp-go server with latch tool and resource
// registrations. It lets AI agents and operators inspect and administer
// license keys through the same service layer as the HTTP API.
type MCPServer struct {
	keys    *service.KeyService
	logger  *slog.Logger
	version string
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all latch tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(keys *service.KeyService, logger *slog.Logger, version string) *MCPServer {
	if version == "" {
		version = "dev"
	}
	s := &MCPServer{
		keys:    keys,
		logger:  logger,
		version: version,
	}

	mcpServer := server.NewMCPServer(
		"Latch License Server",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// latch as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a Streamable HTTP handler suitable for mounting on an
// existing router.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
