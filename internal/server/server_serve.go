package server

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that are untestable in unit tests
// as they start blocking servers. These should be tested via integration tests.

// Serve starts the MCP server with stdio transport
func (s *Server) Serve() error {
	return server.ServeStdio(s.server)
}

// ServeWithLogger starts the MCP server with stdio transport and custom logger
func (s *Server) ServeWithLogger(logger *slog.Logger) error {
	logger.Info("Starting MCP server with stdio transport")
	return s.Serve()
}

// ServeHTTP starts the MCP server with HTTP/SSE transport on the specified address
func (s *Server) ServeHTTP(addr string) error {
	sseServer := server.NewSSEServer(s.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
	return sseServer.Start(addr)
}

// ServeHTTPWithLogger starts the MCP server with HTTP/SSE transport and custom logger
func (s *Server) ServeHTTPWithLogger(addr string, logger *slog.Logger) error {
	logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", "/mcp")
	return s.ServeHTTP(addr)
}
