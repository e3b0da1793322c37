// Package server exposes Aras PLM operations as MCP tools.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-aras/internal/aras"
	"github.com/giantswarm/mcp-aras/internal/logging"
)

// Supported server transports.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

const shutdownTimeout = 5 * time.Second

// Executor runs a PLM operation. *aras.Client implements it.
type Executor interface {
	Execute(ctx context.Context, op aras.Operation) *aras.Result
}

// Server wraps the PLM client and exposes it via MCP
type Server struct {
	executor  Executor
	logger    *logging.Logger
	mcpServer *server.MCPServer
	transport string
}

// New creates an MCP server with every PLM tool registered.
func New(executor Executor, transport, version string, logger *logging.Logger) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	switch transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported server transport: %s", transport)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := server.NewMCPServer(
		"mcp-aras",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s := &Server{
		executor:  executor,
		logger:    logger,
		mcpServer: mcpServer,
		transport: transport,
	}

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Start serves until ctx is cancelled or the transport fails.
func (s *Server) Start(ctx context.Context, listenAddr string) error {
	switch s.transport {
	case TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		stdio := server.NewStdioServer(s.mcpServer)
		stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server failed: %w", err)
		}
		return nil

	case TransportStreamableHTTP:
		httpServer := server.NewStreamableHTTPServer(
			s.mcpServer,
			server.WithEndpointPath("/mcp"),
		)

		errCh := make(chan error, 1)
		go func() {
			s.logger.Info("Serving MCP over streamable-http at http://%s/mcp", listenAddr)
			errCh <- httpServer.Start(listenAddr)
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down http server: %w", err)
			}
			return nil
		}

	default:
		return fmt.Errorf("unsupported server transport: %s", s.transport)
	}
}

const instructions = `Tools for an Aras Innovator PLM server.
Item types are OData entity sets such as Part, Document or "Part BOM".
Use get_items with an OData $filter to find items, then the write tools with the item id.
Every result is JSON with "success", "payload" and, on failure, "error".`
