package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/orderflow-mcp/internal/cart"
	"github.com/dshills/orderflow-mcp/internal/courier"
	"github.com/dshills/orderflow-mcp/internal/eta"
	"github.com/dshills/orderflow-mcp/internal/order"
	"github.com/dshills/orderflow-mcp/internal/payment"
	"github.com/dshills/orderflow-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "orderflow-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Services are the domain services the tools call into
type Services struct {
	Store     storage.Storage
	Carts     *cart.Service
	Orders    *order.Service
	Couriers  *courier.Engine
	Sweeper   *courier.Sweeper
	Payments  *payment.Service
	Estimator *eta.Estimator
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	svc    Services
	logger *slog.Logger
}

// NewServer creates a new MCP server exposing the order fulfillment tools
func NewServer(svc Services, logger *slog.Logger) (*Server, error) {
	if svc.Store == nil || svc.Carts == nil || svc.Orders == nil || svc.Couriers == nil ||
		svc.Sweeper == nil || svc.Payments == nil || svc.Estimator == nil {
		return nil, errors.New("mcp server requires every service")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		svc:    svc,
		logger: logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Serve runs the MCP protocol on stdin/stdout until ctx is cancelled or the
// client disconnects
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP protocol over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	handlers := s.handlers()
	for _, tool := range toolDefinitions() {
		fn, ok := handlers[tool.Name]
		if !ok {
			return fmt.Errorf("no handler for tool %s", tool.Name)
		}
		s.mcp.AddTool(tool, s.handle(tool.Name, fn))
	}
	return nil
}
