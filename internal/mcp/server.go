package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/project"
	"github.com/dshills/codegraph/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codegraph"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Server exposes a code graph store over MCP. One server serves one
// workspace database.
type Server struct {
	mcp    *server.MCPServer
	store  storage.Store
	cfg    *config.Config
	logger *slog.Logger
	lock   indexer.IndexLock

	mu      sync.Mutex
	lastRun *project.SyncResult
	root    string
}

// NewServer creates a server over store. The caller keeps ownership of the
// store and closes it after Serve returns.
func NewServer(store storage.Store, cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until the client disconnects
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(listErrorsTool(), s.handleListErrors)
}

func (s *Server) recordRun(root string, result *project.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
	s.lastRun = result
}

func (s *Server) snapshot() (string, *project.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.lastRun
}
