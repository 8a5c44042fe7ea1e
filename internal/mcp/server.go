package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "knowledge-base"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Service is the knowledge base surface exposed as tools
type Service interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	Sync(ctx context.Context, opts syncer.Options) (*types.SyncSummary, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Clear(ctx context.Context, confirm bool) error
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error)
}

// Server wraps the MCP server with the knowledge base service
type Server struct {
	mcp    *server.MCPServer
	svc    Service
	logger *zap.Logger
}

// NewServer creates an MCP server with every tool registered
func NewServer(svc Service, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, version),
		svc:    svc,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio and blocks until stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(syncTool(), s.handleSync)
	s.mcp.AddTool(statsTool(), s.handleStats)
	s.mcp.AddTool(clearTool(), s.handleClear)
	s.mcp.AddTool(deleteSourceTool(), s.handleDeleteSource)
}
