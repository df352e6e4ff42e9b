// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the Othala query surface for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/query"
	"github.com/halvard/othala/internal/search"
)

// Server wraps the MCP server with Othala query tools.
type Server struct {
	mcp *server.MCPServer
	svc *query.Service
}

// New creates an MCP server with all query tools registered.
func New(svc *query.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("query_node",
		mcp.WithDescription("Fetch one knowledge-graph node by identifier, including its relationships."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
		mcp.WithBoolean("include_body", mcp.Description("Include the full document body")),
		mcp.WithNumber("body_limit", mcp.Description("Truncate the body to this many characters (0 = unlimited)")),
	), s.queryNode)

	s.mcp.AddTool(mcp.NewTool("list_by_type",
		mcp.WithDescription("List nodes of one entity type, optionally filtered by status."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type, e.g. person")),
		mcp.WithString("status", mcp.Description("Optional status filter, e.g. active")),
		mcp.WithNumber("limit", mcp.Description("Maximum nodes to return")),
	), s.listByType)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Hybrid full-text search over titles, bodies, and attributes, "+
			"with optional type/status filters and one-hop relationship expansion."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("type", mcp.Description("Optional entity type filter")),
		mcp.WithString("status", mcp.Description("Optional status filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
		mcp.WithBoolean("relationships", mcp.Description("Expand results one hop through the graph")),
	), s.searchNodes)

	s.mcp.AddTool(mcp.NewTool("node_relationships",
		mcp.WithDescription("List every edge where the node is source or target."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node identifier")),
	), s.nodeRelationships)

	s.mcp.AddTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Aggregate index statistics: node, edge, and broken-reference counts."),
	), s.getStats)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) queryNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	includeBody := req.GetBool("include_body", false)
	bodyLimit := req.GetInt("body_limit", 0)

	detail, err := s.svc.NodeByID(ctx, id, includeBody, bodyLimit)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(detail)
}

func (s *Server) listByType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var statuses []string
	if status := req.GetString("status", ""); status != "" {
		statuses = []string{status}
	}
	limit := req.GetInt("limit", 50)

	items, err := s.svc.ListByType(ctx, typ, statuses, limit, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := search.Options{
		Limit:                req.GetInt("limit", 0),
		IncludeRelationships: req.GetBool("relationships", false),
	}
	if typ := req.GetString("type", ""); typ != "" {
		opts.Types = []string{typ}
	}
	if status := req.GetString("status", ""); status != "" {
		opts.Statuses = []string{status}
	}

	result, err := s.svc.Search(ctx, q, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) nodeRelationships(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := s.svc.Relationships(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(edges) == 0 {
		return mcp.NewToolResultText("no relationships found"), nil
	}
	return jsonResult(edges)
}

func (s *Server) getStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
