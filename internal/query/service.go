// Package query implements the fixed query surface consumed by the HTTP
// and MCP layers. Absence of a requested identifier is a normal "not
// found" outcome, never a partial record.
package query

import (
	"context"
	"time"

	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/search"
	"github.com/halvard/othala/internal/store"
)

// NodeDetail is the full representation of one node.
type NodeDetail struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	Title         string            `json:"title"`
	Attrs         models.Attributes `json:"attrs,omitempty"`
	Body          string            `json:"body,omitempty"`
	FilePath      string            `json:"file_path"`
	Relationships []models.Edge     `json:"relationships,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// GraphView is the whole stored graph in summary form.
type GraphView struct {
	Nodes  []store.NodeSummary `json:"nodes"`
	Edges  []models.Edge       `json:"edges"`
	Broken []models.BrokenRef  `json:"broken,omitempty"`
}

// Service answers queries from the store and the search engine.
type Service struct {
	db     *store.DB
	engine *search.Engine
}

// NewService creates a query service.
func NewService(db *store.DB, engine *search.Engine) *Service {
	return &Service{db: db, engine: engine}
}

// NodeByID returns one node with its relationships, or
// apperr.ErrNotFound. The body is omitted unless includeBody is set;
// bodyLimit > 0 truncates it to that many runes.
func (s *Service) NodeByID(_ context.Context, id string, includeBody bool, bodyLimit int) (*NodeDetail, error) {
	node, err := s.db.GetNode(id)
	if err != nil {
		return nil, err
	}
	edges, err := s.db.Relationships(id)
	if err != nil {
		return nil, err
	}
	detail := toDetail(*node, includeBody, bodyLimit)
	detail.Relationships = edges
	return detail, nil
}

// ListByType returns nodes of one type, optionally restricted to a status
// set, ordered by identifier.
func (s *Service) ListByType(_ context.Context, typ string, statuses []string, limit int, includeBody bool) ([]NodeDetail, error) {
	nodes, err := s.db.ListByType(typ, statuses, limit)
	if err != nil {
		return nil, err
	}
	out := make([]NodeDetail, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *toDetail(n, includeBody, 0))
	}
	return out, nil
}

// Search delegates to the hybrid search engine.
func (s *Service) Search(ctx context.Context, text string, opts search.Options) (*search.Result, error) {
	return s.engine.Search(ctx, text, opts)
}

// Relationships returns every edge touching the node.
func (s *Service) Relationships(_ context.Context, id string) ([]models.Edge, error) {
	return s.db.Relationships(id)
}

// Graph returns the whole stored graph plus recorded broken references.
func (s *Service) Graph(_ context.Context) (*GraphView, error) {
	nodes, err := s.db.AllNodeSummaries()
	if err != nil {
		return nil, err
	}
	edges, err := s.db.AllEdges()
	if err != nil {
		return nil, err
	}
	broken, err := s.db.AllBrokenRefs()
	if err != nil {
		return nil, err
	}
	return &GraphView{Nodes: nodes, Edges: edges, Broken: broken}, nil
}

// Stats returns aggregate index counts.
func (s *Service) Stats(_ context.Context) (*store.Stats, error) {
	return s.db.GetStats()
}

func toDetail(n models.Node, includeBody bool, bodyLimit int) *NodeDetail {
	d := &NodeDetail{
		ID:        n.ID,
		Type:      n.Type,
		Status:    n.Status,
		Title:     n.Title,
		Attrs:     n.Attrs,
		FilePath:  n.FilePath,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
	if includeBody {
		d.Body = truncate(n.Body, bodyLimit)
	}
	return d
}

func truncate(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit])
}
