// Package search answers hybrid queries: full-text ranking filtered by
// structured predicates, optionally expanded one hop through the graph.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/store"
)

const (
	defaultLimit     = 10
	defaultOverfetch = 3
	defaultMaxFetch  = 200
)

// Options shape one query.
type Options struct {
	// Limit caps the number of returned nodes. Defaults to 10.
	Limit int
	// Types restricts results to these node types; empty means all.
	Types []string
	// Statuses restricts results to these statuses; empty means all.
	Statuses []string
	// IncludeRelationships expands each result one hop through the graph.
	IncludeRelationships bool
}

// Metadata describes how a query was executed.
type Metadata struct {
	Strategy        string        `json:"strategy"`
	Duration        time.Duration `json:"duration"`
	TotalCandidates int           `json:"total_candidates"`
}

// Hit is one ranked result.
type Hit struct {
	Node  models.Node `json:"node"`
	Score float64     `json:"score"`
}

// Result is the full answer to one query.
type Result struct {
	Hits    []Hit         `json:"hits"`
	Edges   []models.Edge `json:"edges,omitempty"`
	Related []models.Node `json:"related,omitempty"`
	Meta    Metadata      `json:"meta"`
}

// Config tunes the engine.
type Config struct {
	// OverfetchFactor multiplies the requested limit when querying the
	// full-text index, compensating for post-filtering. Defaults to 3.
	OverfetchFactor int
	// MaxFetch bounds the over-fetched candidate count. Defaults to 200.
	MaxFetch int
}

// Engine runs hybrid queries against the store.
type Engine struct {
	db        *store.DB
	overfetch int
	maxFetch  int
	logger    *slog.Logger
}

// New creates an Engine.
func New(db *store.DB, cfg Config, logger *slog.Logger) *Engine {
	overfetch := cfg.OverfetchFactor
	if overfetch <= 0 {
		overfetch = defaultOverfetch
	}
	maxFetch := cfg.MaxFetch
	if maxFetch <= 0 {
		maxFetch = defaultMaxFetch
	}
	return &Engine{db: db, overfetch: overfetch, maxFetch: maxFetch, logger: logger}
}

// Search runs the full-text search with over-fetch, applies type/status
// filters as a pure post-filter (ranking order among survivors is
// unchanged), truncates to the limit, and optionally expands one hop.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	fetch := limit * e.overfetch
	if fetch > e.maxFetch {
		fetch = e.maxFetch
	}

	hits, err := e.db.Search(query, fetch)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	res := &Result{
		Meta: Metadata{Strategy: "fulltext", TotalCandidates: len(hits)},
	}

	typeSet := toSet(opts.Types)
	statusSet := toSet(opts.Statuses)
	if len(typeSet) > 0 || len(statusSet) > 0 {
		res.Meta.Strategy = "fulltext+filter"
	}

	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(res.Hits) >= limit {
			break
		}
		node, err := e.db.GetNode(hit.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				// Node vanished between ranking and fetch; a concurrent
				// reindex removed it. Skip rather than fail.
				continue
			}
			return nil, err
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[node.Type]; !ok {
				continue
			}
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[node.Status]; !ok {
				continue
			}
		}
		res.Hits = append(res.Hits, Hit{Node: *node, Score: hit.Score})
	}

	if opts.IncludeRelationships && len(res.Hits) > 0 {
		if err := e.expand(res); err != nil {
			return nil, err
		}
		res.Meta.Strategy += "+graph"
	}

	res.Meta.Duration = time.Since(start)
	return res, nil
}

// expand fetches each result's edges and the nodes at the other endpoint,
// deduplicated across the whole result set.
func (e *Engine) expand(res *Result) error {
	inResults := make(map[string]struct{}, len(res.Hits))
	for _, h := range res.Hits {
		inResults[h.Node.ID] = struct{}{}
	}

	seenEdge := make(map[models.Edge]struct{})
	seenRelated := make(map[string]struct{})
	for _, h := range res.Hits {
		edges, err := e.db.Relationships(h.Node.ID)
		if err != nil {
			return fmt.Errorf("search: expand %s: %w", h.Node.ID, err)
		}
		for _, edge := range edges {
			if _, ok := seenEdge[edge]; ok {
				continue
			}
			seenEdge[edge] = struct{}{}
			res.Edges = append(res.Edges, edge)

			other := edge.TargetID
			if other == h.Node.ID {
				other = edge.SourceID
			}
			if _, ok := inResults[other]; ok {
				continue
			}
			if _, ok := seenRelated[other]; ok {
				continue
			}
			seenRelated[other] = struct{}{}
			node, err := e.db.GetNode(other)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					continue
				}
				return err
			}
			res.Related = append(res.Related, *node)
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
