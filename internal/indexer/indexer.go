// Package indexer orchestrates the indexing pipeline: scan, graph build,
// and transactional store commit, for both full and incremental runs.
// Incremental runs leave the store in the same state a full rescan of the
// same filesystem would.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/graph"
	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/scanner"
	"github.com/halvard/othala/internal/store"
)

// Op is the kind of filesystem change feeding an incremental run.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

// Change is one changed vault path.
type Change struct {
	Path string
	Op   Op
}

// Summary reports the outcome of one indexing run.
type Summary struct {
	Indexed  int                   `json:"indexed"`
	Skipped  int                   `json:"skipped"`
	Failed   int                   `json:"failed"`
	Removed  int                   `json:"removed"`
	Edges    int                   `json:"edges"`
	Broken   int                   `json:"broken"`
	Failures []models.ParseFailure `json:"failures,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// EventCallback observes individual node changes. kind is "indexed" or
// "removed".
type EventCallback func(kind, id string)

// Indexer runs the pipeline. A mutex keeps a single indexing run active at
// a time; queries against the store stay safe throughout because every
// commit is transactional.
type Indexer struct {
	scanner *scanner.Scanner
	builder *graph.Builder
	db      *store.DB
	logger  *slog.Logger
	onEvent EventCallback

	mu sync.Mutex
}

// New creates an Indexer. cb may be nil.
func New(sc *scanner.Scanner, b *graph.Builder, db *store.DB, logger *slog.Logger, cb EventCallback) *Indexer {
	return &Indexer{scanner: sc, builder: b, db: db, logger: logger, onEvent: cb}
}

// Full scans the whole vault, rebuilds the graph, commits the rebuilt
// node and edge sets in one transaction, and removes nodes whose files
// are gone. Concurrent readers see either the prior state or the whole
// rebuild, never an edge without its target row.
func (ix *Indexer) Full(ctx context.Context) (*Summary, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	snap, err := ix.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexer: scan: %w", err)
	}

	result := ix.builder.Build(snap)
	sum := &Summary{
		Failed:   len(snap.Failures),
		Failures: snap.Failures,
		Edges:    result.EdgeCount(),
		Broken:   result.BrokenCount(),
	}

	records := make([]store.NodeRecord, 0, len(result.Nodes))
	for _, node := range result.Nodes {
		doc := snap.Docs[node.ID]
		records = append(records, store.NodeRecord{
			Node:   node,
			Refs:   doc.Refs,
			Edges:  result.Edges[node.ID],
			Broken: result.Broken[node.ID],
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ix.db.UpsertBatch(records); err != nil {
		return nil, fmt.Errorf("indexer: commit rebuild: %w", err)
	}
	for _, node := range result.Nodes {
		sum.Indexed++
		ix.emit("indexed", node.ID)
	}

	removed, err := ix.removeStale(snap)
	if err != nil {
		return nil, err
	}
	sum.Removed = removed
	sum.Duration = time.Since(start)

	ix.logger.Info("full reindex done",
		slog.Int("indexed", sum.Indexed),
		slog.Int("failed", sum.Failed),
		slog.Int("removed", sum.Removed),
		slog.Int("edges", sum.Edges),
		slog.Int("broken", sum.Broken),
		slog.Duration("took", sum.Duration))
	return sum, nil
}

// removeStale deletes nodes whose file paths no longer appear in the
// snapshot.
func (ix *Indexer) removeStale(snap *scanner.Snapshot) (int, error) {
	paths, err := ix.db.AllPaths()
	if err != nil {
		return 0, fmt.Errorf("indexer: stale sweep: %w", err)
	}
	removed := 0
	stale := make([]string, 0)
	for p := range paths {
		if _, ok := snap.Paths[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	for _, p := range stale {
		ids, err := ix.db.DeleteByPath(p)
		if err != nil {
			return removed, fmt.Errorf("indexer: remove stale %s: %w", p, err)
		}
		for _, id := range ids {
			removed++
			ix.emit("removed", id)
		}
	}
	return removed, nil
}

// Incremental applies a restricted change set. Commits happen in two
// phases: node rows first, then reference re-resolution for every source
// whose resolution may have shifted: changed nodes plus any node with a
// raw reference naming an affected identifier or title.
func (ix *Indexer) Incremental(ctx context.Context, changes []Change) (*Summary, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	sum := &Summary{}

	sorted := make([]Change, len(changes))
	copy(sorted, changes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	// Raw targets whose resolution may have changed (ids and titles of
	// nodes added, replaced, or removed).
	var affected []string
	// Nodes upserted in this run; their references resolve in phase two.
	var touched []string

	for _, ch := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch ch.Op {
		case OpDelete:
			ids, titles, err := ix.dropPath(ch.Path)
			if err != nil {
				return nil, err
			}
			sum.Removed += len(ids)
			affected = append(affected, ids...)
			affected = append(affected, titles...)
		default:
			upserted, err := ix.applyUpsert(ch.Path, sum, &affected)
			if err != nil {
				return nil, err
			}
			if upserted != "" {
				touched = append(touched, upserted)
			}
		}
	}

	if err := ix.reresolve(ctx, touched, affected, sum); err != nil {
		return nil, err
	}

	sum.Duration = time.Since(start)
	ix.logger.Info("incremental reindex done",
		slog.Int("indexed", sum.Indexed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("removed", sum.Removed),
		slog.Duration("took", sum.Duration))
	return sum, nil
}

// dropPath removes whatever was indexed from a path, returning the removed
// identifiers and titles.
func (ix *Indexer) dropPath(path string) ([]string, []string, error) {
	node, err := ix.db.NodeByPath(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	ids, err := ix.db.DeleteByPath(path)
	if err != nil {
		return nil, nil, fmt.Errorf("indexer: drop %s: %w", path, err)
	}
	for _, id := range ids {
		ix.emit("removed", id)
	}
	return ids, []string{node.Title}, nil
}

// applyUpsert parses one changed file and commits its node row. Returns
// the upserted identifier, or empty when the file was skipped.
func (ix *Indexer) applyUpsert(path string, sum *Summary, affected *[]string) (string, error) {
	if !ix.scanner.IsCandidate(path) {
		return "", nil
	}

	old, err := ix.db.NodeByPath(path)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}

	doc, parseErr := ix.scanner.ParseFile(path)
	if parseErr != nil {
		// The file is no longer indexable; a full rescan would not carry
		// a node for it either.
		sum.Failed++
		sum.Failures = append(sum.Failures, models.ParseFailure{Path: path, Reason: parseErr.Error()})
		if old != nil {
			ids, titles, dropErr := ix.dropPath(path)
			if dropErr != nil {
				return "", dropErr
			}
			sum.Removed += len(ids)
			*affected = append(*affected, ids...)
			*affected = append(*affected, titles...)
		}
		return "", nil
	}

	if old != nil && old.ID == doc.ID && old.Checksum == doc.Checksum {
		sum.Skipped++
		return "", nil
	}
	if old != nil && old.ID != doc.ID {
		// The file changed identity; the old node goes away.
		if _, err := ix.db.DeleteByPath(path); err != nil {
			return "", fmt.Errorf("indexer: replace %s: %w", path, err)
		}
		ix.emit("removed", old.ID)
		sum.Removed++
		*affected = append(*affected, old.ID, old.Title)
	}

	// A different path may already hold this identifier. Duplicate ids
	// resolve by sorted path order, later path wins, so incremental runs
	// land where a full rescan would.
	if cur, curErr := ix.db.GetNode(doc.ID); curErr == nil && cur.FilePath != doc.Path {
		if doc.Path < cur.FilePath {
			ix.logger.Warn("duplicate identifier, existing path keeps it",
				slog.String("id", doc.ID),
				slog.String("kept", cur.FilePath),
				slog.String("shadowed", doc.Path))
			sum.Skipped++
			return "", nil
		}
		ix.logger.Warn("duplicate identifier, later path wins",
			slog.String("id", doc.ID),
			slog.String("kept", doc.Path),
			slog.String("shadowed", cur.FilePath))
		*affected = append(*affected, cur.Title)
	} else if curErr != nil && !errors.Is(curErr, apperr.ErrNotFound) {
		return "", curErr
	}

	node := models.Node{
		ID:       doc.ID,
		Type:     doc.Type,
		Status:   doc.Status,
		Title:    doc.Title,
		Attrs:    doc.Attrs,
		Body:     doc.Body,
		FilePath: doc.Path,
		Checksum: doc.Checksum,
	}
	if err := ix.db.UpsertNode(node, doc.Refs, nil, nil); err != nil {
		return "", fmt.Errorf("indexer: commit %s: %w", node.ID, err)
	}
	sum.Indexed++
	ix.emit("indexed", node.ID)
	*affected = append(*affected, doc.ID, doc.Title)
	if old != nil {
		*affected = append(*affected, old.Title)
	}
	return node.ID, nil
}

// reresolve recomputes edges for every touched source plus every source
// holding a raw reference to an affected identifier or title.
func (ix *Indexer) reresolve(ctx context.Context, touched, affected []string, sum *Summary) error {
	sources := make(map[string]struct{}, len(touched))
	for _, id := range touched {
		sources[id] = struct{}{}
	}
	if len(affected) > 0 {
		referencing, err := ix.db.SourcesReferencing(affected)
		if err != nil {
			return err
		}
		for _, id := range referencing {
			sources[id] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(sources))
	for id := range sources {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	resolver := &storeResolver{db: ix.db, logger: ix.logger}
	for _, id := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, typ, ok, err := ix.db.RefByID(id)
		if err != nil {
			return err
		}
		if !ok {
			continue // removed in this run
		}
		refs, err := ix.db.RefsBySource(id)
		if err != nil {
			return err
		}
		edges, broken := ix.builder.Resolve(id, typ, refs, resolver)
		if err := ix.db.ReplaceEdges(id, edges, broken); err != nil {
			return fmt.Errorf("indexer: re-resolve %s: %w", id, err)
		}
		sum.Edges += len(edges)
		sum.Broken += len(broken)
	}
	return nil
}

func (ix *Indexer) emit(kind, id string) {
	if ix.onEvent != nil {
		ix.onEvent(kind, id)
	}
}

// storeResolver resolves references against committed store state.
type storeResolver struct {
	db     *store.DB
	logger *slog.Logger
}

func (r *storeResolver) ByID(id string) (graph.NodeRef, bool) {
	nid, typ, ok, err := r.db.RefByID(id)
	if err != nil {
		r.logger.Warn("resolve by id failed", slog.String("id", id), slog.String("error", err.Error()))
		return graph.NodeRef{}, false
	}
	if !ok {
		return graph.NodeRef{}, false
	}
	return graph.NodeRef{ID: nid, Type: typ}, true
}

func (r *storeResolver) ByTitle(title string) (graph.NodeRef, bool) {
	id, typ, ok, err := r.db.RefByTitle(title)
	if err != nil {
		r.logger.Warn("resolve by title failed", slog.String("title", title), slog.String("error", err.Error()))
		return graph.NodeRef{}, false
	}
	if !ok {
		return graph.NodeRef{}, false
	}
	return graph.NodeRef{ID: id, Type: typ}, true
}
