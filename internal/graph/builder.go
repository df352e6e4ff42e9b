// Package graph converts scanned documents into nodes and resolves
// embedded references into directed edges.
package graph

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/scanner"
)

// Classifier returns the relationship kind for an edge between two entity
// types. It is injected by the template registry.
type Classifier func(sourceType, targetType string) string

// NodeRef is the minimal handle resolution needs: the node identifier and
// its declared type.
type NodeRef struct {
	ID   string
	Type string
}

// Resolver answers reference lookups. ByTitle is case-insensitive; when
// several nodes share a title it must return the lexicographically
// smallest identifier so rebuilds stay deterministic.
type Resolver interface {
	ByID(id string) (NodeRef, bool)
	ByTitle(title string) (NodeRef, bool)
}

// Builder resolves document references into edges.
type Builder struct {
	classify Classifier
	logger   *slog.Logger
}

// NewBuilder creates a Builder. A nil classifier means every edge gets the
// default kind.
func NewBuilder(classify Classifier, logger *slog.Logger) *Builder {
	return &Builder{classify: classify, logger: logger}
}

// Result is the full set of records to persist for one build. Edges and
// broken references are grouped by source so the store can replace each
// source's outbound set in one transaction.
type Result struct {
	Nodes  []models.Node
	Edges  map[string][]models.Edge
	Broken map[string][]models.BrokenRef
}

// EdgeCount returns the total number of edges across all sources.
func (r *Result) EdgeCount() int {
	n := 0
	for _, es := range r.Edges {
		n += len(es)
	}
	return n
}

// BrokenCount returns the total number of broken references.
func (r *Result) BrokenCount() int {
	n := 0
	for _, bs := range r.Broken {
		n += len(bs)
	}
	return n
}

// Build maps every snapshot document to a node and resolves its references
// against the snapshot. Output ordering is deterministic: nodes sorted by
// identifier, edges in each document's reference order.
func (b *Builder) Build(snap *scanner.Snapshot) *Result {
	res := &Result{
		Edges:  make(map[string][]models.Edge),
		Broken: make(map[string][]models.BrokenRef),
	}

	ids := make([]string, 0, len(snap.Docs))
	for id := range snap.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resolver := NewSnapshotResolver(snap)
	for _, id := range ids {
		doc := snap.Docs[id]
		res.Nodes = append(res.Nodes, models.Node{
			ID:       doc.ID,
			Type:     doc.Type,
			Status:   doc.Status,
			Title:    doc.Title,
			Attrs:    doc.Attrs,
			Body:     doc.Body,
			FilePath: doc.Path,
			Checksum: doc.Checksum,
		})
		edges, broken := b.Resolve(doc.ID, doc.Type, doc.Refs, resolver)
		if len(edges) > 0 {
			res.Edges[doc.ID] = edges
		}
		if len(broken) > 0 {
			res.Broken[doc.ID] = broken
		}
	}
	return res
}

// Resolve turns one source's reference targets into edges and broken
// references. Targets resolve first by exact identifier, then by
// case-insensitive title. An unresolved target is recorded, never
// materialized as an edge. Distinct raw targets resolving to the same
// node yield one edge.
func (b *Builder) Resolve(sourceID, sourceType string, refs []string, r Resolver) ([]models.Edge, []models.BrokenRef) {
	var edges []models.Edge
	var broken []models.BrokenRef
	seen := make(map[models.Edge]struct{}, len(refs))
	for _, target := range refs {
		ref, ok := r.ByID(target)
		if !ok {
			ref, ok = r.ByTitle(target)
		}
		if !ok {
			broken = append(broken, models.BrokenRef{SourceID: sourceID, Target: target})
			continue
		}
		kind := models.DefaultEdgeKind
		if b.classify != nil {
			kind = b.classify(sourceType, ref.Type)
		}
		edge := models.Edge{SourceID: sourceID, TargetID: ref.ID, Kind: kind}
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		edges = append(edges, edge)
	}
	return edges, broken
}

// SnapshotResolver resolves references against an in-memory snapshot.
type SnapshotResolver struct {
	byID    map[string]NodeRef
	byTitle map[string]NodeRef
}

// NewSnapshotResolver indexes the snapshot for resolution. Title
// collisions keep the smallest identifier.
func NewSnapshotResolver(snap *scanner.Snapshot) *SnapshotResolver {
	r := &SnapshotResolver{
		byID:    make(map[string]NodeRef, len(snap.Docs)),
		byTitle: make(map[string]NodeRef, len(snap.Docs)),
	}
	for id, doc := range snap.Docs {
		ref := NodeRef{ID: id, Type: doc.Type}
		r.byID[id] = ref
		key := strings.ToLower(doc.Title)
		if key == "" {
			continue
		}
		if prev, ok := r.byTitle[key]; !ok || id < prev.ID {
			r.byTitle[key] = ref
		}
	}
	return r
}

// ByID resolves an exact identifier match.
func (r *SnapshotResolver) ByID(id string) (NodeRef, bool) {
	ref, ok := r.byID[id]
	return ref, ok
}

// ByTitle resolves a case-insensitive title match.
func (r *SnapshotResolver) ByTitle(title string) (NodeRef, bool) {
	ref, ok := r.byTitle[strings.ToLower(title)]
	return ref, ok
}
