package store

import (
	"errors"
	"os"
	"testing"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "othala-store-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func upsert(t *testing.T, db *DB, n models.Node, refs []string, edges []models.Edge, broken []models.BrokenRef) {
	t.Helper()
	if err := db.UpsertNode(n, refs, edges, broken); err != nil {
		t.Fatalf("upsert %s: %v", n.ID, err)
	}
}

func TestUpsertBatch_CommitsWholeRebuild(t *testing.T) {
	db := testDB(t)
	// a's edge targets b, which lands later in the same batch; the batch
	// commits as one transaction so the edge and its target row appear
	// together.
	err := db.UpsertBatch([]NodeRecord{
		{
			Node:  models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"},
			Refs:  []string{"b"},
			Edges: []models.Edge{{SourceID: "a", TargetID: "b", Kind: "reference"}},
		},
		{
			Node:   models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md"},
			Broken: []models.BrokenRef{{SourceID: "b", Target: "Gone"}},
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes != 2 || stats.Edges != 1 || stats.BrokenRefs != 1 {
		t.Errorf("stats = %+v, want 2 nodes, 1 edge, 1 broken", stats)
	}
	rels, err := db.Relationships("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].TargetID != "b" {
		t.Errorf("rels = %+v", rels)
	}
}

func TestUpsertAndGetNode(t *testing.T) {
	db := testDB(t)
	n := models.Node{
		ID: "alice", Type: "person", Status: "active", Title: "Alice",
		Attrs: models.Attributes{
			{Key: "email", Value: models.StringValue("alice@example.com")},
			{Key: "level", Value: models.NumberValue(3)},
		},
		Body: "Knows [[bob]].", FilePath: "alice.md", Checksum: "abc",
	}
	upsert(t, db, n, []string{"bob"}, nil, nil)

	got, err := db.GetNode("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Alice" || got.Type != "person" || got.FilePath != "alice.md" {
		t.Errorf("node = %+v", got)
	}
	if len(got.Attrs) != 2 || got.Attrs[0].Key != "email" || got.Attrs[1].Key != "level" {
		t.Errorf("attrs = %+v, want ordered email, level", got.Attrs)
	}
	if v, _ := got.Attrs.Get("level"); v.Num != 3 {
		t.Errorf("level = %+v", v)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestUpsert_ReplacesAndPreservesCreatedAt(t *testing.T) {
	db := testDB(t)
	n := models.Node{ID: "n1", Type: "note", Status: "draft", Title: "First", FilePath: "n1.md", Checksum: "c1"}
	upsert(t, db, n, []string{"a", "b"}, nil, nil)

	first, err := db.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}

	n.Title = "Second"
	n.Status = "active"
	n.Checksum = "c2"
	upsert(t, db, n, []string{"c"}, nil, nil)

	got, err := db.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Second" || got.Status != "active" || got.Checksum != "c2" {
		t.Errorf("node = %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	}

	refs, err := db.RefsBySource("n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "c" {
		t.Errorf("refs = %v, want [c]", refs)
	}
}

func TestGetNode_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetNode("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteNode_Cascades(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"},
		[]string{"b", "ghost"},
		[]models.Edge{{SourceID: "a", TargetID: "b", Kind: "reference"}},
		[]models.BrokenRef{{SourceID: "a", Target: "ghost"}})
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md"},
		[]string{"a"},
		[]models.Edge{{SourceID: "b", TargetID: "a", Kind: "reference"}}, nil)

	if err := db.DeleteNode("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetNode("a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("node a still present: %v", err)
	}
	// Inbound edge from b must be gone too.
	edges, err := db.AllEdges()
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Errorf("edges = %+v, want none", edges)
	}
	refs, err := db.RefsBySource("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Errorf("refs = %v, want none", refs)
	}
	broken, err := db.AllBrokenRefs()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Errorf("broken = %+v, want none", broken)
	}
	// b's raw refs survive: only resolution artifacts cascade.
	bRefs, err := db.RefsBySource("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(bRefs) != 1 || bRefs[0] != "a" {
		t.Errorf("b refs = %v, want [a]", bRefs)
	}
}

func TestDeleteNode_NotFound(t *testing.T) {
	db := testDB(t)
	if err := db.DeleteNode("ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteByPath(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "x", Type: "note", Status: "active", Title: "X", FilePath: "x.md"}, nil, nil, nil)

	ids, err := db.DeleteByPath("x.md")
	if err != nil {
		t.Fatalf("delete by path: %v", err)
	}
	if len(ids) != 1 || ids[0] != "x" {
		t.Errorf("ids = %v, want [x]", ids)
	}

	ids, err = db.DeleteByPath("unknown.md")
	if err != nil {
		t.Fatalf("delete unknown path: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestListByType(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "p2", Type: "project", Status: "done", Title: "P2", FilePath: "p2.md"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "p1", Type: "project", Status: "active", Title: "P1", FilePath: "p1.md"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "n1", Type: "note", Status: "active", Title: "N1", FilePath: "n1.md"}, nil, nil, nil)

	all, err := db.ListByType("project", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "p1" || all[1].ID != "p2" {
		t.Errorf("all = %+v, want p1 then p2", all)
	}

	active, err := db.ListByType("project", []string{"active"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "p1" {
		t.Errorf("active = %+v, want [p1]", active)
	}

	limited, err := db.ListByType("project", nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %+v, want 1 node", limited)
	}
}

func TestRelationships(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"},
		nil, []models.Edge{{SourceID: "a", TargetID: "b", Kind: "reference"}}, nil)
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md"},
		nil, []models.Edge{{SourceID: "b", TargetID: "c", Kind: "reference"}}, nil)
	upsert(t, db, models.Node{ID: "c", Type: "note", Status: "active", Title: "C", FilePath: "c.md"}, nil, nil, nil)

	rels, err := db.Relationships("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 2 {
		t.Fatalf("rels = %+v, want inbound and outbound", rels)
	}
	if rels[0].SourceID != "a" || rels[1].SourceID != "b" {
		t.Errorf("order = %v %v", rels[0], rels[1])
	}
}

func TestEdgeUniqueness(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"}, nil,
		[]models.Edge{
			{SourceID: "a", TargetID: "b", Kind: "reference"},
			{SourceID: "a", TargetID: "b", Kind: "reference"},
			{SourceID: "a", TargetID: "b", Kind: "mentions"},
		}, nil)

	edges, err := db.AllEdges()
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Errorf("edges = %+v, want 2 (duplicate collapsed, distinct kind kept)", edges)
	}
}

func TestSourcesReferencing(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"},
		[]string{"Project X", "bob"}, nil, nil)
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md"},
		[]string{"project x"}, nil, nil)
	upsert(t, db, models.Node{ID: "c", Type: "note", Status: "active", Title: "C", FilePath: "c.md"},
		[]string{"other"}, nil, nil)

	ids, err := db.SourcesReferencing([]string{"PROJECT X"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}

	ids, err = db.SourcesReferencing([]string{"", "  "})
	if err != nil {
		t.Fatal(err)
	}
	if ids != nil {
		t.Errorf("ids = %v, want nil for empty targets", ids)
	}
}

func TestRefByIDAndTitle(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "zz", Type: "note", Status: "active", Title: "Shared", FilePath: "zz.md"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "aa", Type: "task", Status: "active", Title: "shared", FilePath: "aa.md"}, nil, nil, nil)

	id, typ, ok, err := db.RefByID("zz")
	if err != nil || !ok || id != "zz" || typ != "note" {
		t.Errorf("RefByID = %q %q %v %v", id, typ, ok, err)
	}
	_, _, ok, err = db.RefByID("ghost")
	if err != nil || ok {
		t.Errorf("RefByID ghost = %v %v, want miss", ok, err)
	}

	id, typ, ok, err = db.RefByTitle("SHARED")
	if err != nil || !ok {
		t.Fatalf("RefByTitle = %v %v", ok, err)
	}
	if id != "aa" || typ != "task" {
		t.Errorf("RefByTitle = %q %q, want smallest id aa", id, typ)
	}
}

func TestSearch_TitleOutranksBody(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "body-hit", Type: "note", Status: "active", Title: "Other", Body: "mentions gardening once", FilePath: "b.md"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "title-hit", Type: "note", Status: "active", Title: "Gardening Guide", Body: "soil", FilePath: "t.md"}, nil, nil, nil)

	hits, err := db.Search("gardening", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v, want 2", hits)
	}
	if hits[0].ID != "title-hit" {
		t.Errorf("first hit = %q, want title-hit", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores = %v %v, want title above body", hits[0].Score, hits[1].Score)
	}
}

func TestSearch_AttributeMatch(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{
		ID: "n1", Type: "note", Status: "active", Title: "Plain", FilePath: "n1.md",
		Attrs: models.Attributes{{Key: "owner", Value: models.StringValue("heimdall")}},
	}, nil, nil, nil)

	hits, err := db.Search("heimdall", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "n1" {
		t.Errorf("hits = %+v, want [n1]", hits)
	}
}

func TestGetStats(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "person", Status: "active", Title: "A", FilePath: "a.md"},
		[]string{"b", "ghost"},
		[]models.Edge{{SourceID: "a", TargetID: "b", Kind: "reference"}},
		[]models.BrokenRef{{SourceID: "a", Target: "ghost"}})
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "draft", Title: "B", FilePath: "b.md"}, nil, nil, nil)

	s, err := db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Nodes != 2 || s.Edges != 1 || s.BrokenRefs != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.ByType["person"] != 1 || s.ByType["note"] != 1 {
		t.Errorf("by type = %v", s.ByType)
	}
	if s.ByStatus["active"] != 1 || s.ByStatus["draft"] != 1 {
		t.Errorf("by status = %v", s.ByStatus)
	}
}

func TestAllChecksumsAndPaths(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md", Checksum: "c-a"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md", Checksum: "c-b"}, nil, nil, nil)

	cs, err := db.AllChecksums()
	if err != nil {
		t.Fatal(err)
	}
	if cs["a.md"] != "c-a" || cs["b.md"] != "c-b" {
		t.Errorf("checksums = %v", cs)
	}

	paths, err := db.AllPaths()
	if err != nil {
		t.Fatal(err)
	}
	if paths["a.md"] != "a" || paths["b.md"] != "b" {
		t.Errorf("paths = %v", paths)
	}
}

func TestAllNodeSummaries(t *testing.T) {
	db := testDB(t)
	upsert(t, db, models.Node{ID: "b", Type: "note", Status: "active", Title: "B", FilePath: "b.md"}, nil, nil, nil)
	upsert(t, db, models.Node{ID: "a", Type: "note", Status: "active", Title: "A", FilePath: "a.md"}, nil, nil, nil)

	ns, err := db.AllNodeSummaries()
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 2 || ns[0].ID != "a" || ns[1].ID != "b" {
		t.Errorf("summaries = %+v, want sorted by id", ns)
	}
}
