package search

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/store"
	"github.com/halvard/othala/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, db *store.DB) {
	t.Helper()
	nodes := []models.Node{
		{ID: "plan", Type: "project", Status: "active", Title: "Harvest Plan", Body: "harvest schedule for the season", FilePath: "plan.md"},
		{ID: "note1", Type: "note", Status: "draft", Title: "Old Note", Body: "mentions harvest in passing", FilePath: "note1.md"},
		{ID: "note2", Type: "note", Status: "active", Title: "Field Note", Body: "harvest observations", FilePath: "note2.md"},
		{ID: "other", Type: "note", Status: "active", Title: "Unrelated", Body: "nothing here", FilePath: "other.md"},
	}
	for _, n := range nodes {
		if err := db.UpsertNode(n, nil, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.ReplaceEdges("plan", []models.Edge{
		{SourceID: "plan", TargetID: "other", Kind: "reference"},
	}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_RanksAndLimits(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{}, discard())

	res, err := e.Search(context.Background(), "harvest", Options{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(res.Hits))
	}
	// Title match outranks body matches.
	if res.Hits[0].Node.ID != "plan" {
		t.Errorf("first hit = %q, want plan", res.Hits[0].Node.ID)
	}
	if res.Meta.Strategy != "fulltext" {
		t.Errorf("strategy = %q, want fulltext", res.Meta.Strategy)
	}
	if res.Meta.TotalCandidates < 3 {
		t.Errorf("total candidates = %d, want >= 3", res.Meta.TotalCandidates)
	}
	if res.Meta.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestSearch_FilterIsPure(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{}, discard())

	unfiltered, err := e.Search(context.Background(), "harvest", Options{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	filtered, err := e.Search(context.Background(), "harvest", Options{
		Limit: 10, Types: []string{"note"}, Statuses: []string{"active"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if filtered.Meta.Strategy != "fulltext+filter" {
		t.Errorf("strategy = %q", filtered.Meta.Strategy)
	}
	if len(filtered.Hits) != 1 || filtered.Hits[0].Node.ID != "note2" {
		t.Fatalf("filtered hits = %+v, want [note2]", filtered.Hits)
	}
	// Survivors keep their relative order from the unfiltered ranking.
	pos := map[string]int{}
	for i, h := range unfiltered.Hits {
		pos[h.Node.ID] = i
	}
	last := -1
	for _, h := range filtered.Hits {
		if pos[h.Node.ID] < last {
			t.Error("filter reordered surviving hits")
		}
		last = pos[h.Node.ID]
	}
}

func TestSearch_FilterMatchingNothing(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{}, discard())

	res, err := e.Search(context.Background(), "harvest", Options{Types: []string{"person"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("hits = %+v, want none", res.Hits)
	}
}

func TestSearch_RelationshipExpansion(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{}, discard())

	res, err := e.Search(context.Background(), "Harvest Plan", Options{
		Limit: 1, IncludeRelationships: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Strategy != "fulltext+graph" {
		t.Errorf("strategy = %q", res.Meta.Strategy)
	}
	if len(res.Edges) != 1 || res.Edges[0].TargetID != "other" {
		t.Fatalf("edges = %+v", res.Edges)
	}
	if len(res.Related) != 1 || res.Related[0].ID != "other" {
		t.Fatalf("related = %+v", res.Related)
	}
}

func TestSearch_ExpansionSkipsResultNodes(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	// Both endpoints of the plan->other edge appear in the results;
	// neither may be duplicated into Related.
	e := New(db, Config{}, discard())
	res, err := e.Search(context.Background(), "e", Options{
		Limit: 10, IncludeRelationships: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	inHits := map[string]bool{}
	for _, h := range res.Hits {
		inHits[h.Node.ID] = true
	}
	for _, r := range res.Related {
		if inHits[r.ID] {
			t.Errorf("related %q already in hits", r.ID)
		}
	}
}

func TestSearch_OverfetchCapped(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{OverfetchFactor: 100, MaxFetch: 2}, discard())

	res, err := e.Search(context.Background(), "harvest", Options{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.TotalCandidates > 2 {
		t.Errorf("candidates = %d, want <= 2 (MaxFetch)", res.Meta.TotalCandidates)
	}
}

func TestSearch_NoMatches(t *testing.T) {
	db := testutil.TestDB(t)
	seed(t, db)
	e := New(db, Config{}, discard())

	res, err := e.Search(context.Background(), "zzznothing", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 || res.Meta.TotalCandidates != 0 {
		t.Errorf("res = %+v, want empty", res)
	}
}
