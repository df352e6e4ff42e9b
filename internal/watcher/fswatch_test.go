package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/halvard/othala/internal/indexer"
	"github.com/halvard/othala/internal/vault"
)

// mdFilter accepts .md files and excludes anything under .git.
type mdFilter struct{}

func (mdFilter) IsCandidate(rel string) bool {
	return strings.HasSuffix(rel, ".md") && !(mdFilter{}).IsExcluded(rel)
}

func (mdFilter) IsExcluded(rel string) bool {
	return rel == ".git" || strings.HasPrefix(rel, ".git/")
}

func startWatch(t *testing.T, c *collector) string {
	t.Helper()
	dir := t.TempDir()
	v, err := vault.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	u := startUpdater(t, c, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, v, mdFilter{}, u, discard())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	return dir
}

func TestWatch_CreateModifyDelete(t *testing.T) {
	c := newCollector()
	dir := startWatch(t, c)

	path := filepath.Join(dir, "note.md")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := c.waitBatch(t)
	if len(batch) != 1 || batch[0].Path != "note.md" || batch[0].Op != indexer.OpCreate {
		t.Fatalf("create batch = %+v", batch)
	}

	if err := os.WriteFile(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch = c.waitBatch(t)
	if len(batch) != 1 || batch[0].Op != indexer.OpModify {
		t.Fatalf("modify batch = %+v", batch)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	batch = c.waitBatch(t)
	if len(batch) != 1 || batch[0].Op != indexer.OpDelete {
		t.Fatalf("delete batch = %+v", batch)
	}
}

func TestWatch_IgnoresNonCandidates(t *testing.T) {
	c := newCollector()
	dir := startWatch(t, c)

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if c.count() != 0 {
		t.Errorf("batches = %d, want 0 for non-candidate file", c.count())
	}
}

func TestWatch_ExcludedDirIgnored(t *testing.T) {
	c := newCollector()
	dir := startWatch(t, c)

	git := filepath.Join(dir, ".git")
	if err := os.Mkdir(git, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(git, "evil.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if c.count() != 0 {
		t.Errorf("batches = %d, want 0 for file in excluded dir", c.count())
	}
}

func TestWatch_NewDirectoryPickedUp(t *testing.T) {
	c := newCollector()
	dir := startWatch(t, c)

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the watcher pick up the new directory before writing into it.
	time.Sleep(150 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "inner.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := c.waitBatch(t)
	if len(batch) != 1 || batch[0].Path != "sub/inner.md" {
		t.Fatalf("batch = %+v, want sub/inner.md", batch)
	}
}
