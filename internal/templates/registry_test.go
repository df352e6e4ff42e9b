package templates

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsEmptyRegistry(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reg.Classify("person", "project"); got != "reference" {
		t.Errorf("classify = %q, want reference", got)
	}
}

func TestLoad_ParsesEntitiesAndRelations(t *testing.T) {
	src := `entities:
  person:
    attributes:
      - name: email
        kind: string
  project:
    attributes:
      - name: deadline
        kind: string
relations:
  - source: person
    target: project
    kind: works_on
  - source: "*"
    target: person
    kind: mentions
`
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.Entities) != 2 {
		t.Errorf("len(entities) = %d, want 2", len(reg.Entities))
	}
	if attrs := reg.Entities["person"].Attributes; len(attrs) != 1 || attrs[0].Name != "email" {
		t.Errorf("person attributes = %+v", attrs)
	}
	if len(reg.Relations) != 2 {
		t.Fatalf("len(relations) = %d, want 2", len(reg.Relations))
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	reg := &Registry{Relations: []RelationRule{
		{Source: "person", Target: "project", Kind: "works_on"},
		{Source: "*", Target: "project", Kind: "touches"},
		{Source: "*", Target: "*", Kind: "linked"},
	}}
	cases := []struct {
		src, tgt, want string
	}{
		{"person", "project", "works_on"},
		{"note", "project", "touches"},
		{"note", "person", "linked"},
	}
	for _, tc := range cases {
		if got := reg.Classify(tc.src, tc.tgt); got != tc.want {
			t.Errorf("Classify(%q, %q) = %q, want %q", tc.src, tc.tgt, got, tc.want)
		}
	}
}

func TestClassify_EmptyKindSkipped(t *testing.T) {
	reg := &Registry{Relations: []RelationRule{
		{Source: "*", Target: "*", Kind: ""},
	}}
	if got := reg.Classify("a", "b"); got != "reference" {
		t.Errorf("classify = %q, want reference", got)
	}
}
