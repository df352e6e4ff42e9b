// Package scanner walks the vault, parses candidate files, and assembles
// an in-memory index snapshot with per-file failure isolation.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/halvard/othala/internal/checksum"
	"github.com/halvard/othala/internal/models"
	"github.com/halvard/othala/internal/parser"
	"github.com/halvard/othala/internal/vault"
)

const defaultConcurrency = 8

// Snapshot is the aggregate produced by one scan: documents keyed three
// ways plus the parse failures collected along the way.
type Snapshot struct {
	Docs     map[string]*models.Document
	ByType   map[string][]string
	ByStatus map[string][]string
	Paths    map[string]string // relative path -> document id
	Failures []models.ParseFailure
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Docs:     make(map[string]*models.Document),
		ByType:   make(map[string][]string),
		ByStatus: make(map[string][]string),
		Paths:    make(map[string]string),
	}
}

// Progress is invoked after each candidate file is handled.
type Progress func(processed, total int)

// Options configure a Scanner.
type Options struct {
	// Excludes are exclusion patterns applied to directory and file base
	// names before descending.
	Excludes []string
	// Concurrency caps concurrent file reads. Defaults to 8.
	Concurrency int
	// OnProgress, if non-nil, receives aggregate progress.
	OnProgress Progress
}

// Scanner discovers and parses vault documents.
type Scanner struct {
	vault       *vault.FS
	rules       *RuleSet
	concurrency int
	onProgress  Progress
	logger      *slog.Logger
}

// New creates a Scanner over the given vault.
func New(v *vault.FS, opts Options, logger *slog.Logger) (*Scanner, error) {
	rules, err := NewRuleSet(opts.Excludes)
	if err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Scanner{
		vault:       v,
		rules:       rules,
		concurrency: concurrency,
		onProgress:  opts.OnProgress,
		logger:      logger,
	}, nil
}

// IsCandidate reports whether the relative path names a markdown-like file
// that a scan would index. Every path segment must clear the exclusion
// rules, so a file inside an excluded directory is never a candidate.
func (s *Scanner) IsCandidate(rel string) bool {
	if s.IsExcluded(rel) {
		return false
	}
	return isMarkdown(filepath.Base(filepath.FromSlash(rel)))
}

// IsExcluded reports whether any segment of the relative path matches an
// exclusion rule.
func (s *Scanner) IsExcluded(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(filepath.FromSlash(rel)), "/") {
		if seg == "" || seg == "." {
			continue
		}
		if s.rules.Match(seg) {
			return true
		}
	}
	return false
}

// Scan walks the vault root and produces a full snapshot. Individual bad
// files are recorded as failures and never abort the scan; only an
// unreadable root is fatal.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	candidates, err := s.collect()
	if err != nil {
		return nil, err
	}

	type outcome struct {
		doc     *models.Document
		failure *models.ParseFailure
	}
	results := make([]outcome, len(candidates))
	var processed atomic.Int64
	total := len(candidates)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, rel := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, parseErr := s.ParseFile(rel)
			if parseErr != nil {
				results[i] = outcome{failure: &models.ParseFailure{Path: rel, Reason: failureReason(parseErr)}}
			} else {
				results[i] = outcome{doc: doc}
			}
			if s.onProgress != nil {
				s.onProgress(int(processed.Add(1)), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in sorted path order so duplicate-id resolution is
	// deterministic: the later path wins, with a warning.
	snap := NewSnapshot()
	for _, r := range results {
		if r.failure != nil {
			snap.Failures = append(snap.Failures, *r.failure)
			continue
		}
		s.merge(snap, r.doc)
	}
	return snap, nil
}

// ParseFile reads and parses one vault file, stamping checksum and mtime.
func (s *Scanner) ParseFile(rel string) (*models.Document, error) {
	data, err := s.vault.Read(rel)
	if err != nil {
		return nil, err
	}
	doc, err := parser.Parse(data, rel)
	if err != nil {
		return nil, err
	}
	doc.Checksum = checksum.Sum(data)
	if mt, statErr := s.vault.Stat(rel); statErr == nil {
		doc.ModTime = mt
	}
	return doc, nil
}

// collect enumerates candidate files under the root, pruning excluded
// subtrees before descending, and returns them sorted.
func (s *Scanner) collect() ([]string, error) {
	var candidates []string
	root := s.vault.Root()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			s.logger.Warn("scan: skipping unreadable entry", slog.String("path", p), slog.String("error", walkErr.Error()))
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && s.rules.Match(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.rules.Match(name) || !isMarkdown(name) {
			return nil
		}
		rel, relErr := s.vault.Rel(p)
		if relErr != nil {
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk root: %w", err)
	}
	sort.Strings(candidates)
	return candidates, nil
}

// merge adds a parsed document into the snapshot indexes. A duplicate
// identifier is overridden by the later path, with a warning.
func (s *Scanner) merge(snap *Snapshot, doc *models.Document) {
	if prev, ok := snap.Docs[doc.ID]; ok {
		s.logger.Warn("scan: duplicate identifier, later path wins",
			slog.String("id", doc.ID),
			slog.String("kept", doc.Path),
			slog.String("shadowed", prev.Path))
		removeFromSet(snap.ByType, prev.Type, prev.ID)
		removeFromSet(snap.ByStatus, prev.Status, prev.ID)
		delete(snap.Paths, prev.Path)
	}
	snap.Docs[doc.ID] = doc
	snap.ByType[doc.Type] = append(snap.ByType[doc.Type], doc.ID)
	snap.ByStatus[doc.Status] = append(snap.ByStatus[doc.Status], doc.ID)
	snap.Paths[doc.Path] = doc.ID
}

func removeFromSet(m map[string][]string, key, id string) {
	ids := m[key]
	for i, v := range ids {
		if v == id {
			m[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m[key]) == 0 {
		delete(m, key)
	}
}

func failureReason(err error) string {
	if pe, ok := err.(*parser.ParseError); ok {
		return pe.Reason
	}
	return err.Error()
}

func isMarkdown(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}
