package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/halvard/othala/internal/models"
)

// Relationships returns every edge where id is source or target, ordered
// deterministically.
func (db *DB) Relationships(id string) ([]models.Edge, error) {
	rows, err := db.conn.Query(`
		SELECT source_id, target_id, kind, context
		FROM edges
		WHERE source_id = ? OR target_id = ?
		ORDER BY source_id, target_id, kind
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("store: relationships: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// AllEdges returns every stored edge, ordered deterministically.
func (db *DB) AllEdges() ([]models.Edge, error) {
	rows, err := db.conn.Query(`
		SELECT source_id, target_id, kind, context
		FROM edges
		ORDER BY source_id, target_id, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("store: all edges: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

func collectEdges(rows *sql.Rows) ([]models.Edge, error) {
	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Kind, &e.Context); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllBrokenRefs returns every recorded broken reference.
func (db *DB) AllBrokenRefs() ([]models.BrokenRef, error) {
	rows, err := db.conn.Query(`SELECT source_id, target FROM broken_refs ORDER BY source_id, target`)
	if err != nil {
		return nil, fmt.Errorf("store: all broken refs: %w", err)
	}
	defer rows.Close()
	var out []models.BrokenRef
	for rows.Next() {
		var b models.BrokenRef
		if err := rows.Scan(&b.SourceID, &b.Target); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RefsBySource returns a node's raw reference targets in document order.
func (db *DB) RefsBySource(id string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT target FROM refs WHERE source_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("store: refs by source: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SourcesReferencing returns the identifiers of every node with a raw
// reference matching one of the targets, case-insensitively. Used by
// incremental reindexing to find sources whose resolution may have changed.
func (db *DB) SourcesReferencing(targets []string) ([]string, error) {
	lowered := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		l := strings.ToLower(strings.TrimSpace(t))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		lowered = append(lowered, l)
	}
	if len(lowered) == 0 {
		return nil, nil
	}

	query := `SELECT DISTINCT source_id FROM refs WHERE lower(target) IN (?` +
		strings.Repeat(",?", len(lowered)-1) + `) ORDER BY source_id`
	args := make([]any, len(lowered))
	for i, l := range lowered {
		args[i] = l
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: sources referencing: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RefByID resolves an exact node identifier to a (id, type) pair.
func (db *DB) RefByID(id string) (string, string, bool, error) {
	var typ string
	err := db.conn.QueryRow(`SELECT type FROM nodes WHERE id = ?`, id).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("store: ref by id: %w", err)
	}
	return id, typ, true, nil
}

// RefByTitle resolves a case-insensitive title match; on a collision the
// lexicographically smallest identifier wins.
func (db *DB) RefByTitle(title string) (string, string, bool, error) {
	var id, typ string
	err := db.conn.QueryRow(`
		SELECT id, type FROM nodes WHERE lower(title) = lower(?) ORDER BY id LIMIT 1
	`, title).Scan(&id, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("store: ref by title: %w", err)
	}
	return id, typ, true, nil
}
