package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/models"
)

// NodeRecord bundles a node with the reference data committed alongside
// it: raw targets, resolved edges, and broken references.
type NodeRecord struct {
	Node   models.Node
	Refs   []string
	Edges  []models.Edge
	Broken []models.BrokenRef
}

// UpsertNode inserts or replaces a node together with its raw reference
// targets, outbound edges, broken references, and full-text entry, all in
// one transaction. A re-index always replaces the full record; partial
// node updates do not exist.
func (db *DB) UpsertNode(n models.Node, refs []string, edges []models.Edge, broken []models.BrokenRef) error {
	return db.UpsertBatch([]NodeRecord{{Node: n, Refs: refs, Edges: edges, Broken: broken}})
}

// UpsertBatch commits a set of node records in a single transaction.
// Readers observe the whole batch or none of it, so an edge whose target
// lands later in the batch is never visible without its target row.
func (db *DB) UpsertBatch(records []NodeRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, rec := range records {
		if err := upsertNodeTx(tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertNodeTx(tx *sql.Tx, rec NodeRecord) error {
	n := rec.Node
	attrsJSON, err := json.Marshal(n.Attrs)
	if err != nil {
		return fmt.Errorf("store: marshal attrs: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO nodes (id, type, status, title, attrs, body, file_path, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type       = excluded.type,
			status     = excluded.status,
			title      = excluded.title,
			attrs      = excluded.attrs,
			body       = excluded.body,
			file_path  = excluded.file_path,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, n.ID, n.Type, n.Status, n.Title, string(attrsJSON), n.Body, n.FilePath, n.Checksum, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert node: %w", err)
	}

	if err := replaceRefs(tx, n.ID, rec.Refs); err != nil {
		return err
	}
	if err := replaceEdges(tx, n.ID, rec.Edges); err != nil {
		return err
	}
	if err := replaceBroken(tx, n.ID, rec.Broken); err != nil {
		return err
	}
	return ftsUpsert(tx, n.ID, n.Title, n.Body, n.Attrs.Flatten())
}

// ReplaceEdges replaces the full outbound edge and broken-reference sets
// for a source in one transaction. No partial edge lists survive.
func (db *DB) ReplaceEdges(sourceID string, edges []models.Edge, broken []models.BrokenRef) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := replaceEdges(tx, sourceID, edges); err != nil {
		return err
	}
	if err := replaceBroken(tx, sourceID, broken); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteNode removes a node and cascades: every edge touching it as source
// or target, its raw references, broken references, and full-text entry go
// in the same transaction. Returns apperr.ErrNotFound for an unknown id.
func (db *DB) DeleteNode(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	if err := cascadeDelete(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteByPath removes every node indexed from the given file path and
// returns their identifiers. Unknown paths delete nothing.
func (db *DB) DeleteByPath(path string) ([]string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.Query(`SELECT id FROM nodes WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("store: nodes by path: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("store: delete node: %w", err)
		}
		if err := cascadeDelete(tx, id); err != nil {
			return nil, err
		}
	}
	return ids, tx.Commit()
}

func cascadeDelete(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("store: cascade edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM refs WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("store: cascade refs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM broken_refs WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("store: cascade broken refs: %w", err)
	}
	ftsDelete(tx, id)
	return nil
}

func replaceRefs(tx *sql.Tx, sourceID string, refs []string) error {
	if _, err := tx.Exec(`DELETE FROM refs WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: clear refs: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO refs (source_id, position, target) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare ref insert: %w", err)
	}
	defer stmt.Close()
	for i, target := range refs {
		if _, err := stmt.Exec(sourceID, i, target); err != nil {
			return fmt.Errorf("store: insert ref: %w", err)
		}
	}
	return nil
}

func replaceEdges(tx *sql.Tx, sourceID string, edges []models.Edge) error {
	if _, err := tx.Exec(`DELETE FROM edges WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: clear edges: %w", err)
	}
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO edges (source_id, target_id, kind, context) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare edge insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range edges {
		if _, err := stmt.Exec(sourceID, e.TargetID, e.Kind, e.Context); err != nil {
			return fmt.Errorf("store: insert edge: %w", err)
		}
	}
	return nil
}

func replaceBroken(tx *sql.Tx, sourceID string, broken []models.BrokenRef) error {
	if _, err := tx.Exec(`DELETE FROM broken_refs WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: clear broken refs: %w", err)
	}
	if len(broken) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO broken_refs (source_id, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare broken insert: %w", err)
	}
	defer stmt.Close()
	for _, b := range broken {
		if _, err := stmt.Exec(sourceID, b.Target); err != nil {
			return fmt.Errorf("store: insert broken ref: %w", err)
		}
	}
	return nil
}

const nodeColumns = `id, type, status, title, attrs, body, file_path, checksum, created_at, updated_at`

func scanNode(scanner interface{ Scan(dest ...any) error }) (models.Node, error) {
	var n models.Node
	var attrs string
	if err := scanner.Scan(&n.ID, &n.Type, &n.Status, &n.Title, &attrs, &n.Body,
		&n.FilePath, &n.Checksum, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return models.Node{}, err
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &n.Attrs); err != nil {
			return models.Node{}, fmt.Errorf("store: unmarshal attrs for %s: %w", n.ID, err)
		}
	}
	return n, nil
}

// GetNode returns the node by identifier or apperr.ErrNotFound.
func (db *DB) GetNode(id string) (*models.Node, error) {
	row := db.conn.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("store: get node: %w", err)
	}
	return &n, nil
}

// NodeByPath returns the node indexed from the given file path, or
// apperr.ErrNotFound.
func (db *DB) NodeByPath(path string) (*models.Node, error) {
	row := db.conn.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE file_path = ? ORDER BY id LIMIT 1`, path)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("store: node by path: %w", err)
	}
	return &n, nil
}

// ListByType returns nodes of the given type, optionally restricted to a
// status set, ordered by identifier.
func (db *DB) ListByType(typ string, statuses []string, limit int) ([]models.Node, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE type = ?`
	args := []any{typ}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list by type: %w", err)
	}
	defer rows.Close()

	var out []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed file path mapped to its node identifier.
func (db *DB) AllPaths() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT file_path, id FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("store: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, id string
		if err := rows.Scan(&p, &id); err != nil {
			return nil, err
		}
		out[p] = id
	}
	return out, rows.Err()
}

// AllChecksums returns every indexed file path mapped to its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT file_path, checksum FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("store: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// NodeSummary is the lightweight representation used by graph listings.
type NodeSummary struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

// AllNodeSummaries returns every node without body or attributes, ordered
// by identifier.
func (db *DB) AllNodeSummaries() ([]NodeSummary, error) {
	rows, err := db.conn.Query(`SELECT id, type, status, title FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: all node summaries: %w", err)
	}
	defer rows.Close()
	var out []NodeSummary
	for rows.Next() {
		var n NodeSummary
		if err := rows.Scan(&n.ID, &n.Type, &n.Status, &n.Title); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Stats summarizes the stored graph.
type Stats struct {
	Nodes      int            `json:"nodes"`
	Edges      int            `json:"edges"`
	BrokenRefs int            `json:"broken_refs"`
	ByType     map[string]int `json:"by_type"`
	ByStatus   map[string]int `json:"by_status"`
}

// GetStats returns aggregate counts over nodes, edges, and broken
// references.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{ByType: make(map[string]int), ByStatus: make(map[string]int)}
	if err := db.conn.QueryRow(`SELECT count(*) FROM nodes`).Scan(&s.Nodes); err != nil {
		return nil, fmt.Errorf("store: count nodes: %w", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM edges`).Scan(&s.Edges); err != nil {
		return nil, fmt.Errorf("store: count edges: %w", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM broken_refs`).Scan(&s.BrokenRefs); err != nil {
		return nil, fmt.Errorf("store: count broken refs: %w", err)
	}
	for _, agg := range []struct {
		column string
		dest   map[string]int
	}{{"type", s.ByType}, {"status", s.ByStatus}} {
		rows, err := db.conn.Query(`SELECT ` + agg.column + `, count(*) FROM nodes GROUP BY ` + agg.column)
		if err != nil {
			return nil, fmt.Errorf("store: aggregate %s: %w", agg.column, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			agg.dest[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return s, nil
}
