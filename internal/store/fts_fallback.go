//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; search falls back to LIKE over node columns.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error {
	// Title, body, and attrs already live in the nodes table.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based scan over title, body, and serialized
// attributes (fallback when FTS5 is not compiled in). Title matches score
// above body matches; the identifier is a stable tie-break.
func (db *DB) Search(query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + escapeLike(query) + "%"
	rows, err := db.conn.Query(`
		SELECT id,
		       CASE WHEN title LIKE ? ESCAPE '\' THEN 2.0 ELSE 1.0 END AS score
		FROM nodes
		WHERE title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR attrs LIKE ? ESCAPE '\'
		ORDER BY score DESC, id
		LIMIT ?
	`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ID, &hit.Score); err != nil {
			return nil, err
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

// escapeLike neutralizes LIKE wildcards in user input so they match
// literally.
func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}
