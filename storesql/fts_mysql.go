package storesql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// mysqlFTS uses MySQL's native FULLTEXT index and MATCH ... AGAINST in natural
// language mode.
type mysqlFTS struct{}

func (mysqlFTS) Install(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`ALTER TABLE short_term_memory ADD FULLTEXT INDEX ft_short_term_content (searchable_content, summary)`,
		`ALTER TABLE long_term_memory ADD FULLTEXT INDEX ft_long_term_content (searchable_content, summary)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateKey(err) {
				continue // index already installed
			}
			return fmt.Errorf("storesql: mysql fts setup: %w", err)
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "Duplicate key name") ||
		strings.Contains(err.Error(), "already exists"))
}

func (mysqlFTS) Search(ctx context.Context, db *sql.DB, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error) {
	const tmpl = `
SELECT memory_id, tier, score FROM (
	SELECT memory_id, 'short_term' AS tier, MATCH(searchable_content, summary) AGAINST (? IN NATURAL LANGUAGE MODE) AS score,
		category_primary
	FROM short_term_memory
	WHERE namespace = ? AND (is_permanent_context = 1 OR expires_at IS NULL OR expires_at > ?)
	UNION ALL
	SELECT memory_id, 'long_term' AS tier, MATCH(searchable_content, summary) AGAINST (? IN NATURAL LANGUAGE MODE) AS score,
		category_primary
	FROM long_term_memory WHERE namespace = ?
) combined
WHERE score > 0 %s
ORDER BY score DESC
LIMIT ?`

	args := []any{query, namespace, now, query, namespace}
	filter := ""
	if category != "" {
		filter = "AND category_primary = ?"
		args = append(args, category)
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, fmt.Sprintf(tmpl, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("storesql: mysql fts search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MemoryID, &h.Tier, &h.Score); err != nil {
			return nil, fmt.Errorf("storesql: scan fts hit: %w", err)
		}
		h.Strategy = "fts"
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
