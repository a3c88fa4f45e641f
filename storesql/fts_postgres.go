package storesql

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// postgresFTS uses a generated tsvector column plus a GIN index, the standard
// PostgreSQL full-text setup, applied to both memory tables.
type postgresFTS struct{}

func (postgresFTS) Install(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`ALTER TABLE short_term_memory ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('english', coalesce(searchable_content, '') || ' ' || coalesce(summary, ''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_short_term_search ON short_term_memory USING GIN (search_vector)`,
		`ALTER TABLE long_term_memory ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('english', coalesce(searchable_content, '') || ' ' || coalesce(summary, ''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_long_term_search ON long_term_memory USING GIN (search_vector)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storesql: postgres fts setup: %w", err)
		}
	}
	return nil
}

func (postgresFTS) Search(ctx context.Context, db *sql.DB, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error) {
	const tmpl = `
SELECT memory_id, tier, ts_rank(search_vector, plainto_tsquery('english', $2)) AS rank
FROM (
	SELECT memory_id, 'short_term' AS tier, search_vector FROM short_term_memory
	WHERE namespace = $1 AND (is_permanent_context OR expires_at IS NULL OR expires_at > $3)
	UNION ALL
	SELECT memory_id, 'long_term' AS tier, search_vector FROM long_term_memory WHERE namespace = $1
) combined
WHERE search_vector @@ plainto_tsquery('english', $2) %s
ORDER BY rank DESC
LIMIT %s`

	args := []any{namespace, query, now}
	filter := ""
	limitPlaceholder := "$4"
	if category != "" {
		filter = "AND memory_id IN (SELECT memory_id FROM long_term_memory WHERE category_primary = $4 UNION SELECT memory_id FROM short_term_memory WHERE category_primary = $4)"
		args = append(args, category)
		limitPlaceholder = "$5"
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, fmt.Sprintf(tmpl, filter, limitPlaceholder), args...)
	if err != nil {
		return nil, fmt.Errorf("storesql: postgres fts search: %w", err)
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
