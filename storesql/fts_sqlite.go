package storesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/smallnest/memorigo/internal/log"
)

// sqliteFTS indexes both memory tables into a single FTS5 virtual table, kept in
// sync by insert/update/delete triggers. If the
// sqlite3 build lacks the fts5 tag, Install falls back to recording that native
// search is unavailable and Search always returns ErrFullTextUnavailable.
type sqliteFTS struct{}

func (sqliteFTS) Install(ctx context.Context, db *sql.DB) error {
	const createTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	memory_id UNINDEXED,
	tier UNINDEXED,
	namespace UNINDEXED,
	category UNINDEXED,
	expires_at UNINDEXED,
	is_permanent_context UNINDEXED,
	content
);
`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		if isMissingFTS5(err) {
			log.Warn("storesql: sqlite3 build lacks fts5, falling back to LIKE search")
			return nil
		}
		return fmt.Errorf("storesql: create memory_fts: %w", err)
	}

	// Six triggers (insert/delete/update on each memory table) keep memory_fts
	// in sync with the content-bearing tables. The update triggers delete the
	// old memory_fts row and insert the new one rather than updating in place.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS trg_long_term_fts_ai AFTER INSERT ON long_term_memory BEGIN
			INSERT INTO memory_fts (memory_id, tier, namespace, category, expires_at, is_permanent_context, content)
			VALUES (new.memory_id, 'long_term', new.namespace, new.category_primary, NULL, 1, new.searchable_content || ' ' || new.summary);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_long_term_fts_ad AFTER DELETE ON long_term_memory BEGIN
			DELETE FROM memory_fts WHERE memory_id = old.memory_id AND tier = 'long_term';
		END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_long_term_fts_au AFTER UPDATE ON long_term_memory BEGIN
			DELETE FROM memory_fts WHERE memory_id = old.memory_id AND tier = 'long_term';
			INSERT INTO memory_fts (memory_id, tier, namespace, category, expires_at, is_permanent_context, content)
			VALUES (new.memory_id, 'long_term', new.namespace, new.category_primary, NULL, 1, new.searchable_content || ' ' || new.summary);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_short_term_fts_ai AFTER INSERT ON short_term_memory BEGIN
			INSERT INTO memory_fts (memory_id, tier, namespace, category, expires_at, is_permanent_context, content)
			VALUES (new.memory_id, 'short_term', new.namespace, new.category_primary, new.expires_at, new.is_permanent_context, new.searchable_content || ' ' || new.summary);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_short_term_fts_ad AFTER DELETE ON short_term_memory BEGIN
			DELETE FROM memory_fts WHERE memory_id = old.memory_id AND tier = 'short_term';
		END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_short_term_fts_au AFTER UPDATE ON short_term_memory BEGIN
			DELETE FROM memory_fts WHERE memory_id = old.memory_id AND tier = 'short_term';
			INSERT INTO memory_fts (memory_id, tier, namespace, category, expires_at, is_permanent_context, content)
			VALUES (new.memory_id, 'short_term', new.namespace, new.category_primary, new.expires_at, new.is_permanent_context, new.searchable_content || ' ' || new.summary);
		END;`,
	}
	for _, t := range triggers {
		if _, err := db.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("storesql: install fts sync trigger: %w", err)
		}
	}
	return nil
}

func isMissingFTS5(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrError
	}
	return false
}

func (sqliteFTS) Search(ctx context.Context, db *sql.DB, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error) {
	args := []any{namespace, query, now}
	filter := ""
	if category != "" {
		filter = "AND category = ?"
		args = append(args, category)
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT memory_id, tier, bm25(memory_fts) AS rank
FROM memory_fts
WHERE namespace = ? AND memory_fts MATCH ?
	AND (tier != 'short_term' OR is_permanent_context = 1 OR expires_at IS NULL OR expires_at > ?) %s
ORDER BY rank
LIMIT ?`, filter), args...)
	if err != nil {
		if isNoSuchTable(err) {
			return nil, ErrFullTextUnavailable
		}
		return nil, fmt.Errorf("storesql: sqlite fts search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var bm25 float64
		if err := rows.Scan(&h.MemoryID, &h.Tier, &bm25); err != nil {
			return nil, fmt.Errorf("storesql: scan fts hit: %w", err)
		}
		// bm25() returns lower (more negative)-is-better; fold into the engine's
		// higher-is-better (0,1] scale without ever reaching 0 for a real match.
		rawRank := -bm25
		if rawRank < 0 {
			rawRank = 0
		}
		h.Score = rawRank / (1 + rawRank)
		h.Strategy = "fts"
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func isNoSuchTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such module")
}
