package storesql

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Search tries the dialect's native full-text index first and falls back to a
// parameterized LIKE scan across both memory tables only if native search is
// unavailable. now is forwarded to both paths so an expired, non-permanent
// short_term_memory row never surfaces. Callers are expected to have already run the query through
// internal/validate (sanitize + audit) before this is called.
func (e *Engine) Search(ctx context.Context, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return e.recentRows(ctx, namespace, category, limit, now)
	}

	var hits []SearchHit
	err := e.Retry.Do(ctx, func() error {
		h, ftsErr := e.FTS.Search(ctx, e.DB, namespace, query, category, limit, now)
		if ftsErr == nil {
			hits = h
			return nil
		}
		if ftsErr != ErrFullTextUnavailable {
			return ftsErr
		}

		h, likeErr := e.likeSearch(ctx, namespace, query, category, limit, now)
		if likeErr != nil {
			return likeErr
		}
		hits = h
		return nil
	})
	return hits, err
}

// likeSearch is the universal fallback: a substring match against
// searchable_content, ordered newest first and scored by result position since
// LIKE carries no native ranking signal. The short_term_memory leg excludes rows
// that have expired and are not permanent, matching the FTS paths.
func (e *Engine) likeSearch(ctx context.Context, namespace, query, category string, limit int, now time.Time) ([]SearchHit, error) {
	pattern := "%" + escapeLike(query) + "%"

	const tmpl = `
SELECT memory_id, tier, searchable_content FROM (
	SELECT memory_id, 'short_term' AS tier, searchable_content, category_primary, created_at
	FROM short_term_memory
	WHERE namespace = %s AND (is_permanent_context = %s OR expires_at IS NULL OR expires_at > %s)
	UNION ALL
	SELECT memory_id, 'long_term' AS tier, searchable_content, category_primary, created_at
	FROM long_term_memory WHERE namespace = %s
) combined
WHERE searchable_content LIKE %s ESCAPE '\' %s
ORDER BY created_at DESC
LIMIT %s`

	args := []any{namespace, e.Dialect.BoolLiteral(true), now, namespace, pattern}
	filter := ""
	next := 6
	if category != "" {
		filter = fmt.Sprintf("AND category_primary = %s", e.Dialect.Placeholder(next))
		args = append(args, category)
		next++
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(tmpl,
		e.Dialect.Placeholder(1), e.Dialect.Placeholder(2), e.Dialect.Placeholder(3), e.Dialect.Placeholder(4),
		e.Dialect.Placeholder(5), filter, e.Dialect.Placeholder(next))

	rows, err := e.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("storesql: like fallback search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	rank := 0
	for rows.Next() {
		var h SearchHit
		var content string
		if err := rows.Scan(&h.MemoryID, &h.Tier, &content); err != nil {
			return nil, fmt.Errorf("storesql: scan like hit: %w", err)
		}
		h.Strategy = "like"
		h.Score = 1.0 / float64(rank+1)
		rank++
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// recentRows serves the empty-query case: the most recently created rows from
// both tiers, newest first, with a recency-ordinal score in place of a match
// score. The expiration filter matches the search paths.
func (e *Engine) recentRows(ctx context.Context, namespace, category string, limit int, now time.Time) ([]SearchHit, error) {
	const tmpl = `
SELECT memory_id, tier FROM (
	SELECT memory_id, 'short_term' AS tier, category_primary, created_at
	FROM short_term_memory
	WHERE namespace = %s AND (is_permanent_context = %s OR expires_at IS NULL OR expires_at > %s)
	UNION ALL
	SELECT memory_id, 'long_term' AS tier, category_primary, created_at
	FROM long_term_memory WHERE namespace = %s
) combined
%s
ORDER BY created_at DESC
LIMIT %s`

	args := []any{namespace, e.Dialect.BoolLiteral(true), now, namespace}
	filter := ""
	next := 5
	if category != "" {
		filter = fmt.Sprintf("WHERE category_primary = %s", e.Dialect.Placeholder(next))
		args = append(args, category)
		next++
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(tmpl,
		e.Dialect.Placeholder(1), e.Dialect.Placeholder(2), e.Dialect.Placeholder(3), e.Dialect.Placeholder(4),
		filter, e.Dialect.Placeholder(next))

	var hits []SearchHit
	err := e.Retry.Do(ctx, func() error {
		rows, err := e.DB.QueryContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("storesql: recent rows: %w", err)
		}
		defer rows.Close()

		hits = hits[:0]
		rank := 0
		for rows.Next() {
			var h SearchHit
			if err := rows.Scan(&h.MemoryID, &h.Tier); err != nil {
				return fmt.Errorf("storesql: scan recent row: %w", err)
			}
			h.Strategy = "recent"
			h.Score = 1.0 / float64(rank+1)
			rank++
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// escapeLike escapes LIKE metacharacters so a query string is matched literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
