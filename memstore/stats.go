package memstore

import (
	"context"
	"fmt"

	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/model"
)

// Stats aggregates per-namespace counts and a category histogram across both
// tiers.
func (s *Store) Stats(ctx context.Context, namespace string) (model.Stats, error) {
	if err := validate.Identifier(namespace); err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{Namespace: namespace, CategoryHistogram: map[model.Category]int{}}

	shortCount, err := s.count(ctx, "short_term_memory", namespace)
	if err != nil {
		return model.Stats{}, err
	}
	stats.ShortTermCount = shortCount

	longCount, err := s.count(ctx, "long_term_memory", namespace)
	if err != nil {
		return model.Stats{}, err
	}
	stats.LongTermCount = longCount

	avg, err := s.averageImportance(ctx, namespace)
	if err != nil {
		return model.Stats{}, err
	}
	stats.AverageImportance = avg

	if err := s.histogram(ctx, "long_term_memory", namespace, stats.CategoryHistogram); err != nil {
		return model.Stats{}, err
	}
	if err := s.histogram(ctx, "short_term_memory", namespace, stats.CategoryHistogram); err != nil {
		return model.Stats{}, err
	}

	return stats, nil
}

func (s *Store) count(ctx context.Context, table, namespace string) (int, error) {
	var n int
	err := s.engine.DB.QueryRowContext(ctx, rewrite(s.engine.Dialect,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = ?`, table)), namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memstore: count %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) averageImportance(ctx context.Context, namespace string) (float64, error) {
	const q = `
SELECT COALESCE(AVG(importance_score), 0) FROM (
	SELECT importance_score FROM long_term_memory WHERE namespace = ?
	UNION ALL
	SELECT importance_score FROM short_term_memory WHERE namespace = ?
) combined`
	var avg float64
	err := s.engine.DB.QueryRowContext(ctx, rewrite(s.engine.Dialect, q), namespace, namespace).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("memstore: average importance: %w", err)
	}
	return avg, nil
}

func (s *Store) histogram(ctx context.Context, table, namespace string, into map[model.Category]int) error {
	rows, err := s.engine.DB.QueryContext(ctx, rewrite(s.engine.Dialect,
		fmt.Sprintf(`SELECT category_primary, COUNT(*) FROM %s WHERE namespace = ? GROUP BY category_primary`, table)),
		namespace)
	if err != nil {
		return fmt.Errorf("memstore: histogram %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return fmt.Errorf("memstore: scan histogram row: %w", err)
		}
		into[model.Category(cat)] += n
	}
	return rows.Err()
}
