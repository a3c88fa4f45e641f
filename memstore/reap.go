package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/internal/validate"
)

// Reap deletes expired short-term rows (IsPermanentContext rows and
// rows with a zero ExpiresAt are never reaped). It returns the number removed.
func (s *Store) Reap(ctx context.Context, namespace string, now time.Time) (int, error) {
	if err := validate.Identifier(namespace); err != nil {
		return 0, err
	}

	var n int64
	err := s.engine.Retry.Do(ctx, func() error {
		res, err := s.engine.DB.ExecContext(ctx, rewrite(s.engine.Dialect, `
DELETE FROM short_term_memory
WHERE namespace = ?
  AND is_permanent_context = ?
  AND expires_at IS NOT NULL
  AND expires_at <= ?`),
			namespace, s.engine.Dialect.BoolLiteral(false), now)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("memstore: reap namespace %s: %w", namespace, err)
	}
	if n > 0 {
		log.Debug("memstore: reaped %d expired short-term rows in namespace %s", n, namespace)
	}
	return int(n), nil
}

// Clear deletes every row (all tables) for a namespace. It exists for tests and
// for an operator-triggered namespace reset; the pipeline itself never calls it.
func (s *Store) Clear(ctx context.Context, namespace string) error {
	if err := validate.Identifier(namespace); err != nil {
		return err
	}
	tables := []string{"short_term_memory", "long_term_memory", "chat_history", "user_context_profile"}
	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect,
				fmt.Sprintf(`DELETE FROM %s WHERE namespace = ?`, t)), namespace); err != nil {
				return fmt.Errorf("memstore: clear %s: %w", t, err)
			}
		}
		return nil
	})
}
