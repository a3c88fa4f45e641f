package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smallnest/memorigo/model"
)

// MarkPromoted flips promoted_to_short_term on a long-term row without copying
// it into short-term storage. Used by conscious-ingest, which writes a single
// consolidated user-context profile rather than one short-term row per source
// memory.
func (s *Store) MarkPromoted(ctx context.Context, namespace, memoryID string) error {
	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect,
			`UPDATE long_term_memory SET promoted_to_short_term = ? WHERE memory_id = ? AND namespace = ?`),
			s.engine.Dialect.BoolLiteral(true), memoryID, namespace)
		if err != nil {
			return fmt.Errorf("memstore: mark promoted: %w", err)
		}
		return nil
	})
}

// ClearEssential deletes every short-term row previously written by periodic
// promotion in namespace (identified by category_primary prefix
// "essential_"), so each periodic run replaces rather than accumulates the
// essential set: previous essential_* short-term rows are cleared first.
func (s *Store) ClearEssential(ctx context.Context, namespace string) error {
	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect,
			`DELETE FROM short_term_memory WHERE namespace = ? AND category_primary LIKE ?`),
			namespace, essentialPrefix+"%")
		if err != nil {
			return fmt.Errorf("memstore: clear essential rows: %w", err)
		}
		return nil
	})
}

const essentialPrefix = "essential_"

// PromoteEssential copies a long-term memory into short-term storage tagged
// essential: category_primary becomes
// "essential_"+original, the row expires after ttl, and reasoning is folded
// into ClassificationReason so the essential selection's rationale survives
// alongside the row.
func (s *Store) PromoteEssential(ctx context.Context, longTermID, namespace, promotedBy string, ttl time.Duration, reasoning string) error {
	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		lt, err := s.getLongTermTx(ctx, tx, namespace, longTermID)
		if err != nil {
			return err
		}

		now := time.Now()
		reason := lt.ClassificationReason
		if reasoning != "" {
			reason = reasoning
		}
		st := model.ShortTermMemory{
			MemoryID:             NewID(),
			ChatID:               lt.ChatID,
			Namespace:            lt.Namespace,
			Processed:            lt.Processed,
			ImportanceScore:      lt.ImportanceScore,
			CategoryPrimary:      model.Category(essentialPrefix + string(lt.CategoryPrimary)),
			Scores:               lt.Scores,
			Classification:       lt.Classification,
			ImportanceLevel:      lt.ImportanceLevel,
			Topic:                lt.Topic,
			Entities:             lt.Entities,
			Keywords:             lt.Keywords,
			Flags:                lt.Flags,
			ExtractedAt:          lt.ExtractedAt,
			ClassificationReason: reason,
			SearchableContent:    lt.SearchableContent,
			Summary:              lt.Summary,
			OriginalMemoryID:     lt.MemoryID,
			PromotedBy:           promotedBy,
			PromotedAt:           now,
			CreatedAt:            now,
			ExpiresAt:            now.Add(ttl),
		}

		row, err := shortTermRow(s.engine.Dialect, st)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, shortTermInsertSQL), row.args()...); err != nil {
			return fmt.Errorf("memstore: promote essential insert: %w", err)
		}
		return nil
	})
}
