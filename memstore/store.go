// Package memstore owns the two-tier memory schema and exposes the
// validated CRUD surface the rest of the pipeline programs against: chat recording,
// long-term and short-term memory writes, promotion, profile load/save, search,
// listing, stats, and reaping. It is the only package that issues SQL.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/model"
	"github.com/smallnest/memorigo/storesql"
)

// Store is the persistence boundary for one namespace-partitioned database.
type Store struct {
	engine *storesql.Engine
}

// New wraps an already-opened storesql.Engine.
func New(engine *storesql.Engine) *Store {
	return &Store{engine: engine}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.engine.Close() }

// NewID returns a fresh identifier suitable for chat/memory primary keys: a
// random UUID with its hyphens removed behind an "id_" prefix, so it passes
// validate.Identifier (letters, digits, underscore; leading non-digit).
func NewID() string { return "id_" + strings.ReplaceAll(uuid.NewString(), "-", "") }

// sanitizeText runs the write-path text policy over free-text fields: strings
// matching injection/scripting signatures are rejected, markup is escaped.
// Both memory tiers and the profile row funnel their free text through here
// before any SQL is built; chat records, being raw conversation turns, are
// escaped only.
func sanitizeText(fields ...*string) error {
	for _, f := range fields {
		if err := validate.AuditQuery(*f); err != nil {
			return err
		}
		*f = validate.EscapeHTML(*f)
	}
	return nil
}

// sanitizeList applies sanitizeText to every element in place.
func sanitizeList(ss []string) error {
	for i := range ss {
		if err := sanitizeText(&ss[i]); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeEntities applies sanitizeText to every entity surface string.
func sanitizeEntities(entities map[string][]string) error {
	for _, vs := range entities {
		if err := sanitizeList(vs); err != nil {
			return err
		}
	}
	return nil
}

// StoreChat persists a conversational turn. Chat history is write-once;
// Namespace, SessionID, and ChatID are validated as identifiers.
func (s *Store) StoreChat(ctx context.Context, rec model.ChatRecord) error {
	if err := validate.Identifier(rec.ChatID); err != nil {
		return err
	}
	if err := validate.Identifier(rec.Namespace); err != nil {
		return err
	}
	if err := validate.Identifier(rec.SessionID); err != nil {
		return err
	}
	rec.UserInput = validate.EscapeHTML(rec.UserInput)
	rec.AIOutput = validate.EscapeHTML(rec.AIOutput)

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("memstore: marshal chat metadata: %w", err)
	}
	if err := validate.JSONSize(metadata); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, `
INSERT INTO chat_history (chat_id, namespace, session_id, user_input, ai_output, model, tokens, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ChatID, rec.Namespace, rec.SessionID, rec.UserInput, rec.AIOutput,
			rec.Model, rec.Tokens, string(metadata), rec.Timestamp)
		if err != nil {
			return fmt.Errorf("memstore: store chat: %w", err)
		}
		return nil
	})
}

// StoreLongTerm inserts a classified long-term memory row.
func (s *Store) StoreLongTerm(ctx context.Context, m model.LongTermMemory) error {
	if m.MemoryID == "" {
		m.MemoryID = NewID()
	}
	if err := validate.Identifier(m.Namespace); err != nil {
		return err
	}
	if err := sanitizeText(&m.SearchableContent, &m.Summary, &m.Topic, &m.ClassificationReason); err != nil {
		return err
	}
	if err := sanitizeList(m.Keywords); err != nil {
		return err
	}
	if err := sanitizeEntities(m.Processed.Entities); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = m.CreatedAt
	}
	row, err := longTermRow(s.engine.Dialect, m)
	if err != nil {
		return err
	}

	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, longTermInsertSQL), row.args()...)
		if err != nil {
			return fmt.Errorf("memstore: store long-term memory: %w", err)
		}
		return nil
	})
}

// StoreShortTerm inserts a short-term memory row (a promoted long-term memory, a
// conscious-ingest profile fact, or a periodic-promotion essential memory).
func (s *Store) StoreShortTerm(ctx context.Context, m model.ShortTermMemory) error {
	if m.MemoryID == "" {
		m.MemoryID = NewID()
	}
	if err := validate.Identifier(m.Namespace); err != nil {
		return err
	}
	if err := sanitizeText(&m.SearchableContent, &m.Summary, &m.Topic, &m.ClassificationReason); err != nil {
		return err
	}
	if err := sanitizeList(m.Keywords); err != nil {
		return err
	}
	if err := sanitizeEntities(m.Processed.Entities); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = m.CreatedAt
	}
	row, err := shortTermRow(s.engine.Dialect, m)
	if err != nil {
		return err
	}

	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, shortTermInsertSQL), row.args()...)
		if err != nil {
			return fmt.Errorf("memstore: store short-term memory: %w", err)
		}
		return nil
	})
}

// Promote copies a long-term memory into short-term storage and marks the
// long-term row as promoted, inside one transaction, so a memory never
// appears partially promoted.
func (s *Store) Promote(ctx context.Context, longTermID, namespace, promotedBy string, ttl time.Duration) error {
	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		lt, err := s.getLongTermTx(ctx, tx, namespace, longTermID)
		if err != nil {
			return err
		}

		now := time.Now()
		st := model.ShortTermMemory{
			MemoryID:              NewID(),
			ChatID:                lt.ChatID,
			Namespace:             lt.Namespace,
			Processed:             lt.Processed,
			ImportanceScore:       lt.ImportanceScore,
			CategoryPrimary:       lt.CategoryPrimary,
			Scores:                lt.Scores,
			Classification:        lt.Classification,
			ImportanceLevel:       lt.ImportanceLevel,
			Topic:                 lt.Topic,
			Entities:              lt.Entities,
			Keywords:              lt.Keywords,
			Flags:                 lt.Flags,
			ExtractedAt:           lt.ExtractedAt,
			ClassificationReason:  lt.ClassificationReason,
			SearchableContent:     lt.SearchableContent,
			Summary:               lt.Summary,
			OriginalMemoryID:      lt.MemoryID,
			PromotedBy:            promotedBy,
			PromotedAt:            now,
			CreatedAt:             now,
		}
		if ttl > 0 {
			st.ExpiresAt = now.Add(ttl)
		} else {
			st.IsPermanentContext = true
		}

		row, err := shortTermRow(s.engine.Dialect, st)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, shortTermInsertSQL), row.args()...); err != nil {
			return fmt.Errorf("memstore: promote insert: %w", err)
		}

		_, err = tx.ExecContext(ctx, rewrite(s.engine.Dialect,
			`UPDATE long_term_memory SET promoted_to_short_term = ? WHERE memory_id = ? AND namespace = ?`),
			s.engine.Dialect.BoolLiteral(true), longTermID, namespace)
		if err != nil {
			return fmt.Errorf("memstore: mark promoted: %w", err)
		}
		log.Debug("memstore: promoted %s -> %s in namespace %s", longTermID, st.MemoryID, namespace)
		return nil
	})
}
