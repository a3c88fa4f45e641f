package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/model"
	"github.com/smallnest/memorigo/storesql"
)

// rewrite translates the "?" placeholders every query in this package is written
// with into the target dialect's style.
// SQLite and MySQL both natively accept "?"; only PostgreSQL needs rewriting.
func rewrite(d storesql.Dialect, query string) string {
	if d != storesql.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const longTermColumns = `memory_id, chat_id, namespace, searchable_content, summary, category_primary,
	importance_level, importance_score, topic, entities, keywords, scores,
	is_user_context, is_preference, is_skill_knowledge, is_current_project, promotion_eligible,
	duplicate_of, supersedes, related_memories, classification_reason,
	duplicates_processed, promoted_to_short_term, access_count, last_accessed, extracted_at, created_at`

const longTermInsertSQL = `INSERT INTO long_term_memory (` + longTermColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type longTermRowValues struct {
	vals []any
}

func (r longTermRowValues) args() []any { return r.vals }

func longTermRow(d storesql.Dialect, m model.LongTermMemory) (longTermRowValues, error) {
	entities, err := json.Marshal(entitiesMap(m.Processed.Entities))
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal entities: %w", err)
	}
	keywords, err := json.Marshal(orEmpty(m.Keywords))
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal keywords: %w", err)
	}
	scores, err := json.Marshal(m.Scores)
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal scores: %w", err)
	}
	related, err := json.Marshal(orEmpty(m.RelatedMemories))
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal related memories: %w", err)
	}
	if err := validate.JSONSize(entities); err != nil {
		return longTermRowValues{}, err
	}

	var lastAccessed any
	if !m.LastAccessed.IsZero() {
		lastAccessed = m.LastAccessed
	}
	var supersedes *string
	if len(m.Supersedes) > 0 {
		joined := strings.Join(m.Supersedes, ",")
		supersedes = &joined
	}
	var duplicateOf *string
	if m.DuplicateOf != "" {
		duplicateOf = &m.DuplicateOf
	}

	return longTermRowValues{vals: []any{
		m.MemoryID, nullableString(m.ChatID), m.Namespace, m.SearchableContent, m.Summary, string(m.CategoryPrimary),
		string(m.ImportanceLevel), m.ImportanceScore, m.Topic, string(entities), string(keywords), string(scores),
		d.BoolLiteral(m.Flags.IsUserContext), d.BoolLiteral(m.Flags.IsPreference), d.BoolLiteral(m.Flags.IsSkillKnowledge),
		d.BoolLiteral(m.Flags.IsCurrentProject), d.BoolLiteral(m.Flags.PromotionEligible),
		duplicateOf, supersedes, string(related), m.ClassificationReason,
		d.BoolLiteral(m.ProcessedForDuplicates), d.BoolLiteral(m.PromotedToShortTerm), m.AccessCount, lastAccessed,
		m.ExtractedAt, m.CreatedAt,
	}}, nil
}

const shortTermColumns = `memory_id, chat_id, namespace, searchable_content, summary, category_primary,
	importance_level, importance_score, topic, entities, keywords, scores,
	is_user_context, is_preference, is_skill_knowledge, is_current_project, promotion_eligible,
	classification_reason, original_memory_id, promoted_by, promoted_at, is_permanent_context, expires_at,
	access_count, last_accessed, extracted_at, created_at`

const shortTermInsertSQL = `INSERT INTO short_term_memory (` + shortTermColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func shortTermRow(d storesql.Dialect, m model.ShortTermMemory) (longTermRowValues, error) {
	entities, err := json.Marshal(entitiesMap(m.Processed.Entities))
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal entities: %w", err)
	}
	keywords, err := json.Marshal(orEmpty(m.Keywords))
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal keywords: %w", err)
	}
	scores, err := json.Marshal(m.Scores)
	if err != nil {
		return longTermRowValues{}, fmt.Errorf("memstore: marshal scores: %w", err)
	}

	var lastAccessed, promotedAt, expiresAt any
	if !m.LastAccessed.IsZero() {
		lastAccessed = m.LastAccessed
	}
	if !m.PromotedAt.IsZero() {
		promotedAt = m.PromotedAt
	}
	if !m.ExpiresAt.IsZero() {
		expiresAt = m.ExpiresAt
	}

	return longTermRowValues{vals: []any{
		m.MemoryID, nullableString(m.ChatID), m.Namespace, m.SearchableContent, m.Summary, string(m.CategoryPrimary),
		string(m.ImportanceLevel), m.ImportanceScore, m.Topic, string(entities), string(keywords), string(scores),
		d.BoolLiteral(m.Flags.IsUserContext), d.BoolLiteral(m.Flags.IsPreference), d.BoolLiteral(m.Flags.IsSkillKnowledge),
		d.BoolLiteral(m.Flags.IsCurrentProject), d.BoolLiteral(m.Flags.PromotionEligible),
		m.ClassificationReason, nullableString(m.OriginalMemoryID), m.PromotedBy, promotedAt,
		d.BoolLiteral(m.IsPermanentContext), expiresAt,
		m.AccessCount, lastAccessed, m.ExtractedAt, m.CreatedAt,
	}}, nil
}

// boolColumn scans a boolean stored as either a native bool (PostgreSQL) or an
// integer 0/1 (SQLite, MySQL) into a Go bool.
type boolColumn bool

func (b *boolColumn) Scan(src any) error {
	switch v := src.(type) {
	case bool:
		*b = boolColumn(v)
	case int64:
		*b = v != 0
	case nil:
		*b = false
	default:
		return fmt.Errorf("memstore: cannot scan %T into bool", src)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// jsonUnmarshalQuiet unmarshals s into v, treating an empty string as a no-op
// (columns default to '{}'/'[]' so this only guards against legacy null rows).
func jsonUnmarshalQuiet(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func entitiesMap(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

func scanLongTerm(row *sql.Row) (model.LongTermMemory, error) {
	var m model.LongTermMemory
	var chatID, duplicateOf, supersedes sql.NullString
	var entities, keywords, scores, related string
	var lastAccessed sql.NullTime
	var category, importanceLevel string
	var isUserContext, isPreference, isSkillKnowledge, isCurrentProject, promotionEligible boolColumn
	var promotedToShortTerm, processedForDuplicates boolColumn

	err := row.Scan(
		&m.MemoryID, &chatID, &m.Namespace, &m.SearchableContent, &m.Summary, &category,
		&importanceLevel, &m.ImportanceScore, &m.Topic, &entities, &keywords, &scores,
		&isUserContext, &isPreference, &isSkillKnowledge,
		&isCurrentProject, &promotionEligible,
		&duplicateOf, &supersedes, &related, &m.ClassificationReason,
		&processedForDuplicates, &promotedToShortTerm, &m.AccessCount, &lastAccessed,
		&m.ExtractedAt, &m.CreatedAt,
	)
	if err != nil {
		return model.LongTermMemory{}, err
	}

	m.ChatID = chatID.String
	m.DuplicateOf = duplicateOf.String
	if supersedes.Valid && supersedes.String != "" {
		m.Supersedes = strings.Split(supersedes.String, ",")
	}
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	m.CategoryPrimary = model.Category(category)
	m.Classification = m.CategoryPrimary
	m.ImportanceLevel = model.Importance(importanceLevel)
	m.Flags = model.Flags{
		IsUserContext:     bool(isUserContext),
		IsPreference:      bool(isPreference),
		IsSkillKnowledge:  bool(isSkillKnowledge),
		IsCurrentProject:  bool(isCurrentProject),
		PromotionEligible: bool(promotionEligible),
	}
	m.ProcessedForDuplicates = bool(processedForDuplicates)
	m.PromotedToShortTerm = bool(promotedToShortTerm)

	_ = json.Unmarshal([]byte(entities), &m.Processed.Entities)
	_ = json.Unmarshal([]byte(keywords), &m.Keywords)
	_ = json.Unmarshal([]byte(scores), &m.Scores)
	_ = json.Unmarshal([]byte(related), &m.RelatedMemories)
	m.Processed.Content = m.SearchableContent
	m.Processed.Summary = m.Summary
	m.Processed.Category = m.CategoryPrimary
	m.Processed.Importance = m.ImportanceLevel
	m.Processed.ImportanceScore = m.ImportanceScore
	m.Processed.Keywords = m.Keywords
	m.Processed.Scores = m.Scores
	m.Processed.Flags = m.Flags
	m.Processed.Topic = m.Topic
	m.Processed.ClassificationReason = m.ClassificationReason
	return m, nil
}

func (s *Store) getLongTermTx(ctx context.Context, tx *sql.Tx, namespace, memoryID string) (model.LongTermMemory, error) {
	row := tx.QueryRowContext(ctx, rewrite(s.engine.Dialect, `
SELECT `+longTermColumns+` FROM long_term_memory WHERE memory_id = ? AND namespace = ?`),
		memoryID, namespace)
	m, err := scanLongTerm(row)
	if err != nil {
		return model.LongTermMemory{}, fmt.Errorf("memstore: load long-term memory %s: %w", memoryID, err)
	}
	return m, nil
}

// GetLongTerm loads a single long-term memory row by id.
func (s *Store) GetLongTerm(ctx context.Context, namespace, memoryID string) (model.LongTermMemory, error) {
	row := s.engine.DB.QueryRowContext(ctx, rewrite(s.engine.Dialect, `
SELECT `+longTermColumns+` FROM long_term_memory WHERE memory_id = ? AND namespace = ?`),
		memoryID, namespace)
	m, err := scanLongTerm(row)
	if err != nil {
		return model.LongTermMemory{}, fmt.Errorf("memstore: load long-term memory %s: %w", memoryID, err)
	}
	return m, nil
}

// touchAccess bumps access_count/last_accessed on a retrieved memory row
// so retrieval keeps access bookkeeping current.
func (s *Store) touchAccess(ctx context.Context, tier model.Tier, namespace, memoryID string, at time.Time) error {
	table := "long_term_memory"
	if tier == model.TierShortTerm {
		table = "short_term_memory"
	}
	_, err := s.engine.DB.ExecContext(ctx, rewrite(s.engine.Dialect, fmt.Sprintf(
		`UPDATE %s SET access_count = access_count + 1, last_accessed = ? WHERE memory_id = ? AND namespace = ?`, table)),
		at, memoryID, namespace)
	if err != nil {
		return fmt.Errorf("memstore: touch access for %s: %w", memoryID, err)
	}
	return nil
}
