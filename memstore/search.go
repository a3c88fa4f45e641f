package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/model"
)

// SearchHit pairs a ranked storesql match with the full memory row it refers to,
// so retrieval.Engine can apply its own composite ranking without re-querying.
type SearchHit struct {
	Tier      model.Tier
	Score     float64
	Strategy  string
	LongTerm  *model.LongTermMemory
	ShortTerm *model.ShortTermMemory
}

// Search runs the validated full-text/LIKE search contract
// against both memory tables in namespace and loads the full row for each hit.
func (s *Store) Search(ctx context.Context, namespace, query, category string, limit int) ([]SearchHit, error) {
	if err := validate.Identifier(namespace); err != nil {
		return nil, err
	}
	if err := validate.QueryLength(query); err != nil {
		return nil, err
	}
	if err := validate.AuditQuery(query); err != nil {
		return nil, err
	}
	limit = validate.ClampLimit(limit)

	// now excludes expired, non-permanent short_term_memory rows at the SQL layer
	// (all three FTS dialects and the LIKE fallback), so an expired row can never
	// be re-injected into context via retrieval.AutoContext.
	raw, err := s.engine.Search(ctx, namespace, query, category, limit, time.Now())
	if err != nil {
		return nil, fmt.Errorf("memstore: search: %w", err)
	}

	hits := make([]SearchHit, 0, len(raw))
	for _, r := range raw {
		h := SearchHit{Tier: model.Tier(r.Tier), Score: r.Score, Strategy: r.Strategy}
		switch h.Tier {
		case model.TierLongTerm:
			lt, err := s.GetLongTerm(ctx, namespace, r.MemoryID)
			if err != nil {
				continue // row may have been deleted between search and load
			}
			h.LongTerm = &lt
		case model.TierShortTerm:
			st, err := s.getShortTerm(ctx, namespace, r.MemoryID)
			if err != nil {
				continue
			}
			h.ShortTerm = &st
		}
		hits = append(hits, h)
	}

	// Access bookkeeping is best-effort: a failed touch never fails the search.
	at := time.Now()
	for _, h := range hits {
		id := ""
		switch {
		case h.LongTerm != nil:
			id = h.LongTerm.MemoryID
		case h.ShortTerm != nil:
			id = h.ShortTerm.MemoryID
		}
		if id == "" {
			continue
		}
		if err := s.touchAccess(ctx, h.Tier, namespace, id, at); err != nil {
			log.Debug("memstore: access bookkeeping for %s: %v", id, err)
		}
	}
	return hits, nil
}

func (s *Store) getShortTerm(ctx context.Context, namespace, memoryID string) (model.ShortTermMemory, error) {
	row := s.engine.DB.QueryRowContext(ctx, rewrite(s.engine.Dialect, `
SELECT `+shortTermColumns+`
FROM short_term_memory WHERE memory_id = ? AND namespace = ?`),
		memoryID, namespace)
	return scanShortTerm(row)
}

// ListRecent returns the most recently created rows in a tier, newest first.
func (s *Store) ListRecent(ctx context.Context, namespace string, tier model.Tier, limit int) ([]SearchHit, error) {
	if err := validate.Identifier(namespace); err != nil {
		return nil, err
	}
	limit = validate.ClampLimit(limit)

	table := "long_term_memory"
	if tier == model.TierShortTerm {
		table = "short_term_memory"
	}
	rows, err := s.engine.DB.QueryContext(ctx, rewrite(s.engine.Dialect, fmt.Sprintf(
		`SELECT memory_id FROM %s WHERE namespace = ? ORDER BY created_at DESC LIMIT ?`, table)),
		namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: list recent: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("memstore: scan recent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(ids))
	for _, id := range ids {
		h := SearchHit{Tier: tier}
		if tier == model.TierLongTerm {
			lt, err := s.GetLongTerm(ctx, namespace, id)
			if err != nil {
				continue
			}
			h.LongTerm = &lt
		} else {
			st, err := s.getShortTerm(ctx, namespace, id)
			if err != nil {
				continue
			}
			h.ShortTerm = &st
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func scanShortTerm(row *sql.Row) (model.ShortTermMemory, error) {
	var m model.ShortTermMemory
	var chatID, originalMemoryID sql.NullString
	var entities, keywords, scores string
	var lastAccessed, promotedAt, expiresAt sql.NullTime
	var category, importanceLevel string
	var isUserContext, isPreference, isSkillKnowledge, isCurrentProject, promotionEligible boolColumn
	var isPermanentContext boolColumn

	var reason sql.NullString
	err := row.Scan(
		&m.MemoryID, &chatID, &m.Namespace, &m.SearchableContent, &m.Summary, &category,
		&importanceLevel, &m.ImportanceScore, &m.Topic, &entities, &keywords, &scores,
		&isUserContext, &isPreference, &isSkillKnowledge, &isCurrentProject, &promotionEligible,
		&reason, &originalMemoryID, &m.PromotedBy, &promotedAt, &isPermanentContext, &expiresAt,
		&m.AccessCount, &lastAccessed, &m.ExtractedAt, &m.CreatedAt,
	)
	if err != nil {
		return model.ShortTermMemory{}, err
	}

	m.ChatID = chatID.String
	m.OriginalMemoryID = originalMemoryID.String
	m.ClassificationReason = reason.String
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	if promotedAt.Valid {
		m.PromotedAt = promotedAt.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = expiresAt.Time
	}
	m.IsPermanentContext = bool(isPermanentContext)
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

	_ = jsonUnmarshalQuiet(entities, &m.Processed.Entities)
	_ = jsonUnmarshalQuiet(keywords, &m.Keywords)
	_ = jsonUnmarshalQuiet(scores, &m.Scores)
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
