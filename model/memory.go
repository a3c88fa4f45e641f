package model

import "time"

// LongTermMemory is a durable, classified memory row. It is created
// synchronously from a chat record by the classification agent and mutated only by
// the promotion agent (to flip flags) or the deduplication pass (to set DuplicateOf).
type LongTermMemory struct {
	MemoryID  string `json:"memory_id"`
	ChatID    string `json:"chat_id,omitempty"`
	Namespace string `json:"namespace"`

	Processed ProcessedData `json:"processed"`

	ImportanceScore float64    `json:"importance_score"`
	CategoryPrimary Category   `json:"category_primary"`
	Scores          Scores     `json:"scores"`
	Classification  Category   `json:"classification"`
	ImportanceLevel Importance `json:"importance_level"`
	Topic           string     `json:"topic"`
	Entities        []string   `json:"entities"`
	Keywords        []string   `json:"keywords"`

	Flags Flags `json:"flags"`

	DuplicateOf     string   `json:"duplicate_of,omitempty"`
	Supersedes      []string `json:"supersedes,omitempty"`
	RelatedMemories []string `json:"related_memories,omitempty"`

	ExtractedAt          time.Time `json:"extracted_at"`
	ClassificationReason string    `json:"classification_reason"`

	ProcessedForDuplicates bool `json:"processed_for_duplicates"`
	PromotedToShortTerm    bool `json:"promoted_to_short_term"`

	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	SearchableContent string `json:"searchable_content"`
	Summary           string `json:"summary"`

	CreatedAt time.Time `json:"created_at"`
}

// ShortTermMemory has the same shape as LongTermMemory plus an expiration and a
// permanence flag.
type ShortTermMemory struct {
	MemoryID  string `json:"memory_id"`
	ChatID    string `json:"chat_id,omitempty"`
	Namespace string `json:"namespace"`

	Processed ProcessedData `json:"processed"`

	ImportanceScore float64    `json:"importance_score"`
	CategoryPrimary Category   `json:"category_primary"`
	Scores          Scores     `json:"scores"`
	Classification  Category   `json:"classification"`
	ImportanceLevel Importance `json:"importance_level"`
	Topic           string     `json:"topic"`
	Entities        []string   `json:"entities"`
	Keywords        []string   `json:"keywords"`

	Flags Flags `json:"flags"`

	DuplicateOf     string   `json:"duplicate_of,omitempty"`
	Supersedes      []string `json:"supersedes,omitempty"`
	RelatedMemories []string `json:"related_memories,omitempty"`

	ExtractedAt          time.Time `json:"extracted_at"`
	ClassificationReason string    `json:"classification_reason"`

	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	SearchableContent string `json:"searchable_content"`
	Summary           string `json:"summary"`

	ExpiresAt          time.Time `json:"expires_at"`
	IsPermanentContext bool      `json:"is_permanent_context"`

	// Promotion provenance, set only when this row was produced by promotion.Agent.
	OriginalMemoryID string    `json:"original_memory_id,omitempty"`
	PromotedBy       string    `json:"promoted_by,omitempty"`
	PromotedAt       time.Time `json:"promoted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the row is eligible for reaping at instant now.
func (s *ShortTermMemory) Expired(now time.Time) bool {
	if s.IsPermanentContext {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !s.ExpiresAt.After(now)
}

// Tier identifies which memory table a row belongs to.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Stats is the aggregate returned by memstore.Store.Stats.
type Stats struct {
	Namespace         string           `json:"namespace"`
	ShortTermCount    int              `json:"short_term_count"`
	LongTermCount     int              `json:"long_term_count"`
	AverageImportance float64          `json:"average_importance"`
	CategoryHistogram map[Category]int `json:"category_histogram"`
}
