// Package retrieval assembles ranked prior-memory context for injection into an
// upcoming LLM call: auto-mode query-driven search, conscious-mode one-shot
// context, composite ranking, deduplication, and prompt-block assembly.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/memstore"
	"github.com/smallnest/memorigo/model"
)

// Mode selects which retrieval policy produced a context assembly.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeConscious Mode = "conscious"
)

// DefaultAutoLimit is the default number of results auto mode returns.
const DefaultAutoLimit = 5

// DefaultConsciousTopK bounds the long-term rows conscious mode adds on top of the
// permanent short-term rows.
const DefaultConsciousTopK = 10

// DefaultMaxQueryWords caps how many words of the raw user input are kept as a
// search query after stop-word stripping.
const DefaultMaxQueryWords = 32

// Item is one ranked, deduplicated entry in an assembled context list.
type Item struct {
	Tier              model.Tier
	MemoryID          string
	Category          model.Category
	SearchableContent string
	Summary           string
	ImportanceScore   float64
	CreatedAt         time.Time

	SearchScore    float64
	RecencyScore   float64
	CompositeScore float64
	Strategy       string
}

// Engine assembles ranked context for injection.
type Engine struct {
	store         *memstore.Store
	logger        log.Logger
	autoLimit     int
	consciousTopK int
	maxQueryWords int
}

// Option configures an Engine.
type Option func(*Engine)

func WithAutoLimit(n int) Option     { return func(e *Engine) { e.autoLimit = n } }
func WithConsciousTopK(n int) Option { return func(e *Engine) { e.consciousTopK = n } }
func WithMaxQueryWords(n int) Option { return func(e *Engine) { e.maxQueryWords = n } }
func WithLogger(l log.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds a retrieval engine over store.
func New(store *memstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		logger:        log.Default(),
		autoLimit:     DefaultAutoLimit,
		consciousTopK: DefaultConsciousTopK,
		maxQueryWords: DefaultMaxQueryWords,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stopWords is a small, fixed English stop-word list used to shrink the raw user
// input into a search query for auto mode.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "to": true, "of": true,
	"and": true, "or": true, "but": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "about": true, "as": true, "by": true, "that": true,
	"this": true, "it": true, "can": true, "could": true, "do": true, "does": true,
	"did": true, "me": true, "my": true, "i": true, "you": true, "your": true,
}

// ExtractQuery derives a search query from the latest raw user input. Stop
// words are dropped; the result is capped to maxQueryWords.
func ExtractQuery(userInput string, maxQueryWords int) string {
	if maxQueryWords <= 0 {
		maxQueryWords = DefaultMaxQueryWords
	}
	fields := strings.Fields(userInput)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		bare := strings.ToLower(strings.Trim(f, ".,!?;:\"'()"))
		if bare == "" || stopWords[bare] {
			continue
		}
		kept = append(kept, f)
		if len(kept) >= maxQueryWords {
			break
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(userInput)
	}
	return strings.Join(kept, " ")
}

// AutoContext implements auto-mode (query-driven) retrieval: a search keyed off
// the latest user input, ranked by the composite score and deduplicated.
// limit <= 0 uses the engine default.
func (e *Engine) AutoContext(ctx context.Context, namespace, userInput string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = e.autoLimit
	}
	query := ExtractQuery(userInput, e.maxQueryWords)

	hits, err := e.store.Search(ctx, namespace, query, "", limit*4)
	if err != nil {
		return nil, fmt.Errorf("retrieval: auto context search: %w", err)
	}
	items := toItems(hits)
	items = rank(items)
	items = dedup(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ConsciousContext implements conscious-mode one-shot retrieval:
// every permanent short-term row plus the top-K long-term rows satisfying
// promotion_eligible, is_user_context, or classification=conscious-info. Callers
// (orchestrator) are responsible for the per-session "already injected" gate;
// this method is idempotent and always returns the current set.
func (e *Engine) ConsciousContext(ctx context.Context, namespace string) ([]Item, error) {
	permanent, err := e.store.ListRecent(ctx, namespace, model.TierShortTerm, 1000)
	if err != nil {
		return nil, fmt.Errorf("retrieval: conscious permanent rows: %w", err)
	}

	var items []Item
	for _, h := range permanent {
		if h.ShortTerm == nil || !h.ShortTerm.IsPermanentContext {
			continue
		}
		items = append(items, itemFromShortTerm(*h.ShortTerm, 1.0))
	}

	longTerm, err := e.store.ListRecent(ctx, namespace, model.TierLongTerm, 1000)
	if err != nil {
		return nil, fmt.Errorf("retrieval: conscious long-term candidates: %w", err)
	}
	var candidates []Item
	for _, h := range longTerm {
		if h.LongTerm == nil {
			continue
		}
		lt := *h.LongTerm
		if lt.Flags.PromotionEligible || lt.Flags.IsUserContext || lt.Classification == model.CategoryConsciousInfo {
			candidates = append(candidates, itemFromLongTerm(lt, 1.0))
		}
	}
	candidates = rank(candidates)
	if len(candidates) > e.consciousTopK {
		candidates = candidates[:e.consciousTopK]
	}
	items = append(items, candidates...)
	return dedup(items), nil
}

func toItems(hits []memstore.SearchHit) []Item {
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		switch {
		case h.LongTerm != nil:
			items = append(items, itemFromLongTerm(*h.LongTerm, h.Score, h.Strategy))
		case h.ShortTerm != nil:
			items = append(items, itemFromShortTerm(*h.ShortTerm, h.Score, h.Strategy))
		}
	}
	return items
}

func itemFromLongTerm(m model.LongTermMemory, searchScore float64, strategy ...string) Item {
	return Item{
		Tier:              model.TierLongTerm,
		MemoryID:          m.MemoryID,
		Category:          m.CategoryPrimary,
		SearchableContent: m.SearchableContent,
		Summary:           m.Summary,
		ImportanceScore:   m.ImportanceScore,
		CreatedAt:         m.CreatedAt,
		SearchScore:       searchScore,
		Strategy:          firstOr(strategy, "permanent"),
	}
}

func itemFromShortTerm(m model.ShortTermMemory, searchScore float64, strategy ...string) Item {
	return Item{
		Tier:              model.TierShortTerm,
		MemoryID:          m.MemoryID,
		Category:          m.CategoryPrimary,
		SearchableContent: m.SearchableContent,
		Summary:           m.Summary,
		ImportanceScore:   m.ImportanceScore,
		CreatedAt:         m.CreatedAt,
		SearchScore:       searchScore,
		Strategy:          firstOr(strategy, "permanent"),
	}
}

func firstOr(s []string, def string) string {
	if len(s) > 0 && s[0] != "" {
		return s[0]
	}
	return def
}

// rank applies the composite score:
//
//	composite = 0.5*search_score + 0.3*importance_score + 0.2*recency_score
//	recency_score = max(0, 1 - age_days/30)
//
// and sorts descending, breaking ties by created_at descending.
func rank(items []Item) []Item {
	now := time.Now()
	for i := range items {
		ageDays := now.Sub(items[i].CreatedAt).Hours() / 24
		recency := 1 - ageDays/30
		if recency < 0 {
			recency = 0
		}
		items[i].RecencyScore = recency
		items[i].CompositeScore = 0.5*items[i].SearchScore + 0.3*items[i].ImportanceScore + 0.2*recency
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CompositeScore != items[j].CompositeScore {
			return items[i].CompositeScore > items[j].CompositeScore
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// dedup collapses items sharing a lowercase-trimmed searchable_content||summary
// key, keeping the first (highest-ranked) occurrence.
func dedup(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.SearchableContent + it.Summary))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}
