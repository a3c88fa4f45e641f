// Package promotion implements the promotion agent: a one-shot
// conscious-ingest step that derives a durable user-context profile from existing
// long-term memories, and a periodic pass that elevates a bounded set of
// "essential" long-term memories into short-term storage.
package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/memstore"
	"github.com/smallnest/memorigo/model"
)

// DefaultPeriodicInterval is the default cadence for the periodic pass,
// exposed as configuration because no single number suits every deployment.
const DefaultPeriodicInterval = 6 * time.Hour

// DefaultEssentialTTL is the 30-day expiration stamped on rows elevated by
// periodic promotion.
const DefaultEssentialTTL = 30 * 24 * time.Hour

// EssentialCategoryPrefix is prepended to the original category when a promoted
// row is written: category_primary becomes essential_ plus the original category.
const EssentialCategoryPrefix = "essential_"

// PromotedBy identifies the promotion agent as the writer in the promoted_by
// column of rows written through Store.PromoteEssential.
const PromotedBy = "promotion_agent"

// lookbackWindow bounds which long-term rows periodic promotion considers
// for essential selection.
const lookbackWindow = 30 * 24 * time.Hour

const (
	minEssential = 5
	maxEssential = 10
)

// Agent runs both promotion responsibilities.
type Agent struct {
	store    *memstore.Store
	llm      llms.Model
	logger   log.Logger
	interval time.Duration
	sf       singleflight.Group
}

// Option configures an Agent.
type Option func(*Agent)

// WithInterval overrides DefaultPeriodicInterval.
func WithInterval(d time.Duration) Option { return func(a *Agent) { a.interval = d } }

// WithLogger overrides the default package logger.
func WithLogger(l log.Logger) Option { return func(a *Agent) { a.logger = l } }

// New builds a promotion agent. llm is optional: consolidation/selection calls
// that would use it fall back to pure pattern-match/heuristic behavior when nil,
// promotion errors are logged and swallowed.
func New(store *memstore.Store, llm llms.Model, opts ...Option) *Agent {
	a := &Agent{
		store:    store,
		llm:      llm,
		logger:   log.Default(),
		interval: DefaultPeriodicInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartPeriodicWorker runs RunPeriodic on the agent's interval until ctx is
// canceled. Errors are logged and swallowed so promotion never blocks the
// main recording path.
func (a *Agent) StartPeriodicWorker(ctx context.Context, namespace string) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunPeriodic(ctx, namespace); err != nil {
				a.logger.Warn("promotion: periodic run failed for namespace %s: %v", namespace, err)
			}
		}
	}
}

// RunConsciousIngest implements the startup conscious-ingest pass. It is
// idempotent: running it again with no new qualifying long-term rows leaves the
// existing profile (and its version) untouched.
func (a *Agent) RunConsciousIngest(ctx context.Context, namespace string) error {
	_, exists, err := a.store.LoadUserContext(ctx, namespace)
	if err != nil {
		return fmt.Errorf("promotion: load existing user context: %w", err)
	}
	if exists {
		a.logger.Debug("promotion: conscious-ingest skipped, profile already exists for namespace %s", namespace)
		return nil
	}

	candidates, err := a.consciousCandidates(ctx, namespace)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		a.logger.Debug("promotion: no conscious-ingest candidates for namespace %s", namespace)
		return nil
	}

	profile := model.UserContextProfile{Namespace: namespace}
	for _, c := range candidates {
		extracted := extractProfileFields(c.SearchableContent + " " + c.Summary)
		profile.Merge(extracted)
	}
	profile.Version = 1

	if a.llm != nil {
		if consolidated, err := a.consolidateProfile(ctx, profile, candidates); err != nil {
			a.logger.Warn("promotion: LLM profile consolidation failed, using pattern-match result: %v", err)
		} else {
			consolidated.Namespace = namespace
			consolidated.Version = 1
			profile = consolidated
		}
	}

	if err := a.store.SaveUserContext(ctx, profile); err != nil {
		return fmt.Errorf("promotion: save user context: %w", err)
	}

	for _, c := range candidates {
		if err := a.store.MarkPromoted(ctx, namespace, c.MemoryID); err != nil {
			a.logger.Warn("promotion: mark %s promoted: %v", c.MemoryID, err)
		}
	}
	a.logger.Info("promotion: conscious-ingest wrote user context profile for namespace %s from %d memories", namespace, len(candidates))
	return nil
}

func (a *Agent) consciousCandidates(ctx context.Context, namespace string) ([]model.LongTermMemory, error) {
	hits, err := a.store.ListRecent(ctx, namespace, model.TierLongTerm, 1000)
	if err != nil {
		return nil, fmt.Errorf("promotion: list long-term memories: %w", err)
	}
	var out []model.LongTermMemory
	for _, h := range hits {
		if h.LongTerm == nil {
			continue
		}
		lt := *h.LongTerm
		if lt.Classification == model.CategoryConsciousInfo || lt.Flags.IsUserContext || lt.Flags.PromotionEligible {
			out = append(out, lt)
		}
	}
	return out, nil
}

// ProfileAngle is one of the five keyword-rule buckets candidate memories
// are classified
// conscious-ingest candidates into.
type ProfileAngle string

const (
	AnglePersonal     ProfileAngle = "personal"
	AngleProfessional ProfileAngle = "professional"
	AngleTechnical    ProfileAngle = "technical"
	AngleBehavioral   ProfileAngle = "behavioral"
	AngleCurrent      ProfileAngle = "current"
)

var angleKeywords = map[ProfileAngle][]string{
	AnglePersonal:     {"my name is", "i live in", "i am from", "call me"},
	AngleProfessional: {"i work at", "i work as", "my job", "my role", "my company"},
	AngleTechnical:    {"i use", "i program in", "my stack", "i code in", "i write"},
	AngleBehavioral:   {"i prefer", "i like", "i dislike", "please always", "communication style"},
	AngleCurrent:      {"i'm working on", "currently building", "this project", "my current project"},
}

// ClassifyAngle applies the keyword rules to text, returning the
// first matching angle or AngleCurrent as a neutral default.
func ClassifyAngle(text string) ProfileAngle {
	lower := strings.ToLower(text)
	for _, angle := range []ProfileAngle{AnglePersonal, AngleProfessional, AngleTechnical, AngleBehavioral, AngleCurrent} {
		for _, kw := range angleKeywords[angle] {
			if strings.Contains(lower, kw) {
				return angle
			}
		}
	}
	return AngleCurrent
}

// consolidateProfile asks the LLM to merge the pattern-matched profile against
// the raw candidate text, for the cases pattern-match alone misses.
func (a *Agent) consolidateProfile(ctx context.Context, base model.UserContextProfile, candidates []model.LongTermMemory) (model.UserContextProfile, error) {
	var texts strings.Builder
	for _, c := range candidates {
		texts.WriteString("- ")
		texts.WriteString(c.SearchableContent)
		texts.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Consolidate a user profile from these memory excerpts. Respond with JSON only,
matching this shape: {"name":"","location":"","job_title":"","company":"",
"primary_languages":[],"tools":[],"communication_style":"","active_projects":[],
"learning_goals":[]}. Prior pattern-matched draft (fill gaps, don't discard known facts):
%s

Excerpts:
%s`, profileDraftJSON(base), texts.String())

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You consolidate scattered user facts into one profile object."),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := a.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.1))
	if err != nil {
		return model.UserContextProfile{}, fmt.Errorf("promotion: consolidation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.UserContextProfile{}, fmt.Errorf("promotion: consolidation returned no choices")
	}

	var parsed model.UserContextProfile
	if err := json.Unmarshal([]byte(stripFence(resp.Choices[0].Content)), &parsed); err != nil {
		return model.UserContextProfile{}, fmt.Errorf("promotion: parse consolidated profile: %w", err)
	}
	base.Merge(parsed)
	return base, nil
}

func profileDraftJSON(p model.UserContextProfile) string {
	b, _ := json.Marshal(p)
	return string(b)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// RunPeriodic implements the periodic promotion pass, collapsing concurrent
// triggers for the same namespace into a single run via singleflight, so one
// small worker is ever promoting per namespace.
func (a *Agent) RunPeriodic(ctx context.Context, namespace string) error {
	_, err, _ := a.sf.Do(namespace, func() (any, error) {
		return nil, a.runPeriodicOnce(ctx, namespace)
	})
	return err
}

func (a *Agent) runPeriodicOnce(ctx context.Context, namespace string) error {
	candidates, err := a.periodicCandidates(ctx, namespace)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		a.logger.Debug("promotion: no periodic candidates for namespace %s", namespace)
		return nil
	}

	selected, err := a.selectEssential(ctx, candidates)
	if err != nil {
		a.logger.Warn("promotion: essential selection fell back to heuristic for namespace %s: %v", namespace, err)
		selected = heuristicEssential(candidates)
	}

	if err := a.store.ClearEssential(ctx, namespace); err != nil {
		return fmt.Errorf("promotion: clear previous essential rows: %w", err)
	}

	for _, sel := range selected {
		if err := a.store.PromoteEssential(ctx, sel.MemoryID, namespace, PromotedBy, DefaultEssentialTTL, sel.Reasoning); err != nil {
			a.logger.Warn("promotion: promote %s failed: %v", sel.MemoryID, err)
			continue
		}
		if err := a.store.MarkPromoted(ctx, namespace, sel.MemoryID); err != nil {
			a.logger.Warn("promotion: mark %s promoted: %v", sel.MemoryID, err)
		}
	}
	a.logger.Info("promotion: periodic run promoted %d essential memories in namespace %s", len(selected), namespace)
	return nil
}

func (a *Agent) periodicCandidates(ctx context.Context, namespace string) ([]model.LongTermMemory, error) {
	hits, err := a.store.ListRecent(ctx, namespace, model.TierLongTerm, 1000)
	if err != nil {
		return nil, fmt.Errorf("promotion: list periodic candidates: %w", err)
	}
	cutoff := time.Now().Add(-lookbackWindow)
	var out []model.LongTermMemory
	for _, h := range hits {
		if h.LongTerm == nil {
			continue
		}
		if h.LongTerm.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *h.LongTerm)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].AccessCount > out[j].AccessCount
	})
	return out, nil
}

// essentialSelection is one LLM- or heuristic-selected essential memory, scored
// on {frequency, recency, importance}.
type essentialSelection struct {
	MemoryID   string  `json:"memory_id"`
	Frequency  float64 `json:"frequency"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Reasoning  string  `json:"reasoning"`
}

func (a *Agent) selectEssential(ctx context.Context, candidates []model.LongTermMemory) ([]essentialSelection, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("promotion: no LLM configured for essential-memory panel")
	}

	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s importance=%.2f access_count=%d content=%q\n",
			c.MemoryID, c.ImportanceScore, c.AccessCount, truncate(c.SearchableContent, 200))
	}

	prompt := fmt.Sprintf(`From the memories below, pick the 5 to 10 most essential to keep readily
available for this agent. Respond as a JSON array of objects:
[{"memory_id":"","frequency":0-1,"recency":0-1,"importance":0-1,"reasoning":""}]

Memories:
%s`, b.String())

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You select the most essential memories for an agent's fast-access context."),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := a.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.1))
	if err != nil {
		return nil, fmt.Errorf("promotion: essential panel call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("promotion: essential panel returned no choices")
	}

	var selections []essentialSelection
	if err := json.Unmarshal([]byte(stripFence(resp.Choices[0].Content)), &selections); err != nil {
		return nil, fmt.Errorf("promotion: parse essential selections: %w", err)
	}
	if len(selections) < minEssential && len(candidates) >= minEssential {
		return nil, fmt.Errorf("promotion: panel returned only %d selections, want at least %d", len(selections), minEssential)
	}
	if len(selections) > maxEssential {
		selections = selections[:maxEssential]
	}
	return selections, nil
}

// heuristicEssential is the fallback used when no LLM is configured or the panel
// call fails: the top-N candidates by the same importance/access_count ordering
// periodicCandidates already sorted by.
func heuristicEssential(candidates []model.LongTermMemory) []essentialSelection {
	n := maxEssential
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]essentialSelection, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, essentialSelection{
			MemoryID:   c.MemoryID,
			Importance: c.ImportanceScore,
			Reasoning:  "heuristic fallback: ranked by importance_score then access_count",
		})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// extractProfileFields pattern-matches identity/profile facts out of free text;
// consolidateProfile layers an optional LLM pass on top for what patterns miss.
func extractProfileFields(text string) model.UserContextProfile {
	var p model.UserContextProfile
	lower := strings.ToLower(text)

	if v, ok := captureAfter(lower, text, "my name is"); ok {
		p.Name = v
	} else if v, ok := captureAfter(lower, text, "call me"); ok {
		p.Name = v
	}
	if v, ok := captureAfter(lower, text, "i live in"); ok {
		p.Location = v
	} else if v, ok := captureAfter(lower, text, "i'm based in"); ok {
		p.Location = v
	}
	if v, ok := captureAfter(lower, text, "i work as"); ok {
		p.JobTitle = v
	} else if v, ok := captureAfter(lower, text, "i'm a"); ok {
		p.JobTitle = v
	}
	if v, ok := captureAfter(lower, text, "i work at"); ok {
		p.Company = v
	}
	if v, ok := captureAfter(lower, text, "communication style:"); ok {
		p.CommunicationStyle = v
	}
	if v, ok := captureAfter(lower, text, "i'm working on"); ok {
		p.ActiveProjects = []string{v}
	}
	if v, ok := captureAfter(lower, text, "i want to learn"); ok {
		p.LearningGoals = []string{v}
	}
	if v, ok := captureAfter(lower, text, "i use"); ok {
		p.Tools = splitList(v)
	}
	if v, ok := captureAfter(lower, text, "i program in"); ok {
		p.PrimaryLanguages = splitList(v)
	}
	return p
}

// captureAfter finds marker in lower (case-folded) and returns the following
// clause from the original-cased text up to the next sentence boundary.
func captureAfter(lower, original, marker string) (string, bool) {
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", false
	}
	rest := original[idx+len(marker):]
	rest = strings.TrimSpace(rest)
	if end := strings.IndexAny(rest, ".!?\n"); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' || r == '&' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimSuffix(p, " and")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
