// Package orchestrator owns the pattern/provider state machine, per-session
// identity, and the fixed ordering contract a
// recorded turn follows — inject context, make the outbound call, parse the
// response, classify it, persist it, then return to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/classify"
	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/memstore"
	"github.com/smallnest/memorigo/model"
	"github.com/smallnest/memorigo/promotion"
	"github.com/smallnest/memorigo/provider"
	"github.com/smallnest/memorigo/retrieval"
)

// State is one point in a provider's lifecycle.
type State string

const (
	StateUnregistered State = "unregistered"
	StateAvailable    State = "available"
	StateActive       State = "active"
	StateFailed       State = "failed"
	StateDisabled     State = "disabled"
)

// status is the per-provider bookkeeping row: enabled
// flag, call/error counters, and last-used timestamp. Counters are atomic so
// concurrent turns on the same provider never race; LastUsed and State share
// the Orchestrator-level mutex since time.Time isn't atomic-safe.
type status struct {
	state      State
	enabled    bool
	callCount  uint64
	errorCount uint64
	lastUsed   time.Time
}

// Status is the read-only snapshot returned by Orchestrator.Status.
type Status struct {
	State      State
	Enabled    bool
	CallCount  uint64
	ErrorCount uint64
	LastUsed   time.Time
}

// Session is one conversation's identity and conscious-context gate.
type Session struct {
	ID        string
	Namespace string

	mu                sync.Mutex
	consciousInjected bool
	createdAt         time.Time
	updatedAt         time.Time
}

// ConsciousInjected reports whether conscious-mode context has already been
// injected once for this session (conscious mode injects once
// per session).
func (s *Session) ConsciousInjected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consciousInjected
}

func (s *Session) markConsciousInjected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consciousInjected = true
	s.updatedAt = time.Now()
}

// Orchestrator ties the storage, classification, retrieval, promotion, and
// provider layers into a single ordered pipeline.
type Orchestrator struct {
	store      *memstore.Store
	classifier *classify.Agent
	retriever  *retrieval.Engine
	promoter   *promotion.Agent
	registry   *provider.Registry
	logger     log.Logger

	defaultNamespace string

	mu       sync.RWMutex
	statuses map[string]*status
	sessions map[string]*Session

	calls         *prometheus.CounterVec
	errors        *prometheus.CounterVec
	sessionsGauge prometheus.Gauge
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default package logger.
func WithLogger(l log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithNamespace sets the namespace used for sessions whose requests carry no
// explicit "namespace" metadata key.
func WithNamespace(ns string) Option { return func(o *Orchestrator) { o.defaultNamespace = ns } }

// WithMetricsRegisterer registers the orchestrator's prometheus collectors
// against reg instead of the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		reg.MustRegister(o.calls, o.errors, o.sessionsGauge)
	}
}

// New builds an Orchestrator. registry may be populated after New via
// RegisterProvider; store, classifier, retriever, and promoter are required.
func New(store *memstore.Store, classifier *classify.Agent, retriever *retrieval.Engine, promoter *promotion.Agent, registry *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		classifier: classifier,
		retriever:  retriever,
		promoter:   promoter,
		registry:   registry,
		logger:     log.Default(),
		statuses:   make(map[string]*status),
		sessions:   make(map[string]*Session),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorigo_provider_calls_total",
			Help: "Outbound provider calls made through the orchestrator, by provider name.",
		}, []string{"provider"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorigo_provider_errors_total",
			Help: "Outbound provider calls that failed, by provider name.",
		}, []string{"provider"}),
		sessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memorigo_active_sessions",
			Help: "Number of sessions tracked by the orchestrator.",
		}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterProvider adds p to the registry and moves its status to available.
func (o *Orchestrator) RegisterProvider(p provider.Provider) {
	o.registry.Register(p)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[p.Name()] = &status{state: StateAvailable, enabled: true}
}

// SetEnabled toggles whether a registered provider may be used. A disabled
// provider's state reports StateDisabled regardless of its underlying
// availability.
func (o *Orchestrator) SetEnabled(name string, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.statuses[name]
	if !ok {
		return
	}
	st.enabled = enabled
}

// Status returns a snapshot of a provider's state-machine row.
func (o *Orchestrator) Status(name string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.statuses[name]
	if !ok {
		return Status{}, false
	}
	state := st.state
	if !st.enabled {
		state = StateDisabled
	}
	return Status{
		State:      state,
		Enabled:    st.enabled,
		CallCount:  atomic.LoadUint64(&st.callCount),
		ErrorCount: atomic.LoadUint64(&st.errorCount),
		LastUsed:   st.lastUsed,
	}, true
}

// Session returns the session identified by id within namespace, creating it
// if this is the first time it's been seen.
func (o *Orchestrator) Session(id, namespace string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[id]; ok {
		return s
	}
	now := time.Now()
	s := &Session{ID: id, Namespace: namespace, createdAt: now, updatedAt: now}
	o.sessions[id] = s
	o.sessionsGauge.Set(float64(len(o.sessions)))
	return s
}

// EndSession drops a session from the tracked set.
func (o *Orchestrator) EndSession(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, id)
	o.sessionsGauge.Set(float64(len(o.sessions)))
}

// Turn is the result of one recorded conversational exchange.
type Turn struct {
	Response        provider.ProviderResponse
	Processed       model.ProcessedData
	InjectedContext string
	ChatID          string
}

// Record runs the full ordering contract for one turn: inject
// retrieval context, call the named provider, parse its response, classify
// it, persist everything, and return the assembled result. Classification and
// persistence failures are logged and swallowed so a storage or LLM hiccup on
// the memory side never surfaces as a failure of the underlying conversation;
// only a failure to reach the provider itself is returned to the caller.
func (o *Orchestrator) Record(ctx context.Context, sessionID, providerName string, req provider.ProviderRequest, mode retrieval.Mode) (Turn, error) {
	o.mu.RLock()
	st, ok := o.statuses[providerName]
	enabled := ok && st.enabled
	o.mu.RUnlock()
	if !ok {
		return Turn{}, fmt.Errorf("orchestrator: provider %q not registered", providerName)
	}
	if !enabled {
		return Turn{}, fmt.Errorf("orchestrator: provider %q is disabled", providerName)
	}

	p, ok := o.registry.Get(providerName)
	if !ok || !p.IsAvailable() {
		o.transition(st, StateFailed)
		return Turn{}, fmt.Errorf("orchestrator: provider %q unavailable", providerName)
	}

	namespace := firstNonEmptyMeta(req.Metadata, "namespace")
	if namespace == "" {
		namespace = o.defaultNamespace
	}
	session := o.Session(sessionID, namespace)
	namespace = session.Namespace

	contextBlock, err := o.assembleContext(ctx, session, req, mode)
	if err != nil {
		o.logger.Warn("orchestrator: context assembly failed for session %s: %v", sessionID, err)
	}
	injected := p.InjectContext(req, contextBlock)

	o.transition(st, StateActive)
	atomic.AddUint64(&st.callCount, 1)
	o.calls.WithLabelValues(providerName).Inc()

	raw, err := callProvider(ctx, p, injected)
	if err != nil {
		atomic.AddUint64(&st.errorCount, 1)
		o.errors.WithLabelValues(providerName).Inc()
		o.transition(st, StateFailed)
		return Turn{}, fmt.Errorf("orchestrator: provider call: %w", err)
	}
	o.transition(st, StateAvailable)
	o.touchLastUsed(st)

	resp := p.ParseResponse(raw, injected)

	processed, err := o.classifier.Classify(ctx, resp.UserInput, resp.AIOutput)
	if err != nil {
		o.logger.Warn("orchestrator: classification failed for session %s: %v", sessionID, err)
	}

	chatID := memstore.NewID()
	if err := o.persist(ctx, namespace, sessionID, chatID, resp, processed); err != nil {
		o.logger.Warn("orchestrator: persistence failed for session %s: %v", sessionID, err)
	}

	return Turn{Response: resp, Processed: processed, InjectedContext: contextBlock, ChatID: chatID}, nil
}

// callProvider invokes the provider's underlying client directly (bypassing
// CreateWrappedClient's recorder, since Record does its own persistence) and
// returns the raw response for ParseResponse to standardize.
func callProvider(ctx context.Context, p provider.Provider, req provider.ProviderRequest) (*llms.ContentResponse, error) {
	wrapped := p.CreateWrappedClient(nil)
	return wrapped.GenerateContent(ctx, req.Messages)
}

func (o *Orchestrator) assembleContext(ctx context.Context, session *Session, req provider.ProviderRequest, mode retrieval.Mode) (string, error) {
	switch mode {
	case retrieval.ModeConscious:
		if session.ConsciousInjected() {
			return "", nil
		}
		items, err := o.retriever.ConsciousContext(ctx, session.Namespace)
		if err != nil {
			return "", err
		}
		session.markConsciousInjected()
		return retrieval.PromptBlock(retrieval.ModeConscious, items), nil
	default:
		userInput := extractLatestHuman(req)
		items, err := o.retriever.AutoContext(ctx, session.Namespace, userInput, 0)
		if err != nil {
			return "", err
		}
		return retrieval.PromptBlock(retrieval.ModeAuto, items), nil
	}
}

func (o *Orchestrator) persist(ctx context.Context, namespace, sessionID, chatID string, resp provider.ProviderResponse, processed model.ProcessedData) error {
	now := time.Now()
	if err := o.store.StoreChat(ctx, model.ChatRecord{
		ChatID:    chatID,
		UserInput: resp.UserInput,
		AIOutput:  resp.AIOutput,
		Model:     resp.Model,
		Timestamp: now,
		SessionID: sessionID,
		Namespace: namespace,
		Tokens:    resp.Tokens,
		Metadata:  resp.Metadata,
	}); err != nil {
		return fmt.Errorf("store chat: %w", err)
	}

	lt := model.LongTermMemory{
		ChatID:                chatID,
		Namespace:             namespace,
		Processed:             processed,
		ImportanceScore:       processed.ImportanceScore,
		CategoryPrimary:       processed.Category,
		Scores:                processed.Scores,
		Classification:        processed.Category,
		ImportanceLevel:       processed.Importance,
		Topic:                 processed.Topic,
		Entities:              flattenEntities(processed.Entities),
		Keywords:              processed.Keywords,
		Flags:                 processed.Flags,
		ExtractedAt:           now,
		ClassificationReason:  processed.ClassificationReason,
		SearchableContent:     processed.Content,
		Summary:               processed.Summary,
		CreatedAt:             now,
	}
	if err := o.store.StoreLongTerm(ctx, lt); err != nil {
		return fmt.Errorf("store long-term memory: %w", err)
	}
	return nil
}

func flattenEntities(entities map[string][]string) []string {
	var out []string
	for _, vs := range entities {
		out = append(out, vs...)
	}
	return out
}

func extractLatestHuman(req provider.ProviderRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range req.Messages[i].Parts {
			if tc, ok := part.(llms.TextContent); ok {
				return tc.Text
			}
		}
	}
	return ""
}

func firstNonEmptyMeta(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func (o *Orchestrator) transition(st *status, next State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.state = next
}

func (o *Orchestrator) touchLastUsed(st *status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.lastUsed = time.Now()
}
