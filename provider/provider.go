// Package provider abstracts LLM backends behind a
// standardized request/response shape plus three integration patterns
// (callback-style auto-integration, a wrapped-client pattern, and manual
// recording) so the rest of the pipeline can sit in front of any LLM backend
// without depending on its concrete SDK. Auto-integration hooks into the
// callbacks.Handler interface langchaingo backends already call into.
package provider

import (
	"sync"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

// ProviderRequest is the standardized, provider-agnostic view of an outbound
// call.
type ProviderRequest struct {
	Messages []llms.MessageContent
	Metadata map[string]any
}

// ProviderResponse is the standardized, provider-agnostic view of a completed
// call, the shape classify.Agent and
// memstore.Store.StoreChat both consume regardless of which backend answered.
type ProviderResponse struct {
	UserInput string
	AIOutput  string
	Model     string
	Tokens    int
	Metadata  map[string]any
}

// Provider adapts one LLM backend to the standardized request/response shape
// and the three integration patterns. Go cannot monkey-patch a
// backend's client methods the way a dynamic-language implementation can, so
// auto-integration here means "hand the backend a callbacks.Handler it already
// knows how to call" (SetupAutoIntegration) rather than replacing its methods;
// ReplaceClient is the explicit escape hatch for backends that expose no
// callback hook at all.
type Provider interface {
	// Name identifies the provider for registry lookups and logging.
	Name() string

	// IsAvailable reports whether this provider's backend is configured and
	// reachable.
	IsAvailable() bool

	// SetupAutoIntegration installs handler as the backend's callback sink, so
	// every call the host application already makes is observed without
	// requiring call-site changes. Returns false if the backend has no
	// callback hook to install into.
	SetupAutoIntegration(handler callbacks.Handler) bool

	// TeardownAutoIntegration removes a previously installed handler. Returns
	// false if none was installed.
	TeardownAutoIntegration() bool

	// ReplaceClient swaps the wrapped backend client for x, the explicit
	// escape hatch for backends that can't be
	// auto-integrated via callbacks.
	ReplaceClient(x any) error

	// CreateWrappedClient returns an llms.Model that records every call
	// through recorder before delegating to the real backend (the "wrapper
	// pattern").
	CreateWrappedClient(recorder func(ProviderRequest, ProviderResponse)) llms.Model

	// ExtractUserInput pulls the latest human-turn text out of req, for
	// providers whose wire format doesn't match langchaingo's MessageContent
	// shape natively.
	ExtractUserInput(req ProviderRequest) string

	// InjectContext returns a copy of req with contextPrompt prepended as a
	// system message, the assembled context block arriving at the
	// provider boundary.
	InjectContext(req ProviderRequest, contextPrompt string) ProviderRequest

	// ParseResponse converts a raw *llms.ContentResponse plus the request that
	// produced it into the standardized ProviderResponse.
	ParseResponse(resp *llms.ContentResponse, req ProviderRequest) ProviderResponse

	// ParseManualResponse builds a ProviderResponse from a host application
	// that records calls itself rather than going through auto-integration or
	// the wrapper pattern.
	ParseManualResponse(response, userInput string, meta map[string]any) ProviderResponse
}

// Registry holds the providers configured for one pipeline instance, keyed by
// name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(), replacing any existing provider with the
// same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name, if any.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Available returns the registered providers for which IsAvailable is true.
func (r *Registry) Available() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}
