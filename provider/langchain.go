package provider

import (
	"context"
	"reflect"
	"sync"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/internal/log"
)

// LangchainProvider adapts any llms.Model (langchaingo's own interface,
// satisfied by every backend in llms/, including ernie.LLM) to Provider. It is
// the default provider for backends that already expose a
// CallbacksHandler-style hook.
type LangchainProvider struct {
	name string

	mu      sync.Mutex
	client  llms.Model
	handler callbacks.Handler
	logger  log.Logger
}

// callbackFieldName is the field langchaingo backends conventionally expose
// for auto-integration, e.g. ernie.LLM's CallbacksHandler.
// Provider only holds an llms.Model, so reaching it requires reflection
// rather than a Go interface (Go has no way to express "any struct with an
// exported field of this name and type").
const callbackFieldName = "CallbacksHandler"

// setCallbacksHandler reflects into client looking for an exported
// CallbacksHandler field of type callbacks.Handler and sets it. Returns false
// if client has no such field.
func setCallbacksHandler(client llms.Model, handler callbacks.Handler) bool {
	v := reflect.ValueOf(client)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return false
	}
	field := v.Elem().FieldByName(callbackFieldName)
	if !field.IsValid() || !field.CanSet() {
		return false
	}
	handlerType := reflect.TypeOf((*callbacks.Handler)(nil)).Elem()
	if !field.Type().AssignableTo(handlerType) && field.Type() != handlerType {
		return false
	}
	if handler == nil {
		field.Set(reflect.Zero(field.Type()))
		return true
	}
	field.Set(reflect.ValueOf(handler))
	return true
}

// NewLangchainProvider wraps client under name.
func NewLangchainProvider(name string, client llms.Model) *LangchainProvider {
	return &LangchainProvider{name: name, client: client, logger: log.Default()}
}

// Name implements Provider.
func (p *LangchainProvider) Name() string { return p.name }

// IsAvailable implements Provider.
func (p *LangchainProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil
}

// SetupAutoIntegration implements Provider. It only succeeds for backends
// whose client is a pointer to a struct with an exported, settable
// CallbacksHandler field (see setCallbacksHandler); most langchaingo llms.Model implementations
// take their handler at construction time instead, in which case callers
// should use CreateWrappedClient or manual recording.
func (p *LangchainProvider) SetupAutoIntegration(handler callbacks.Handler) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !setCallbacksHandler(p.client, handler) {
		return false
	}
	p.handler = handler
	return true
}

// TeardownAutoIntegration implements Provider.
func (p *LangchainProvider) TeardownAutoIntegration() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler == nil {
		return false
	}
	setCallbacksHandler(p.client, nil)
	p.handler = nil
	return true
}

// ReplaceClient implements Provider, the escape hatch for backends with no
// callback hook.
func (p *LangchainProvider) ReplaceClient(x any) error {
	model, ok := x.(llms.Model)
	if !ok {
		return errInvalidClientType("llms.Model")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = model
	return nil
}

// CreateWrappedClient implements Provider's wrapper pattern: the returned
// llms.Model calls recorder with the standardized request/response on every
// GenerateContent call before returning the result to the caller unchanged.
func (p *LangchainProvider) CreateWrappedClient(recorder func(ProviderRequest, ProviderResponse)) llms.Model {
	return &wrappedModel{provider: p, recorder: recorder}
}

type wrappedModel struct {
	provider *LangchainProvider
	recorder func(ProviderRequest, ProviderResponse)
}

func (w *wrappedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	w.provider.mu.Lock()
	client := w.provider.client
	w.provider.mu.Unlock()

	req := ProviderRequest{Messages: messages}
	resp, err := client.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	if w.recorder != nil {
		w.recorder(req, w.provider.ParseResponse(resp, req))
	}
	return resp, nil
}

func (w *wrappedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

// ExtractUserInput implements Provider.
func (p *LangchainProvider) ExtractUserInput(req ProviderRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				return text.Text
			}
		}
	}
	return ""
}

// InjectContext implements Provider: contextPrompt is prepended as a system
// message.
func (p *LangchainProvider) InjectContext(req ProviderRequest, contextPrompt string) ProviderRequest {
	if contextPrompt == "" {
		return req
	}
	out := req
	out.Messages = make([]llms.MessageContent, 0, len(req.Messages)+1)
	out.Messages = append(out.Messages, llms.TextParts(llms.ChatMessageTypeSystem, contextPrompt))
	out.Messages = append(out.Messages, req.Messages...)
	return out
}

// ParseResponse implements Provider.
func (p *LangchainProvider) ParseResponse(resp *llms.ContentResponse, req ProviderRequest) ProviderResponse {
	out := ProviderResponse{UserInput: p.ExtractUserInput(req), Model: p.name, Metadata: req.Metadata}
	if resp != nil && len(resp.Choices) > 0 {
		out.AIOutput = resp.Choices[0].Content
		if info := resp.Choices[0].GenerationInfo; info != nil {
			if tok, ok := info["total_tokens"].(int); ok {
				out.Tokens = tok
			}
		}
	}
	return out
}

// ParseManualResponse implements Provider's manual-recording pattern.
func (p *LangchainProvider) ParseManualResponse(response, userInput string, meta map[string]any) ProviderResponse {
	return ProviderResponse{UserInput: userInput, AIOutput: response, Model: p.name, Metadata: meta}
}

func errInvalidClientType(want string) error {
	return &invalidClientTypeError{want: want}
}

type invalidClientTypeError struct{ want string }

func (e *invalidClientTypeError) Error() string {
	return "provider: ReplaceClient expects a " + e.want
}
