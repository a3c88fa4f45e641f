package provider

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/internal/log"
)

// OpenAIProvider adapts a direct go-openai client (as opposed to langchaingo's
// openai backend) to Provider, for host applications already calling the SDK
// directly. Auto-integration is unavailable here: go-openai has no callback
// hook, so SetupAutoIntegration always returns false and callers fall back to
// CreateWrappedClient or manual recording (all three integration patterns exist
// precisely because not every backend supports all of them).
type OpenAIProvider struct {
	name string

	mu     sync.Mutex
	client *openai.Client
	model  string
	logger log.Logger
}

// NewOpenAIProvider wraps client, defaulting generated responses' Model field
// to model.
func NewOpenAIProvider(name string, client *openai.Client, model string) *OpenAIProvider {
	return &OpenAIProvider{name: name, client: client, model: model, logger: log.Default()}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// IsAvailable implements Provider.
func (p *OpenAIProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil
}

// SetupAutoIntegration implements Provider; always false, see type doc.
func (p *OpenAIProvider) SetupAutoIntegration(callbacks.Handler) bool { return false }

// TeardownAutoIntegration implements Provider; always false, see type doc.
func (p *OpenAIProvider) TeardownAutoIntegration() bool { return false }

// ReplaceClient implements Provider.
func (p *OpenAIProvider) ReplaceClient(x any) error {
	client, ok := x.(*openai.Client)
	if !ok {
		return errInvalidClientType("*openai.Client")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	return nil
}

// CreateWrappedClient implements Provider's wrapper pattern by adapting the
// go-openai client to llms.Model and recording through that adapter.
func (p *OpenAIProvider) CreateWrappedClient(recorder func(ProviderRequest, ProviderResponse)) llms.Model {
	return &openaiWrappedModel{provider: p, recorder: recorder}
}

type openaiWrappedModel struct {
	provider *OpenAIProvider
	recorder func(ProviderRequest, ProviderResponse)
}

func (w *openaiWrappedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	p := w.provider
	p.mu.Lock()
	client, model := p.client, p.model
	p.mu.Unlock()

	opts := &llms.CallOptions{Model: model}
	for _, opt := range options {
		opt(opts)
	}

	req := openai.ChatCompletionRequest{
		Model:       firstNonEmpty(opts.Model, model),
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(opts.Temperature),
	}
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &llms.ContentResponse{Choices: make([]*llms.ContentChoice, 0, len(resp.Choices))}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"total_tokens": resp.Usage.TotalTokens,
			},
		})
	}

	if w.recorder != nil {
		providerReq := ProviderRequest{Messages: messages}
		w.recorder(providerReq, p.ParseResponse(out, providerReq))
	}
	return out, nil
}

func (w *openaiWrappedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

func toOpenAIMessages(messages []llms.MessageContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		var text string
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text += tc.Text
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: toOpenAIRole(m.Role), Content: text})
	}
	return out
}

func toOpenAIRole(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant
	case llms.ChatMessageTypeTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ExtractUserInput implements Provider.
func (p *OpenAIProvider) ExtractUserInput(req ProviderRequest) string {
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

// InjectContext implements Provider.
func (p *OpenAIProvider) InjectContext(req ProviderRequest, contextPrompt string) ProviderRequest {
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
func (p *OpenAIProvider) ParseResponse(resp *llms.ContentResponse, req ProviderRequest) ProviderResponse {
	out := ProviderResponse{UserInput: p.ExtractUserInput(req), Model: p.model, Metadata: req.Metadata}
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

// ParseManualResponse implements Provider.
func (p *OpenAIProvider) ParseManualResponse(response, userInput string, meta map[string]any) ProviderResponse {
	return ProviderResponse{UserInput: userInput, AIOutput: response, Model: p.model, Metadata: meta}
}
