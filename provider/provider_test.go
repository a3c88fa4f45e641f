package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type stubModel struct {
	response string
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := NewLangchainProvider("stub", &stubModel{response: "hi"})
	r.Register(p)

	got, ok := r.Get("stub")
	require.True(t, ok)
	assert.Equal(t, "stub", got.Name())
	assert.Contains(t, r.Names(), "stub")
}

func TestRegistryAvailableFiltersUnavailable(t *testing.T) {
	r := NewRegistry()
	r.Register(NewLangchainProvider("available", &stubModel{response: "hi"}))
	r.Register(NewLangchainProvider("unavailable", nil))

	avail := r.Available()
	require.Len(t, avail, 1)
	assert.Equal(t, "available", avail[0].Name())
}

func TestLangchainProviderInjectContextPrependsSystemMessage(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{})
	req := ProviderRequest{Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")}}
	out := p.InjectContext(req, "remember: user likes tea")

	require.Len(t, out.Messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, out.Messages[0].Role)
}

func TestLangchainProviderExtractUserInputReturnsLatestHumanTurn(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{})
	req := ProviderRequest{Messages: []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "first"),
		llms.TextParts(llms.ChatMessageTypeAI, "reply"),
		llms.TextParts(llms.ChatMessageTypeHuman, "second"),
	}}
	assert.Equal(t, "second", p.ExtractUserInput(req))
}

func TestLangchainProviderWrappedClientInvokesRecorder(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{response: "the answer"})
	var recorded ProviderResponse
	wrapped := p.CreateWrappedClient(func(req ProviderRequest, resp ProviderResponse) {
		recorded = resp
	})

	resp, err := wrapped.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "question"),
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Choices[0].Content)
	assert.Equal(t, "the answer", recorded.AIOutput)
	assert.Equal(t, "question", recorded.UserInput)
}

func TestLangchainProviderParseManualResponse(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{})
	resp := p.ParseManualResponse("manual reply", "manual input", map[string]any{"k": "v"})
	assert.Equal(t, "manual reply", resp.AIOutput)
	assert.Equal(t, "manual input", resp.UserInput)
	assert.Equal(t, "v", resp.Metadata["k"])
}

func TestLangchainProviderReplaceClientRejectsWrongType(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{})
	err := p.ReplaceClient("not a model")
	assert.Error(t, err)
}

func TestLangchainProviderReplaceClientAcceptsModel(t *testing.T) {
	p := NewLangchainProvider("stub", &stubModel{})
	err := p.ReplaceClient(&stubModel{response: "swapped"})
	assert.NoError(t, err)
}
