package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/model"
)

// fakeLLM is a minimal llms.Model stand-in: a queue of canned responses
// consumed one GenerateContent call at a time.
type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: ""}}}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.responses[i]}}}, nil
}

func (f *fakeLLM) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", nil
}

const validJSON = `{
  "summary": "User introduced themselves as Alice.",
  "category": "conscious-info",
  "importance": "high",
  "importance_score": 0.9,
  "topic": "identity",
  "entities": {"person": ["Alice"]},
  "keywords": ["name", "alice"],
  "novelty": 0.8,
  "relevance": 0.9,
  "actionability": 0.2,
  "confidence": 0.95,
  "is_user_context": true,
  "is_preference": false,
  "is_skill_knowledge": false,
  "is_current_project": false,
  "promotion_eligible": true,
  "classification_reason": "explicit self-introduction"
}`

func TestClassifySuccess(t *testing.T) {
	llm := &fakeLLM{responses: []string{validJSON}}
	agent := New(llm)

	pd, err := agent.Classify(context.Background(), "My name is Alice.", "Nice to meet you, Alice!")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryConsciousInfo, pd.Category)
	assert.Equal(t, model.ImportanceHigh, pd.Importance)
	assert.InDelta(t, 0.9, pd.ImportanceScore, 1e-9)
	assert.True(t, pd.Flags.IsUserContext)
	assert.True(t, pd.Flags.PromotionEligible)
	assert.Equal(t, []string{"Alice"}, pd.Entities["person"])
	assert.Equal(t, 1, llm.calls)
}

func TestClassifyRetryThenSucceed(t *testing.T) {
	llm := &fakeLLM{responses: []string{"not json at all", validJSON}}
	agent := New(llm)

	pd, err := agent.Classify(context.Background(), "hi", "hello")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryConsciousInfo, pd.Category)
	assert.Equal(t, 2, llm.calls)
}

func TestClassifyFallsBackAfterTwoFailures(t *testing.T) {
	llm := &fakeLLM{errs: []error{errors.New("boom"), errors.New("boom again")}}
	agent := New(llm)

	pd, err := agent.Classify(context.Background(), "tell me a joke", "why did the chicken...")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryConversational, pd.Category)
	assert.Equal(t, model.ImportanceMedium, pd.Importance)
	assert.Equal(t, FallbackReason, pd.ClassificationReason)
	assert.Equal(t, 2, llm.calls)
}

func TestClassifyRespectsContextCancellation(t *testing.T) {
	llm := &fakeLLM{responses: []string{validJSON}}
	agent := New(llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.Classify(ctx, "hi", "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, llm.calls)
}

func TestTruncateMiddlePreservesHeadAndTail(t *testing.T) {
	agent := New(&fakeLLM{}, WithMaxInputChars(20))
	long := make([]rune, 100)
	for i := range long {
		long[i] = rune('a' + i%26)
	}
	out := agent.truncateMiddle(string(long))
	assert.Less(t, len(out), 100)
	assert.True(t, len(out) > 0)
	assert.Equal(t, string(long[:10]), out[:10])
}

func TestTruncateMiddleNoopUnderThreshold(t *testing.T) {
	agent := New(&fakeLLM{}, WithMaxInputChars(1000))
	assert.Equal(t, "short text", agent.truncateMiddle("short text"))
}

func TestCountTokensFallsBackWithoutEncoder(t *testing.T) {
	agent := &Agent{maxInputChars: DefaultMaxInputChars}
	n := agent.CountTokens("twelve characters")
	assert.Greater(t, n, 0)
}

func TestSchemaJSONIsNonEmpty(t *testing.T) {
	assert.Contains(t, schemaJSON(), "category")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
