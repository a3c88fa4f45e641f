// Package classify implements the classification agent: it turns a
// raw (user_input, ai_output) turn into a model.ProcessedData record by calling an
// LLM in structured-output mode.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/model"
)

// ErrExtractionFailed wraps the errors of a failed structured-extraction
// attempt. The fallback record emitted when both the primary call and the
// single retry fail carries FallbackReason as its classification_reason.
var ErrExtractionFailed = errors.New("classify: structured extraction failed")

// FallbackReason is the classification_reason stamped on a fallback record.
const FallbackReason = "extraction_failed"

// DefaultMaxInputChars is the threshold beyond which turn text is
// middle-truncated before being sent for classification. Measured in runes
// and applied to user_input and ai_output separately, before tokenization;
// their combined length is not checked against it.
const DefaultMaxInputChars = 12_000

// DefaultTemperature keeps classification near-deterministic.
const DefaultTemperature = 0.1

// Agent is the classification agent. It holds a langchaingo llms.Model for the
// model-agnostic path and, optionally, a concrete OpenAI client for schema-locked
// structured output.
type Agent struct {
	llm              llms.Model
	openaiClient     *openai.Client
	openaiModel      string
	temperature      float64
	maxInputChars    int
	logger           log.Logger
	callbacksHandler callbacks.Handler
	encoder          *tiktoken.Tiktoken
}

// Option configures an Agent.
type Option func(*Agent)

// WithOpenAI enables the schema-locked structured-output path: requests are sent
// to client using response_format=json_schema with the reflected classification
// schema, guaranteeing the response round-trips into extractionResult without a
// free-text parse.
func WithOpenAI(client *openai.Client, model string) Option {
	return func(a *Agent) {
		a.openaiClient = client
		a.openaiModel = model
	}
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxInputChars overrides DefaultMaxInputChars.
func WithMaxInputChars(n int) Option {
	return func(a *Agent) { a.maxInputChars = n }
}

// WithLogger overrides the default package logger.
func WithLogger(l log.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithCallbacks installs a callbacks.Handler so classification calls
// participate in the same start/end/error hook surface as any other
// langchaingo model call.
func WithCallbacks(h callbacks.Handler) Option {
	return func(a *Agent) { a.callbacksHandler = h }
}

// New builds a classification agent over llm (the model-agnostic fallback path).
// Call WithOpenAI to additionally enable the schema-locked path.
func New(llm llms.Model, opts ...Option) *Agent {
	a := &Agent{
		llm:           llm,
		temperature:   DefaultTemperature,
		maxInputChars: DefaultMaxInputChars,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		a.encoder = enc
	}
	return a
}

// CountTokens returns the tiktoken token count of s, or a rune-count estimate if
// the encoder failed to load.
func (a *Agent) CountTokens(s string) int {
	if a.encoder == nil {
		return len([]rune(s)) / 4
	}
	return len(a.encoder.Encode(s, nil, nil))
}

// Classify turns a raw turn into a processed-data record. It never returns an
// error for a classification failure — those are logged and a fallback record is
// returned instead; error is non-nil only for a context cancellation.
func (a *Agent) Classify(ctx context.Context, userInput, aiOutput string) (model.ProcessedData, error) {
	if err := ctx.Err(); err != nil {
		return model.ProcessedData{}, err
	}

	userInput, aiOutput = a.truncateMiddle(userInput), a.truncateMiddle(aiOutput)

	result, err := a.extract(ctx, userInput, aiOutput)
	if err != nil {
		a.logger.Warn("classify: primary extraction failed, retrying once: %v", err)
		result, err = a.extract(ctx, userInput, aiOutput)
	}
	if err != nil {
		a.logger.Error("classify: retry also failed, falling back: %v", err)
		return fallback(userInput, aiOutput), nil
	}

	pd := toProcessedData(userInput, result)
	pd.Clamp()
	return pd, nil
}

// extract makes one attempt at structured extraction, preferring the schema-locked
// OpenAI path when configured.
func (a *Agent) extract(ctx context.Context, userInput, aiOutput string) (extractionResult, error) {
	if a.openaiClient != nil {
		return a.extractOpenAI(ctx, userInput, aiOutput)
	}
	if a.llm == nil {
		return extractionResult{}, fmt.Errorf("%w: no model configured", ErrExtractionFailed)
	}
	return a.extractLangchain(ctx, userInput, aiOutput)
}

func (a *Agent) extractOpenAI(ctx context.Context, userInput, aiOutput string) (extractionResult, error) {
	req := openai.ChatCompletionRequest{
		Model: a.openaiModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: turnPrompt(userInput, aiOutput)},
		},
		Temperature: float32(a.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "memory_classification",
				Schema: classificationSchema,
				Strict: true,
			},
		},
	}
	resp, err := a.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return extractionResult{}, fmt.Errorf("classify: openai structured completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return extractionResult{}, fmt.Errorf("%w: empty choices", ErrExtractionFailed)
	}
	return parseExtraction(resp.Choices[0].Message.Content)
}

func (a *Agent) extractLangchain(ctx context.Context, userInput, aiOutput string) (extractionResult, error) {
	if a.callbacksHandler != nil {
		a.callbacksHandler.HandleLLMStart(ctx, []string{userInput})
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt()+"\n\n"+schemaJSON()),
		llms.TextParts(llms.ChatMessageTypeHuman, turnPrompt(userInput, aiOutput)),
	}
	resp, err := a.llm.GenerateContent(ctx, messages, llms.WithTemperature(a.temperature))
	if err != nil {
		if a.callbacksHandler != nil {
			a.callbacksHandler.HandleLLMError(ctx, err)
		}
		return extractionResult{}, fmt.Errorf("classify: generate content: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return extractionResult{}, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}
	return parseExtraction(resp.Choices[0].Content)
}

// parseExtraction pulls the JSON object out of content (tolerating a surrounding
// code fence, since not every backend honors "JSON only") and unmarshals it.
func parseExtraction(content string) (extractionResult, error) {
	content = stripCodeFence(content)
	var r extractionResult
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return extractionResult{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if r.Category == "" || r.Importance == "" {
		return extractionResult{}, fmt.Errorf("%w: missing required field", ErrExtractionFailed)
	}
	return r, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncateMiddle applies the cost guard: when s exceeds
// maxInputChars, cut out the middle and splice in a marker, preserving head and
// tail since identity/preference facts tend to appear at either end of a turn.
func (a *Agent) truncateMiddle(s string) string {
	runes := []rune(s)
	if len(runes) <= a.maxInputChars {
		return s
	}
	keep := a.maxInputChars / 2
	marker := "...[truncated]..."
	return string(runes[:keep]) + marker + string(runes[len(runes)-keep:])
}

func fallback(userInput, aiOutput string) model.ProcessedData {
	return model.ProcessedData{
		Content:              userInput + "\n" + aiOutput,
		Summary:              firstN(userInput, 200),
		Category:             model.CategoryConversational,
		Importance:           model.ImportanceMedium,
		ImportanceScore:      0.5,
		Entities:             map[string][]string{},
		Keywords:             []string{},
		Scores:               model.Scores{},
		Flags:                model.Flags{},
		ClassificationReason: FallbackReason,
	}
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func toProcessedData(userInput string, r extractionResult) model.ProcessedData {
	return model.ProcessedData{
		Content:         userInput,
		Summary:         r.Summary,
		Category:        model.Category(r.Category),
		Importance:      model.Importance(r.Importance),
		ImportanceScore: r.ImportanceScore,
		Entities:        orEmptyEntities(r.Entities),
		Keywords:        orEmptyKeywords(r.Keywords),
		Scores: model.Scores{
			Novelty:       r.Novelty,
			Relevance:     r.Relevance,
			Actionability: r.Actionability,
			Confidence:    r.Confidence,
		},
		Flags: model.Flags{
			IsUserContext:     r.IsUserContext,
			IsPreference:      r.IsPreference,
			IsSkillKnowledge:  r.IsSkillKnowledge,
			IsCurrentProject:  r.IsCurrentProject,
			PromotionEligible: r.PromotionEligible,
		},
		Topic:                r.Topic,
		ClassificationReason: r.ClassificationReason,
	}
}

func orEmptyEntities(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

func orEmptyKeywords(k []string) []string {
	if k == nil {
		return []string{}
	}
	return k
}

// systemPrompt enumerates the category taxonomy, importance taxonomy, entity
// schema, and context-flag instructions for the extraction request.
func systemPrompt() string {
	return `You are the classification stage of a persistent memory pipeline for an LLM agent.
Given one conversational turn (a user input and the AI's response to it), extract a
structured memory record. Respond with a single JSON object and nothing else.

Category taxonomy (pick exactly one):
  fact           - a durable, objective fact stated by the user or established in the turn
  preference     - a stated like/dislike/preference that should influence future answers
  skill          - a skill, ability, or competency the user has or is learning
  rule           - an explicit instruction about how the assistant should behave
  context        - situational/project context relevant to ongoing work
  conversational - small talk or a turn with no durable content worth remembering
  conscious-info - identity or profile information (name, job, location, company, tools)
    that should be surfaced on every new session, not just when searched for

Importance taxonomy (pick exactly one): critical, high, medium, low.

Entities: group extracted named entities by type (e.g. "person", "organization",
"technology", "location") into a map of entity-type to a list of surface strings.

Context flags (booleans):
  is_user_context    - this turn reveals identity/profile information about the user
  is_preference      - this turn is a preference statement
  is_skill_knowledge - this turn demonstrates or states a skill
  is_current_project - this turn concerns an active project
  promotion_eligible - this memory is durable and important enough to consider for
                       promotion into the agent's fast short-term context

Score every one of novelty, relevance, actionability, confidence, and
importance_score in the inclusive range [0,1].`
}

func turnPrompt(userInput, aiOutput string) string {
	return fmt.Sprintf("User input:\n%s\n\nAI output:\n%s", userInput, aiOutput)
}

// ClassificationTimeout is a sensible per-call ceiling a caller may apply with
// context.WithTimeout; it is not enforced internally since the pipeline never
// imposes timeouts the host didn't ask for.
const ClassificationTimeout = 30 * time.Second
