package classify

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// extractionResult is the wire shape the LLM is asked to emit. It is a
// strict subset of model.ProcessedData: the turn content, which the pipeline
// fills in itself, is not asked of the model.
type extractionResult struct {
	Summary         string              `json:"summary" jsonschema:"required,description=One sentence summary of the turn"`
	Category        string              `json:"category" jsonschema:"required,enum=fact,enum=preference,enum=skill,enum=rule,enum=context,enum=conversational,enum=conscious-info"`
	Importance      string              `json:"importance" jsonschema:"required,enum=critical,enum=high,enum=medium,enum=low"`
	ImportanceScore float64             `json:"importance_score" jsonschema:"required,minimum=0,maximum=1"`
	Topic           string              `json:"topic"`
	Entities        map[string][]string `json:"entities"`
	Keywords        []string            `json:"keywords"`

	Novelty       float64 `json:"novelty" jsonschema:"minimum=0,maximum=1"`
	Relevance     float64 `json:"relevance" jsonschema:"minimum=0,maximum=1"`
	Actionability float64 `json:"actionability" jsonschema:"minimum=0,maximum=1"`
	Confidence    float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`

	IsUserContext     bool `json:"is_user_context"`
	IsPreference      bool `json:"is_preference"`
	IsSkillKnowledge  bool `json:"is_skill_knowledge"`
	IsCurrentProject  bool `json:"is_current_project"`
	PromotionEligible bool `json:"promotion_eligible"`

	ClassificationReason string `json:"classification_reason"`
}

// classificationSchema is reflected once from extractionResult and sent with
// every structured-output request (both the OpenAI schema-locked path and the
// prompt-embedded path for other langchaingo backends): the processed-record
// shape is defined once and every classification request carries it.
var classificationSchema = jsonschema.Reflect(&extractionResult{})

// schemaJSON renders classificationSchema for embedding into a text prompt, for
// backends that do not support a native structured-output parameter.
func schemaJSON() string {
	b, err := json.MarshalIndent(classificationSchema, "", "  ")
	if err != nil {
		return ""
	}
	return "Respond with JSON matching this schema:\n" + string(b)
}
