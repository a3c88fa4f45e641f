package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/memorigo/model"
)

// TestProcessedDataRoundTrip checks that JSON-marshaling and then
// unmarshaling a processed-data record yields an equal record.
func TestProcessedDataRoundTrip(t *testing.T) {
	want := model.ProcessedData{
		Content:         "My name is Alice and I work at Acme.",
		Summary:         "User introduced themselves as Alice at Acme.",
		Category:        model.CategoryConsciousInfo,
		Importance:      model.ImportanceHigh,
		ImportanceScore: 0.9,
		Entities:        map[string][]string{"person": {"Alice"}, "org": {"Acme"}},
		Keywords:        []string{"name", "employer"},
		Scores:          model.Scores{Novelty: 0.8, Relevance: 0.9, Actionability: 0.2, Confidence: 0.95},
		Flags:           model.Flags{IsUserContext: true, PromotionEligible: true},
		Topic:           "identity",
	}

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var got model.ProcessedData
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, want, got)
}

func TestScoresClamp(t *testing.T) {
	s := model.Scores{Novelty: -1, Relevance: 2, Actionability: 0.5, Confidence: 1}
	s.Clamp()
	assert.Equal(t, model.Scores{Novelty: 0, Relevance: 1, Actionability: 0.5, Confidence: 1}, s)
}

func TestProcessedDataClamp(t *testing.T) {
	p := model.ProcessedData{ImportanceScore: 3, Scores: model.Scores{Novelty: -2}}
	p.Clamp()
	assert.Equal(t, 1.0, p.ImportanceScore)
	assert.Equal(t, 0.0, p.Scores.Novelty)
}

// TestShortTermMemoryExpired checks that is_permanent_context=true rows are
// never considered expired regardless of ExpiresAt.
func TestShortTermMemoryExpired(t *testing.T) {
	now := time.Now()

	expired := model.ShortTermMemory{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, expired.Expired(now))

	notYet := model.ShortTermMemory{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, notYet.Expired(now))

	permanent := model.ShortTermMemory{ExpiresAt: now.Add(-time.Hour), IsPermanentContext: true}
	assert.False(t, permanent.Expired(now))

	noExpiry := model.ShortTermMemory{}
	assert.False(t, noExpiry.Expired(now))
}

// TestUserContextProfileMergeIsAdditive covers the invariant that merging
// never drops previously known facts and always increments Version.
func TestUserContextProfileMergeIsAdditive(t *testing.T) {
	p := model.UserContextProfile{
		Namespace:        "acme",
		Name:             "Alice",
		PrimaryLanguages: []string{"Go"},
		Version:          1,
	}

	p.Merge(model.UserContextProfile{
		JobTitle:         "Engineer",
		PrimaryLanguages: []string{"Go", "Python"},
	})

	assert.Equal(t, "Alice", p.Name, "merge must not drop existing facts")
	assert.Equal(t, "Engineer", p.JobTitle)
	assert.Equal(t, []string{"Go", "Python"}, p.PrimaryLanguages, "languages union without duplicates")
	assert.Equal(t, 2, p.Version)

	p.Merge(model.UserContextProfile{})
	assert.Equal(t, 3, p.Version, "version increases even on an empty merge")
	assert.Equal(t, "Alice", p.Name)
}
