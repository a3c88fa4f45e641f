package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/memorigo/config"
)

func TestNewAppliesDefaultPromotionInterval(t *testing.T) {
	cfg, err := config.New(
		config.WithDatabaseConnect("sqlite://:memory:"),
		config.WithNamespace("acme"),
	)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPromotionIntervalHours, cfg.PromotionIntervalHours)
}

func TestNewHonorsExplicitPromotionInterval(t *testing.T) {
	cfg, err := config.New(
		config.WithDatabaseConnect("sqlite://:memory:"),
		config.WithNamespace("acme"),
		config.WithPromotionIntervalHours(12),
	)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.PromotionIntervalHours)
}

func TestNewRequiresDatabaseConnectAndNamespace(t *testing.T) {
	_, err := config.New()
	require.Error(t, err)

	_, err = config.New(config.WithDatabaseConnect("sqlite://:memory:"))
	require.Error(t, err, "namespace is required")
}

func TestNewRequiresOpenAIModelWhenAPIKeySet(t *testing.T) {
	_, err := config.New(
		config.WithDatabaseConnect("sqlite://:memory:"),
		config.WithNamespace("acme"),
		config.WithOpenAI("sk-test", ""),
	)
	require.Error(t, err, "OpenAIModel is required once an API key is supplied")
}

func TestBuildWiresAPipelineOverSQLite(t *testing.T) {
	cfg, err := config.New(
		config.WithDatabaseConnect("sqlite://:memory:"),
		config.WithNamespace("acme"),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := config.Build(ctx, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, pipeline.Store)
	require.NotNil(t, pipeline.Classifier)
	require.NotNil(t, pipeline.Retriever)
	require.NotNil(t, pipeline.Promoter)
	require.NotNil(t, pipeline.Registry)
	require.NotNil(t, pipeline.Orchestrator)

	// The periodic promotion worker starts regardless of AutoIngest/ConsciousIngest;
	// give it a moment to have been scheduled, then tear down cleanly.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pipeline.Close())
}
