// Package config defines the pipeline's configuration surface
// and the constructor-injection wiring that assembles storesql, memstore,
// classify, retrieval, promotion, provider, and orchestrator into one ready
// pipeline.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the full set of options a pipeline instance is built from.
type Config struct {
	// DatabaseConnect is a storesql.Open-compatible connection string, e.g.
	// "sqlite:///var/lib/memorigo/memory.db", "postgres://...", "mysql://...".
	DatabaseConnect string `validate:"required"`

	// Template names a prompt/behavior preset; left opaque here,
	// interpreted by the host application.
	Template string

	// Namespace partitions memory storage. Required.
	Namespace string `validate:"required,max=64"`

	// SharedMemory, when true, lets multiple agent identities within the same
	// Namespace read and write the same memory set.
	SharedMemory bool

	// ConsciousIngest enables the startup profile-derivation pass.
	ConsciousIngest bool

	// AutoIngest enables query-driven retrieval on every recorded call, using
	// the latest user input as the search query.
	AutoIngest bool

	// UserID identifies the human operating this namespace, for audit/logging
	// purposes; not a security boundary.
	UserID string

	// Verbose raises the pipeline's default log level from warnings-only to
	// everything.
	Verbose bool

	// OpenAIAPIKey and OpenAIModel configure the classification/promotion LLM
	// calls when the host application doesn't supply its own llms.Model.
	OpenAIAPIKey string
	OpenAIModel  string `validate:"required_with=OpenAIAPIKey"`

	// PromotionIntervalHours is the periodic-promotion cadence. Defaults to 6.
	PromotionIntervalHours int `validate:"min=0"`
}

// DefaultPromotionIntervalHours is applied by New when the caller leaves
// PromotionIntervalHours at its zero value.
const DefaultPromotionIntervalHours = 6

// Option configures a Config.
type Option func(*Config)

func WithDatabaseConnect(s string) Option { return func(c *Config) { c.DatabaseConnect = s } }
func WithTemplate(s string) Option        { return func(c *Config) { c.Template = s } }
func WithNamespace(s string) Option       { return func(c *Config) { c.Namespace = s } }
func WithSharedMemory(b bool) Option      { return func(c *Config) { c.SharedMemory = b } }
func WithConsciousIngest(b bool) Option   { return func(c *Config) { c.ConsciousIngest = b } }
func WithAutoIngest(b bool) Option        { return func(c *Config) { c.AutoIngest = b } }
func WithUserID(s string) Option          { return func(c *Config) { c.UserID = s } }
func WithVerbose(b bool) Option           { return func(c *Config) { c.Verbose = b } }
func WithOpenAI(apiKey, model string) Option {
	return func(c *Config) { c.OpenAIAPIKey = apiKey; c.OpenAIModel = model }
}
func WithPromotionIntervalHours(n int) Option {
	return func(c *Config) { c.PromotionIntervalHours = n }
}

// New builds and validates a Config, failing fast at construction rather than
// deferring validation to first use.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		PromotionIntervalHours: DefaultPromotionIntervalHours,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.PromotionIntervalHours == 0 {
		c.PromotionIntervalHours = DefaultPromotionIntervalHours
	}

	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return c, nil
}
