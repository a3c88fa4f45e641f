// Package memorigo is a persistent memory layer for LLM-driven agents.
//
// Conversational turns are ephemeral by default. memorigo captures them,
// classifies them with an LLM-backed agent, persists them in a two-tier
// store (short-term and long-term) with full-text search across three SQL
// dialects, and re-injects relevant prior context into subsequent LLM calls
// so that a host agent appears to remember.
//
// # Package layout
//
//	model/       chat, long-term/short-term memory, processed-data, user-context types
//	internal/validate/  identifier/score/JSON-size/HTML validation, query auditing
//	internal/log/       leveled logger with a golog-backed implementation
//	storesql/    storage engine abstraction: one Engine interface, one FullTextIndex
//	             capability per dialect (embedded SQLite, Postgres, MySQL), migrations
//	memstore/    the memory store: chat/short-term/long-term CRUD, promotion, stats, reap
//	classify/    the classification agent: structured extraction over a configured LLM
//	retrieval/   the retrieval engine: auto-mode search and one-shot conscious context
//	promotion/   the promotion agent: conscious-ingest and periodic essential-memory promotion
//	provider/    the provider abstraction: auto-integration, wrapper, and manual recording
//	orchestrator/ the pattern manager: per-(provider,pattern) state machine, session identity
//	config/      the Config record and its validation
//
// # Quick start
//
//	cfg, err := config.New(
//		config.WithDatabaseConnect("sqlite://./memorigo.db"),
//		config.WithNamespace("default"),
//		config.WithConsciousIngest(true),
//		config.WithAutoIngest(true),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	pipeline, err := config.Build(ctx, cfg, llm)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pipeline.Close()
//
// cmd/, demo applications, Streamlit-equivalent UIs, environment-variable
// loading, and evaluation/benchmark harnesses are intentionally out of scope:
// the pipeline is a library that consumes a configuration record and emits
// conversation records and retrieved-context lists.
package memorigo // import "github.com/smallnest/memorigo"
