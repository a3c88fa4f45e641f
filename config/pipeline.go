package config

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/memorigo/classify"
	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/memstore"
	"github.com/smallnest/memorigo/orchestrator"
	"github.com/smallnest/memorigo/promotion"
	"github.com/smallnest/memorigo/provider"
	"github.com/smallnest/memorigo/retrieval"
	"github.com/smallnest/memorigo/storesql"
)

// Pipeline is a fully wired memory pipeline: storage, classification,
// retrieval, promotion, provider registry, and orchestrator, built from one
// Config and one shared LLM, composed with plain constructor injection.
type Pipeline struct {
	Config     *Config
	Engine     *storesql.Engine
	Store      *memstore.Store
	Classifier *classify.Agent
	Retriever  *retrieval.Engine
	Promoter   *promotion.Agent
	Registry   *provider.Registry
	Orchestrator *orchestrator.Orchestrator
}

// Build wires a Pipeline per cfg. llm is used for both classification and
// promotion's consolidation/essential-selection calls unless the caller
// registers a dedicated provider afterward. llm may be nil, in which case
// classification always falls back to the heuristic record and promotion's
// essential selection always falls back to importance-ranking; both paths log
// and swallow their failures.
func Build(ctx context.Context, cfg *Config, llm llms.Model) (*Pipeline, error) {
	log.SetDefault(log.ForVerbose(cfg.Verbose))

	engine, err := storesql.Open(ctx, cfg.DatabaseConnect)
	if err != nil {
		return nil, fmt.Errorf("config: open storage engine: %w", err)
	}

	store := memstore.New(engine)
	classifier := classify.New(llm)
	retriever := retrieval.New(store)
	promoter := promotion.New(store, llm, promotion.WithInterval(time.Duration(cfg.PromotionIntervalHours)*time.Hour))
	registry := provider.NewRegistry()
	orch := orchestrator.New(store, classifier, retriever, promoter, registry,
		orchestrator.WithNamespace(cfg.Namespace))

	p := &Pipeline{
		Config:       cfg,
		Engine:       engine,
		Store:        store,
		Classifier:   classifier,
		Retriever:    retriever,
		Promoter:     promoter,
		Registry:     registry,
		Orchestrator: orch,
	}

	if cfg.ConsciousIngest {
		if err := promoter.RunConsciousIngest(ctx, cfg.Namespace); err != nil {
			log.Warn("config: conscious-ingest failed for namespace %s: %v", cfg.Namespace, err)
		}
	}
	// The periodic promotion worker runs independently of
	// AutoIngest/ConsciousIngest: those two flags govern
	// which retrieval.Mode a host passes to Orchestrator.Record per call, not
	// whether essential memories get promoted in the background.
	go promoter.StartPeriodicWorker(ctx, cfg.Namespace)

	return p, nil
}

// Close releases the pipeline's storage connection. The periodic promotion
// worker, if started, stops on its own when ctx (passed to Build) is canceled.
func (p *Pipeline) Close() error {
	return p.Store.Close()
}
