package cmd

import (
	"go.uber.org/zap"

	"github.com/fathomtel/callsight/internal/config"
	"github.com/fathomtel/callsight/pkg/analysis"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
	"github.com/fathomtel/callsight/pkg/pipeline"
	"github.com/fathomtel/callsight/pkg/supervisor"
)

// services is the assembled object graph shared by serve and analyze.
type services struct {
	store    *jobstore.Store
	source   *callsource.HTTPClient
	invoker  *llm.Client
	registry *supervisor.Registry
	svc      *analysis.Service
}

// buildServices wires the full service stack from configuration.
func buildServices(cfg *config.Config, logger *zap.Logger) *services {
	store := jobstore.NewStore(cfg.Jobs.Dir)
	source := callsource.NewHTTPClient(cfg.Source, logger)
	invoker := llm.NewClient(cfg.LLM, logger)
	registry := supervisor.NewRegistry(store, logger)
	orch := pipeline.New(store, invoker, cfg.PipelineConfig(), logger)

	svc := analysis.New(analysis.Options{
		Source:   source,
		Store:    store,
		Runner:   orch,
		Backend:  invoker,
		Registry: registry,
		Policy:   cfg.Policy(),
		Logger:   logger,
	})

	return &services{
		store:    store,
		source:   source,
		invoker:  invoker,
		registry: registry,
		svc:      svc,
	}
}
