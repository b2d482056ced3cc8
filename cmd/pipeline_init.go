package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/garescout/tender-cli/internal/detect"
	"github.com/garescout/tender-cli/internal/docs"
	"github.com/garescout/tender-cli/internal/enrich"
	"github.com/garescout/tender-cli/internal/identity"
	"github.com/garescout/tender-cli/internal/pipeline"
	"github.com/garescout/tender-cli/internal/store"
	"github.com/garescout/tender-cli/internal/textextract"
	anthropicpkg "github.com/garescout/tender-cli/pkg/anthropic"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tenders.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the initialized store and pipeline needed by the
// ingest/enrich/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, document tooling, and the AI enricher, and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	resolver, err := identity.NewResolver(cfg.Identity)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	keywords, err := docs.LoadKeywords(cfg.Documents.KeywordsFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var enricher enrich.Enricher
	if cfg.Anthropic.Key != "" {
		enricher = enrich.NewAnthropicEnricher(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
	} else {
		return nil, eris.New("anthropic API key is required (TENDER_ANTHROPIC_KEY)")
	}

	machine := enrich.NewStateMachine(
		st,
		docs.NewFetcher(cfg.Documents),
		textextract.NewAnalyzer(cfg.Extract, keywords.Sections),
		textextract.NewPdfToText(cfg.Extract.PdfToTextPath, time.Duration(cfg.Extract.TimeoutSecs)*time.Second),
		textextract.NewXlsxExtractor(),
		enricher,
		cfg.Pipeline.StageRetryCap,
		cfg.Documents.Workers,
	)

	p := pipeline.New(
		st,
		resolver,
		detect.New(cfg.Detector),
		docs.NewClassifier(keywords),
		machine,
		cfg.Pipeline.MaxConcurrentTenders,
	)

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
