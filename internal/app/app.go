// Package app wires the application together: configuration, logging,
// database pool, model providers, stores, ingestion pipeline, and query
// engine. All dependencies are constructed explicitly at startup and
// owned by the App for its lifetime.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corpusgate/corpusgate/internal/agent"
	"github.com/corpusgate/corpusgate/internal/audit"
	"github.com/corpusgate/corpusgate/internal/config"
	"github.com/corpusgate/corpusgate/internal/database"
	"github.com/corpusgate/corpusgate/internal/ingest"
	"github.com/corpusgate/corpusgate/internal/knowledge"
	"github.com/corpusgate/corpusgate/internal/provider"
	"github.com/corpusgate/corpusgate/internal/provider/googleai"
	"github.com/corpusgate/corpusgate/internal/provider/ollama"
	"github.com/corpusgate/corpusgate/internal/session"
)

// App holds the constructed application graph.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Knowledge *knowledge.Store
	Sessions  *session.Store
	Audit     *audit.Store
	Pipeline  *ingest.Pipeline
	Engine    *agent.Engine

	embedder  provider.Embedder
	generator provider.Generator
	fast      provider.Generator
}

// New builds the application from configuration. Migrations run before
// the pool opens so every component sees the current schema.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	connString := cfg.ConnString()
	if err := database.Migrate(connString); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Open(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Pool: pool}
	if err := a.buildProviders(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := a.buildStores(); err != nil {
		pool.Close()
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		pool.Close()
		return nil, err
	}
	if err := a.buildEngine(); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("application initialized",
		"provider", cfg.Provider, "model", cfg.ModelName, "embedding_dimension", cfg.EmbeddingDimension)
	return a, nil
}

func (a *App) buildProviders(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY", config.ErrMissingAPIKey)
		}
		pcfg := googleai.Config{APIKey: apiKey}
		client, err := googleai.NewClient(ctx, pcfg)
		if err != nil {
			return fmt.Errorf("creating googleai client: %w", err)
		}
		a.embedder, err = googleai.NewEmbedder(client, cfg.EmbedderModel, cfg.EmbeddingDimension, pcfg, a.Logger)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		a.generator, err = googleai.NewGenerator(client, cfg.ModelName, cfg.Temperature, cfg.MaxTokens, pcfg, a.Logger)
		if err != nil {
			return fmt.Errorf("creating generator: %w", err)
		}
		a.fast, err = googleai.NewGenerator(client, cfg.FastModelName, cfg.Temperature, cfg.MaxTokens, pcfg, a.Logger)
		if err != nil {
			return fmt.Errorf("creating fast generator: %w", err)
		}

	case config.ProviderOllama:
		client, err := ollama.NewClient(cfg.OllamaHost, a.Logger)
		if err != nil {
			return fmt.Errorf("creating ollama client: %w", err)
		}
		a.embedder, err = ollama.NewEmbedder(client, cfg.EmbedderModel, cfg.EmbeddingDimension)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		a.generator, err = ollama.NewGenerator(client, cfg.ModelName, cfg.Temperature)
		if err != nil {
			return fmt.Errorf("creating generator: %w", err)
		}
		a.fast, err = ollama.NewGenerator(client, cfg.FastModelName, cfg.Temperature)
		if err != nil {
			return fmt.Errorf("creating fast generator: %w", err)
		}

	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
	return nil
}

func (a *App) buildStores() error {
	var err error
	a.Knowledge, err = knowledge.NewStore(a.Pool, a.embedder, a.Config.EmbeddingDimension, a.Logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Sessions, err = session.NewStore(a.Pool, a.Logger)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	a.Audit, err = audit.NewStore(a.Pool, a.Logger)
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	return nil
}

func (a *App) buildPipeline() error {
	var fast provider.Generator
	if a.Config.HyDEEnabled {
		fast = a.fast
	}
	var err error
	a.Pipeline, err = ingest.New(a.Knowledge, a.Knowledge, a.Sessions, fast, ingest.Config{
		ChunkSize:    a.Config.ChunkSize,
		ChunkOverlap: a.Config.ChunkOverlap,
		HyDE:         a.Config.HyDEEnabled,
		HyDETimeout:  a.Config.HyDETimeoutDuration(),
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	return nil
}

func (a *App) buildEngine() error {
	var err error
	a.Engine, err = agent.New(agent.Deps{
		Store:         a.Knowledge,
		Generator:     a.generator,
		FastGenerator: a.fast,
		Reranker:      provider.NoopReranker{},
		History:       a.Sessions,
		Auditor:       a.Audit,
	}, agent.Config{
		TopK:            a.Config.TopK,
		MaxHistoryTurns: a.Config.MaxHistoryTurns,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("creating query engine: %w", err)
	}
	return nil
}

// Close releases the database pool. Provider clients hold no persistent
// connections of their own.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
