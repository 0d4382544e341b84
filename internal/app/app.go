// Package app builds the research pipeline and its dependencies from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/dossier/internal/config"
	"github.com/FranksOps/dossier/internal/extract"
	"github.com/FranksOps/dossier/internal/fingerprint"
	"github.com/FranksOps/dossier/internal/llm"
	"github.com/FranksOps/dossier/internal/pipeline"
	"github.com/FranksOps/dossier/internal/scraper"
	"github.com/FranksOps/dossier/internal/serp"
	"github.com/FranksOps/dossier/internal/storage"
	"github.com/FranksOps/dossier/internal/storage/jsonbackend"
	"github.com/FranksOps/dossier/internal/storage/postgres"
	"github.com/FranksOps/dossier/internal/storage/sqlite"
	"github.com/FranksOps/dossier/internal/synth"
	"github.com/FranksOps/dossier/pkg/proxy"
	"github.com/FranksOps/dossier/pkg/ratelimit"
	"github.com/FranksOps/dossier/pkg/useragent"
)

// App holds the wired components. Close releases the store.
type App struct {
	Pipeline *pipeline.Pipeline
	Store    storage.Store
}

// Close releases resources held by the app.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	p, err := newPipeline(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &App{Pipeline: p, Store: store}, nil
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Backend {
	case "sqlite":
		store, err = sqlite.New(cfg.DSN)
	case "postgres":
		store, err = postgres.New(ctx, cfg.DSN)
	case "json":
		store, err = jsonbackend.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	return store, nil
}

func newPipeline(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	fetcher, err := NewFetcher(cfg.Extract, logger)
	if err != nil {
		return nil, err
	}

	search, err := NewSearch(cfg.Search, cfg.Extract, fetcher, logger)
	if err != nil {
		return nil, err
	}

	excfg := extract.Config{Fetcher: fetcher, Logger: logger}
	if cfg.Extract.RespectRobots {
		excfg.Robots = scraper.NewRobotsPolicy(fetcher, "", logger)
	}

	synthesizer, err := NewSynthesizer(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		Search:      search,
		Extractor:   extract.New(excfg),
		Synthesizer: synthesizer,
		Store:       store,
		MaxResults:  cfg.Search.MaxResults,
		Concurrency: cfg.Extract.Concurrency,
		Logger:      logger,
	})
}

// NewFetcher builds the shared HTTP fetcher used for extraction and for
// scraping search backends.
func NewFetcher(cfg config.ExtractConfig, logger *slog.Logger) (*scraper.Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}

	fc := scraper.FetchConfig{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		MaxBytes:     cfg.MaxBytes,
		UseCookieJar: true,
		UAPool:       useragent.NewPool(cfg.UserAgents, useragent.Random),
		Fingerprint:  profile,
		Logger:       logger,
	}
	if cfg.RequestsPerSecond > 0 {
		fc.Limiter = ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter)
	}
	if cfg.ProxyFile != "" {
		pool := proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(cfg.ProxyFile); err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		logger.Info("loaded proxies", "count", pool.Len())
		fc.ProxyPool = pool
	}

	return scraper.NewFetcher(fc)
}

// NewSearch builds the configured search provider.
func NewSearch(cfg config.SearchConfig, ex config.ExtractConfig, fetcher *scraper.Fetcher, logger *slog.Logger) (serp.Provider, error) {
	switch cfg.Provider {
	case "tavily":
		return serp.NewTavily(serp.TavilyConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: ex.Timeout,
			Logger:  logger,
		})
	case "duckduckgo":
		return serp.NewDuckDuckGo(fetcher, cfg.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

// NewSynthesizer builds the report writer with OpenAI as the primary
// provider and Gemini as the fallback. A provider without an API key is
// left out.
func NewSynthesizer(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*synth.Synthesizer, error) {
	var primary, secondary llm.Provider

	if cfg.OpenAI.APIKey != "" {
		p, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		primary = p
	}
	if cfg.Google.APIKey != "" {
		p, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  cfg.Google.APIKey,
			Model:   cfg.Google.Model,
			BaseURL: cfg.Google.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		secondary = p
	}

	s, err := synth.New(primary, secondary, synth.Config{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
	})
	if errors.Is(err, synth.ErrNoProviderAvailable) {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or GOOGLE_API_KEY", err)
	}
	return s, err
}
