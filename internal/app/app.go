// Package app assembles the service from configuration.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/cache"
	"github.com/lehigh-university-libraries/shelfscan/internal/catalog"
	"github.com/lehigh-university-libraries/shelfscan/internal/config"
	"github.com/lehigh-university-libraries/shelfscan/internal/gemini"
	"github.com/lehigh-university-libraries/shelfscan/internal/handlers"
	"github.com/lehigh-university-libraries/shelfscan/internal/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/ollama"
	"github.com/lehigh-university-libraries/shelfscan/internal/openai"
	"github.com/lehigh-university-libraries/shelfscan/internal/pipeline"
	"github.com/lehigh-university-libraries/shelfscan/internal/providers"
	"github.com/lehigh-university-libraries/shelfscan/internal/recommend"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

// App owns every long-lived dependency of the service.
type App struct {
	Config   *config.Config
	Store    *storage.Store
	Pipeline *pipeline.Orchestrator
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Detector *vision.Detector
	Handler  http.Handler

	closers []func() error
}

// Build connects to the database, migrates it and wires the pipeline and
// HTTP routes. Close must be called when done.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	provider, err := a.provider(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Detector = vision.NewDetector(provider, cfg.LLM.VisionModel, cfg.LLM.Temperature)
	generator := recommend.NewGenerator(provider, cfg.LLM.TextModel, cfg.LLM.Temperature)

	lookups, err := a.cache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	books := catalog.New(catalog.Options{
		GoogleBooksURL:    cfg.Catalog.GoogleBooksURL,
		GoogleBooksAPIKey: cfg.Catalog.GoogleBooksAPIKey,
		OpenLibraryURL:    cfg.Catalog.OpenLibraryURL,
		Timeout:           cfg.Catalog.Timeout,
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		Cache:             lookups,
		CacheTTL:          cfg.Catalog.CacheTTL,
		Metrics:           a.Metrics,
	})

	if a.Store, err = OpenStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		slog.Warn("SHELFSCAN_AUTH_JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	sessionSecret := cfg.Auth.SessionSecret
	if sessionSecret == "" {
		sessionSecret = jwtSecret
	}
	sealer, err := auth.NewSealer(sessionSecret)
	if err != nil {
		a.Close()
		return nil, err
	}
	issuer := auth.NewIssuer(jwtSecret, cfg.Auth.TokenTTL)

	a.Pipeline = pipeline.New(a.Store, a.Detector, books, generator, sealer, a.Metrics, pipeline.Options{
		MaxUploadBytes:        cfg.Pipeline.MaxUploadBytes,
		PhaseTimeout:          cfg.Pipeline.DetectionTimeout,
		EnrichmentTimeout:     cfg.Pipeline.EnrichmentTimeout,
		RecommendationTimeout: cfg.Pipeline.RecommendationTimeout,
		EnrichConcurrency:     cfg.Pipeline.EnrichConcurrency,
		SessionTTL:            cfg.Pipeline.SessionTTL,
		StaleAfter:            cfg.Pipeline.StaleAfter,
		AutoRecommend:         cfg.Pipeline.AutoRecommend,
	})

	a.Handler = handlers.New(handlers.Deps{
		Store:          a.Store,
		Pipeline:       a.Pipeline,
		Issuer:         issuer,
		Sealer:         sealer,
		Metrics:        a.Metrics,
		Gatherer:       a.Registry,
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
	}).Routes()

	return a, nil
}

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(storage.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Debug:           cfg.Log.Level == "debug",
	})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewProvider builds the configured LLM provider wrapped in retries and a
// circuit breaker. The returned close func releases any client it holds.
func NewProvider(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (providers.Provider, func() error, error) {
	var (
		p       providers.Provider
		closeFn = func() error { return nil }
	)
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		p = openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case "ollama":
		p = ollama.New(cfg.Ollama.URL)
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, nil, err
		}
		closeFn = client.Close
		p = gemini.New(client)
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}

	p = providers.Retry(p, cfg.LLM.MaxAttempts, cfg.LLM.RetryBaseDelay)
	p = providers.WithBreaker(cfg.LLM.Provider, p, m.BreakerStateChanged)
	return p, closeFn, nil
}

func (a *App) provider(ctx context.Context) (providers.Provider, error) {
	p, closeFn, err := NewProvider(ctx, a.Config, a.Metrics)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeFn)
	slog.Info("LLM provider configured", "provider", a.Config.LLM.Provider, "vision_model", a.Config.LLM.VisionModel, "text_model", a.Config.LLM.TextModel)
	return p, nil
}

func (a *App) cache(ctx context.Context) (cache.Cache, error) {
	if a.Config.Cache.RedisURL == "" {
		return cache.NewMemory(a.Config.Catalog.CacheTTL), nil
	}
	r, err := cache.NewRedis(ctx, a.Config.Cache.RedisURL, "shelfscan:catalog:")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// Sweep runs one maintenance pass over stale and expired sessions.
func (a *App) Sweep(ctx context.Context) (pipeline.SweepResult, error) {
	return a.Pipeline.Sweep(ctx)
}

// Shutdown waits for in-flight scans.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Pipeline == nil {
		return nil
	}
	return a.Pipeline.Shutdown(ctx)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
