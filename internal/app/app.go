// Package app initializes and holds the long-lived services of the search
// service, acting as the dependency injection container shared by every
// command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/api"
	gcscache "github.com/vlikcc/yargisalzekav2/internal/cache/gcs"
	memorycache "github.com/vlikcc/yargisalzekav2/internal/cache/memory"
	postgrescache "github.com/vlikcc/yargisalzekav2/internal/cache/postgres"
	"github.com/vlikcc/yargisalzekav2/internal/clock/system"
	"github.com/vlikcc/yargisalzekav2/internal/config"
	"github.com/vlikcc/yargisalzekav2/internal/driver/headless"
	"github.com/vlikcc/yargisalzekav2/internal/driver/rowparse"
	"github.com/vlikcc/yargisalzekav2/internal/hash/sha256"
	"github.com/vlikcc/yargisalzekav2/internal/id/uuid"
	"github.com/vlikcc/yargisalzekav2/internal/logging"
	"github.com/vlikcc/yargisalzekav2/internal/metrics"
	"github.com/vlikcc/yargisalzekav2/internal/policy/ratelimit"
	"github.com/vlikcc/yargisalzekav2/internal/policy/simple"
	"github.com/vlikcc/yargisalzekav2/internal/prober"
	"github.com/vlikcc/yargisalzekav2/internal/progress"
	"github.com/vlikcc/yargisalzekav2/internal/progress/sinks"
	memorypublisher "github.com/vlikcc/yargisalzekav2/internal/publisher/memory"
	pubsubpublisher "github.com/vlikcc/yargisalzekav2/internal/publisher/pubsub"
	memoryqueue "github.com/vlikcc/yargisalzekav2/internal/queue/memory"
	"github.com/vlikcc/yargisalzekav2/internal/search"
	"github.com/vlikcc/yargisalzekav2/internal/telemetry"
)

// App holds the shared services: logger, cache store, browser provider,
// progress hub, engine, and HTTP server. It is initialized once at startup
// and fails fast when any critical service cannot be built.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	hub       *progress.Hub
	provider  *headless.Provider
	store     search.CacheStore
	publisher search.Publisher
	engine    *search.Engine
	prober    *prober.Prober
	server    *api.Server

	closePublisher  func() error
	shutdownTracing func(context.Context) error
}

// New builds the production container from the loaded configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	return newApp(ctx, cfg, prometheus.DefaultRegisterer)
}

func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger.Info("initializing application services")

	metrics.Init()

	var shutdownTracing func(context.Context) error
	if cfg.Telemetry.Enabled {
		shutdownTracing, err = telemetry.Setup(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
	}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("register progress collectors: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if cfg.Logging.Development {
		hubSinks = append(hubSinks, sinks.NewLogSink(logger.Named("progress")))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, hubSinks...)

	clock := system.New()
	hasher := sha256.New()
	ids := uuid.New()

	budget := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Scrape.RatePerSecond})

	provider, err := headless.NewProvider(headless.Config{
		MaxSessions:       cfg.Limits.MaxConcurrency,
		UserAgent:         cfg.Scrape.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout(),
		DetailSettle:      cfg.DetailSettle(),
		Headed:            !cfg.Scrape.Headless,
	}, budget, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("initialize browser provider: %w", err)
	}

	store, err := newCacheStore(ctx, cfg, clock, logger)
	if err != nil {
		return nil, err
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	searchCfg := cfg.SearchConfig()
	runner := search.NewSessionRunner(searchCfg, provider, rowparse.New(), clock, hub, logger.Named("session"))
	dispatcher := search.NewDispatcher(
		runner,
		func(capacity int) search.Queue { return memoryqueue.New(capacity) },
		searchCfg.MaxConcurrency,
		clock,
		hub,
		logger.Named("dispatcher"),
	)
	engine := search.NewEngine(
		search.EngineConfig{CacheTTL: cfg.CacheTTL(), PublishTopic: cfg.Publish.TopicName},
		simple.New(cfg.Limits.MaxKeywords, cfg.Limits.MaxResults),
		store,
		dispatcher,
		publisher,
		hasher,
		clock,
		ids,
		logger.Named("engine"),
	)

	var portalProber *prober.Prober
	if cfg.Probe.Enabled {
		portalProber, err = prober.New(prober.Config{
			URL:       cfg.Scrape.PortalURL,
			Interval:  cfg.ProbeInterval(),
			Timeout:   cfg.ProbeTimeout(),
			UserAgent: cfg.Scrape.UserAgent,
		}, budget, logger.Named("prober"))
		if err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("initialize prober: %w", err)
		}
	}

	var ready api.ReadinessChecker
	if portalProber != nil {
		ready = portalProber
	}
	server := api.NewServer(api.Config{
		RequestTimeout: cfg.RequestTimeout(),
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, engine, ready, logger.Named("api"))

	logger.Info("application services initialized")

	return &App{
		cfg:             cfg,
		logger:          logger,
		hub:             hub,
		provider:        provider,
		store:           store,
		publisher:       publisher,
		engine:          engine,
		prober:          portalProber,
		server:          server,
		closePublisher:  closePublisher,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Search runs a one-shot dispatch through the engine. The CLI search
// command uses it; the HTTP API talks to the engine directly.
func (a *App) Search(ctx context.Context, req search.Request) (search.Result, error) {
	return a.engine.Search(ctx, req)
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests
// within the configured grace period. The portal prober and the browser
// warmup run in the background.
func (a *App) Run(ctx context.Context) error {
	if a.prober != nil {
		go a.prober.Run(ctx)
	}
	go func() {
		if err := a.provider.Warmup(ctx); err != nil {
			a.logger.Warn("browser warmup failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("draining http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	return nil
}

// Close shuts the services down in dependency order: progress hub first so
// terminal events flush, then the browser pool, cache store, publisher, and
// tracer provider.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := a.provider.Close(ctx); err != nil {
		a.logger.Warn("browser provider close failed", zap.Error(err))
	}
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("cache store close failed", zap.Error(err))
	}
	if a.closePublisher != nil {
		if err := a.closePublisher(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func newCacheStore(ctx context.Context, cfg config.Config, clock search.Clock, logger *zap.Logger) (search.CacheStore, error) {
	switch cfg.Cache.Backend {
	case "memory":
		logger.Info("using in-memory result cache", zap.Int("capacity", cfg.Cache.Capacity))
		return memorycache.New(cfg.Cache.Capacity, clock), nil
	case "postgres":
		logger.Info("using postgres result cache", zap.Int("capacity", cfg.Cache.Capacity))
		store, err := postgrescache.New(ctx, postgrescache.Config{
			DSN:      cfg.Cache.DSN,
			Capacity: cfg.Cache.Capacity,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres cache: %w", err)
		}
		return store, nil
	case "gcs":
		logger.Info("using gcs result cache",
			zap.String("bucket", cfg.Cache.GCSBucket),
			zap.String("prefix", cfg.Cache.Prefix),
		)
		store, err := gcscache.New(ctx, gcscache.Config{
			Bucket:   cfg.Cache.GCSBucket,
			Prefix:   cfg.Cache.Prefix,
			Capacity: cfg.Cache.Capacity,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (search.Publisher, func() error, error) {
	switch cfg.Publish.Backend {
	case "", "none":
		return nil, nil, nil
	case "memory":
		logger.Info("using in-memory completion publisher")
		return memorypublisher.New(), nil, nil
	case "pubsub":
		logger.Info("using pubsub completion publisher",
			zap.String("project", cfg.Publish.ProjectID),
			zap.String("topic", cfg.Publish.TopicName),
		)
		pub, err := pubsubpublisher.New(ctx, cfg.Publish.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		return pub, pub.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown publish backend: %s", cfg.Publish.Backend)
	}
}
