// Package server builds the docverify dependency graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/acquire"
	"github.com/JakeFAU/docverify/internal/api"
	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/clock/system"
	"github.com/JakeFAU/docverify/internal/config"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/extract/pdftext"
	collyfetcher "github.com/JakeFAU/docverify/internal/fetcher/colly"
	"github.com/JakeFAU/docverify/internal/id/uuid"
	"github.com/JakeFAU/docverify/internal/policy/allowlist"
	"github.com/JakeFAU/docverify/internal/policy/ratelimit"
	"github.com/JakeFAU/docverify/internal/proxy"
	memorypublisher "github.com/JakeFAU/docverify/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docverify/internal/publisher/pubsub"
	"github.com/JakeFAU/docverify/internal/readability"
	badgerstorage "github.com/JakeFAU/docverify/internal/storage/badger"
	gcsstorage "github.com/JakeFAU/docverify/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docverify/internal/storage/local"
	memorystorage "github.com/JakeFAU/docverify/internal/storage/memory"
	pgstorage "github.com/JakeFAU/docverify/internal/storage/postgres"
	"github.com/JakeFAU/docverify/internal/telemetry"
	"github.com/JakeFAU/docverify/internal/verify"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	cache        *cache.Cache
	orchestrator *acquire.Orchestrator
	service      *verify.Service
	apiServer    *api.Server
	closers      []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. The returned App must be
// closed by the caller.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeAll(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.Bool("proxy_serve", cfg.Proxy.Serve),
		zap.Int("allowed_hosts", len(cfg.Proxy.AllowedHosts)),
	)

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if tErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tErr)
		}
		app.addCloser("tracer", tp.Shutdown)
	}

	clock := system.New()
	classifier := classify.New(clock, uuid.New())

	backend, err := setupCacheBackend(ctx, app)
	if err != nil {
		return nil, err
	}
	app.cache, err = cache.New(backend, cache.Options{
		MaxBytes: cfg.Cache.MaxBytes,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	limiter := ratelimit.New(cfg.Fetch.RateLimit)
	if cfg.Fetch.RateLimit.Enabled {
		logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.Fetch.RateLimit.RPS),
			zap.Int("burst", cfg.Fetch.RateLimit.Burst),
		)
	}
	allow := allowlist.New(cfg.Proxy.AllowedHosts)
	direct := collyfetcher.New(collyfetcher.Config{
		Stage:     "direct",
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		Limiter:   limiter,
	})

	proxyClient, err := setupProxyClient(app)
	if err != nil {
		return nil, err
	}

	orchestratorDeps := acquire.Deps{
		Cache:      app.cache,
		Direct:     direct,
		Allow:      allow,
		Classifier: classifier,
		Clock:      clock,
		Logger:     logger,
	}
	// A nil *proxy.Client must not become a non-nil interface.
	if proxyClient != nil {
		orchestratorDeps.Proxy = proxyClient
	}
	app.orchestrator, err = acquire.New(orchestratorDeps, acquire.Config{
		Timeout:       cfg.Fetch.Timeout,
		ProxyTimeout:  cfg.Proxy.Timeout,
		MaxBytes:      cfg.Fetch.MaxBytes,
		ProxyMaxBytes: cfg.Proxy.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	evaluator := readability.New(cfg.Readability)
	app.service, err = verify.New(verify.Deps{
		Acquirer:   app.orchestrator,
		Extractor:  pdftext.New(cfg.Extract.MaxPages),
		Evaluator:  evaluator,
		Classifier: classifier,
		Publisher:  publisher,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("verify service init failed: %w", err)
	}

	apiDeps := api.Deps{
		Verifier:   app.service,
		Cache:      app.cache,
		Records:    memorystorage.NewRecordStore(0),
		Classifier: classifier,
		Evaluator:  evaluator,
		Clock:      clock,
	}
	if cfg.Proxy.Serve {
		upstream := collyfetcher.New(collyfetcher.Config{
			Stage:     "upstream",
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Proxy.Timeout,
			MaxBytes:  cfg.Proxy.MaxBytes,
			Limiter:   limiter,
		})
		apiDeps.Proxy = proxy.NewHandler(allow, upstream, proxy.HandlerConfig{
			MaxBytes: cfg.Proxy.MaxBytes,
			Timeout:  cfg.Proxy.Timeout,
		}, logger)
		logger.Info("proxy intermediary enabled", zap.Int64("max_bytes", cfg.Proxy.MaxBytes))
	}
	requestTimeout := cfg.Fetch.Timeout + cfg.Proxy.Timeout + 30*time.Second
	app.apiServer = api.NewServer(apiDeps, cfg.Auth, requestTimeout, logger)

	return app, nil
}

// Service returns the verification service.
func (a *App) Service() *verify.Service {
	return a.service
}

// Cache returns the content cache.
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close releases backends, publishers and the tracer provider.
func (a *App) Close(ctx context.Context) {
	a.closeAll(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func setupCacheBackend(ctx context.Context, app *App) (cache.Backend, error) {
	cfg := app.cfg.Cache
	switch cfg.Backend {
	case config.BackendLocal:
		store, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local cache backend init failed: %w", err)
		}
		app.logger.Info("using local cache backend", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	case config.BackendBadger:
		store, err := badgerstorage.Open(cfg.Badger, app.logger)
		if err != nil {
			return nil, fmt.Errorf("badger cache backend init failed: %w", err)
		}
		app.addCloser("badger", func(context.Context) error { return store.Close() })
		app.logger.Info("using badger cache backend", zap.String("path", cfg.Badger.Path), zap.Bool("in_memory", cfg.Badger.InMemory))
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.addCloser("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs cache backend init failed: %w", err)
		}
		app.logger.Info("using GCS cache backend", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		return store, nil
	case config.BackendPostgres:
		store, err := pgstorage.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres cache backend init failed: %w", err)
		}
		app.addCloser("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		app.logger.Info("using postgres cache backend", zap.String("table", cfg.Postgres.Table))
		return store, nil
	default:
		app.logger.Info("using in-memory cache backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupProxyClient(app *App) (*proxy.Client, error) {
	cfg := app.cfg.Proxy
	if cfg.Endpoint == "" {
		app.logger.Warn("no proxy endpoint configured, cross-origin failures are terminal")
		return nil, nil
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		Stage:     "proxy",
		UserAgent: app.cfg.Fetch.UserAgent,
		Timeout:   cfg.Timeout,
		MaxBytes:  cfg.MaxBytes,
	})
	client, err := proxy.NewClient(proxy.ClientConfig{
		Endpoint: cfg.Endpoint,
		Breaker:  cfg.Breaker,
	}, fetcher, app.logger)
	if err != nil {
		return nil, fmt.Errorf("proxy client init failed: %w", err)
	}
	app.logger.Info("proxy client configured",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("breaker", cfg.Breaker.Enabled),
	)
	return client, nil
}

// memoryPublisherLimit bounds the events kept by the in-process publisher.
const memoryPublisherLimit = 1000

func setupPublisher(ctx context.Context, app *App) (document.Publisher, error) {
	cfg := app.cfg.Publisher
	switch cfg.Backend {
	case config.PublisherPubSub:
		pub, err := gcppublisher.Dial(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.addCloser("pubsub", func(context.Context) error { return pub.Close() })
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return pub, nil
	case config.PublisherMemory:
		app.logger.Info("using in-memory publisher")
		return memorypublisher.NewBounded(memoryPublisherLimit), nil
	default:
		app.logger.Info("event publishing disabled")
		return nil, nil
	}
}
