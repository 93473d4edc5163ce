// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmgateway/config"
	"llmgateway/internal/callbacks"
	"llmgateway/internal/events"
	"llmgateway/internal/executor"
	"llmgateway/internal/models"
	"llmgateway/internal/providers"
	"llmgateway/internal/server"
	"llmgateway/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	providers *providers.InitResult
	nats      *nats.Conn
	executor  *executor.Executor
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Factory provides the ProviderFactory used to construct provider adapters.
	Factory *providers.ProviderFactory

	// Metrics is the registry the metrics sink registers with and the
	// metrics endpoint serves. Nil means the Prometheus default registry.
	Metrics *prometheus.Registry
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig
	app := &App{
		config: appCfg,
	}

	providerResult, err := providers.Init(ctx, appCfg, cfg.Factory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.providers = providerResult

	sink, err := app.buildSink(cfg.Metrics)
	if err != nil {
		closeErr := app.providers.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize callbacks: %w (also: providers close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize callbacks: %w", err)
	}

	app.logStartupInfo()

	app.executor = executor.New(
		providerResult.Registry,
		providerResult.Providers,
		models.NewFactory(providerResult.Factory),
		sink,
		executor.WithCostCalculator(usage.NewPricingCalculator(providerResult.Registry)),
	)

	serverCfg := &server.Config{
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	}
	if cfg.Metrics != nil {
		serverCfg.MetricsHandler = promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{})
	}
	app.server = server.New(app.executor, providerResult.Registry, serverCfg)

	return app, nil
}

// buildSink combines the configured event sinks.
func (a *App) buildSink(reg *prometheus.Registry) (events.CallbackHandler, error) {
	var handlers []events.CallbackHandler

	if a.config.Callbacks.Log {
		handlers = append(handlers, callbacks.NewLogger(nil))
	}

	if a.config.Metrics.Enabled {
		var registerer prometheus.Registerer = prometheus.DefaultRegisterer
		if reg != nil {
			registerer = reg
		}
		handlers = append(handlers, callbacks.NewMetrics(registerer))
	}

	if url := a.config.Callbacks.NATS.URL; url != "" {
		conn, err := callbacks.ConnectNATS(url)
		if err != nil {
			return nil, err
		}
		a.nats = conn
		handlers = append(handlers, callbacks.NewNATSPublisher(conn, a.config.Callbacks.NATS.SubjectPrefix))
	}

	return callbacks.Multi(handlers...), nil
}

// Executor returns the request executor.
func (a *App) Executor() *executor.Executor {
	return a.executor
}

// Handler returns the HTTP handler serving the gateway routes.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. NATS drain (publishes buffered events before closing).
// 3. Provider subsystem close (stops catalog refresh and cache resources).
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Flush published events
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			slog.Error("nats drain error", "error", err)
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}

	// 3. Close providers (stops background refresh and cache)
	if a.providers != nil {
		if err := a.providers.Close(); err != nil {
			slog.Error("providers close error", "error", err)
			errs = append(errs, fmt.Errorf("providers close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Catalog.Cache.Type != "" {
		slog.Info("catalog cache configured", "type", cfg.Catalog.Cache.Type)
	}
	if cfg.Catalog.File != "" {
		slog.Info("catalog file watched", "path", cfg.Catalog.File, "refresh_interval", cfg.Catalog.RefreshInterval)
	}

	slog.Info("event callbacks",
		"log", cfg.Callbacks.Log,
		"metrics", cfg.Metrics.Enabled,
		"nats", cfg.Callbacks.NATS.URL != "",
	)
}
