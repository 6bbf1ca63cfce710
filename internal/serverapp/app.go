package serverapp

import (
	"fmt"
	"net/http"
	"sync"

	"pivotgate/internal/config"
	"pivotgate/internal/engine"
	"pivotgate/internal/logging"
	"pivotgate/internal/observability"
	"pivotgate/internal/pool"
	"pivotgate/internal/report"
	"pivotgate/internal/resultcache"
	"pivotgate/internal/tlscert"
)

// App owns runtime resources for the pivotgate server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	engineMetrics  *observability.EngineMetrics

	reports *report.StaticStore
	pools   *pool.Manager
	cache   resultcache.Cache
	eng     *engine.Engine

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	srv        *http.Server
	tlsManager tlscert.Manager

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper. Report definitions are resolved
// eagerly so misconfiguration fails before any resource is acquired.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	defs, err := cfg.ReportSet()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve report definitions: %w", err)
	}
	reports, err := report.NewStaticStore(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to build report store: %w", err)
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		reports: reports,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
