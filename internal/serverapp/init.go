package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"pivotgate/internal/engine"
	"pivotgate/internal/httpapi"
	"pivotgate/internal/warmup"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, engineMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	pools := buildPools(a.cfg, a.logger)
	cleanup.push("connection pools", func(_ context.Context) error {
		pools.DisposeAll()
		return nil
	})

	resultCache, redisClient := buildCache(a.cfg, a.logger)
	if redisClient != nil {
		cleanup.push("redis client", func(_ context.Context) error {
			return redisClient.Close()
		})
	}

	eng := engine.New(a.logger.Logger, a.reports, pools, resultCache, engineMetrics, engineConfig(a.cfg))

	if a.cfg.Pool.WarmupOnStart {
		warmed := warmup.WarmAll(ctx, a.logger.Logger, pools, a.reports, a.cfg.Pool.WarmupTimeout)
		a.logger.Info("startup pool warm-up finished",
			slog.Int("pools_warmed", warmed),
			slog.Int("reports", len(a.reports.List())),
		)
	}

	api := httpapi.New(a.logger, eng, a.reports)
	mux := buildRouter(a.cfg, a.logger, api, a.reports, pools, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, tlsManager, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})
	if tlsManager != nil {
		cleanup.push("TLS manager", func(_ context.Context) error {
			return tlsManager.Shutdown()
		})
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.engineMetrics = engineMetrics
	a.pools = pools
	a.cache = resultCache
	a.eng = eng
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.tlsManager = tlsManager
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
