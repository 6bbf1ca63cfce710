package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMeterProvider(t *testing.T) {
	cfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	}

	mp, err := InitMeterProvider(cfg)
	require.NoError(t, err, "Should initialize meter provider without error")
	require.NotNil(t, mp, "Meter provider should not be nil")
	require.NotNil(t, mp.provider, "Provider should not be nil")
	require.NotNil(t, mp.exporter, "Exporter should not be nil")

	// Clean up
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	err = mp.Shutdown(context.Background(), logger)
	assert.NoError(t, err, "Should shutdown without error")
}

func TestInitMetrics(t *testing.T) {
	// First initialize meter provider
	cfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	}

	mp, err := InitMeterProvider(cfg)
	require.NoError(t, err)
	defer func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		mp.Shutdown(context.Background(), logger)
	}()

	// Initialize metrics
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	metrics, err := InitMetrics(logger)
	require.NoError(t, err, "Should initialize metrics without error")
	require.NotNil(t, metrics, "Metrics should not be nil")

	// Verify all metrics are initialized
	require.NotNil(t, metrics.queryDuration, "Query duration metric should be initialized")
	require.NotNil(t, metrics.queryCounter, "Query counter should be initialized")
	require.NotNil(t, metrics.errorCounter, "Error counter should be initialized")
	require.NotNil(t, metrics.activeQueries, "Active queries counter should be initialized")
	require.NotNil(t, metrics.cacheHits, "Cache hit counter should be initialized")
	require.NotNil(t, metrics.cacheMisses, "Cache miss counter should be initialized")
}

func TestRecordQuery(t *testing.T) {
	metrics, err := InitEngineMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	// Recording must not panic with or without an error kind
	metrics.RecordQuery(ctx, 25*time.Millisecond, "mysql", "grouped", "")
	metrics.RecordQuery(ctx, 40*time.Millisecond, "postgres", "drill", "query timeout")
	metrics.RecordResultRows(ctx, 120, "grouped")
	metrics.RecordCacheHit(ctx, "sales")
	metrics.RecordCacheMiss(ctx, "sales")
	metrics.RecordPoolCreated(ctx, "mysql")
	metrics.RecordPoolDisposed(ctx, "mysql")
	metrics.RecordWarmDuration(ctx, 100*time.Millisecond, "mysql")
	metrics.IncrementActiveQueries(ctx)
	metrics.DecrementActiveQueries(ctx)
}

func TestEngineMetricsContext(t *testing.T) {
	metrics, err := InitEngineMetrics()
	require.NoError(t, err)

	ctx := ContextWithEngineMetrics(context.Background(), metrics)
	assert.Same(t, metrics, EngineMetricsFromContext(ctx))
	assert.Nil(t, EngineMetricsFromContext(context.Background()))
}

func TestParseOTLPProtocol(t *testing.T) {
	protocol, err := parseOTLPProtocol("")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, protocol)

	protocol, err = parseOTLPProtocol("http")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, protocol)

	_, err = parseOTLPProtocol("carrier-pigeon")
	assert.Error(t, err)
}
