package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds custom metrics for pivot query execution
type EngineMetrics struct {
	queryDuration metric.Float64Histogram
	queryCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	activeQueries metric.Int64UpDownCounter
	resultRows    metric.Int64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	poolsCreated  metric.Int64Counter
	poolsDisposed metric.Int64Counter
	warmDuration  metric.Float64Histogram
}

// InitEngineMetrics initializes engine-specific metrics
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("pivotgate")

	queryDuration, err := meter.Float64Histogram(
		"pivot.query.duration",
		metric.WithDescription("Duration of pivot queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"pivot.queries.total",
		metric.WithDescription("Total number of pivot queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"pivot.errors.total",
		metric.WithDescription("Total number of pivot query errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"pivot.queries.active",
		metric.WithDescription("Number of in-flight pivot queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	resultRows, err := meter.Int64Histogram(
		"pivot.result.rows",
		metric.WithDescription("Number of rows returned by pivot queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"pivot.cache.hits",
		metric.WithDescription("Number of result cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"pivot.cache.misses",
		metric.WithDescription("Number of result cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	poolsCreated, err := meter.Int64Counter(
		"pivot.pools.created",
		metric.WithDescription("Number of connection pools created"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pools created counter: %w", err)
	}

	poolsDisposed, err := meter.Int64Counter(
		"pivot.pools.disposed",
		metric.WithDescription("Number of connection pools disposed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pools disposed counter: %w", err)
	}

	warmDuration, err := meter.Float64Histogram(
		"pivot.pool.warm.duration",
		metric.WithDescription("Duration of pool warm-up in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create warm duration histogram: %w", err)
	}

	return &EngineMetrics{
		queryDuration: queryDuration,
		queryCounter:  queryCounter,
		errorCounter:  errorCounter,
		activeQueries: activeQueries,
		resultRows:    resultRows,
		cacheHits:     cacheHits,
		cacheMisses:   cacheMisses,
		poolsCreated:  poolsCreated,
		poolsDisposed: poolsDisposed,
		warmDuration:  warmDuration,
	}, nil
}

// RecordQuery records one executed query with its duration and outcome
func (m *EngineMetrics) RecordQuery(ctx context.Context, duration time.Duration, dialect, shape, errorKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("dialect", dialect),
		attribute.String("shape", shape),
		attribute.Bool("has_errors", errorKind != ""),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("dialect", dialect),
			attribute.String("shape", shape),
			attribute.String("error_kind", errorKind),
		))
	}
}

// RecordResultRows records the number of rows a query produced
func (m *EngineMetrics) RecordResultRows(ctx context.Context, count int64, shape string) {
	m.resultRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("shape", shape),
	))
}

func (m *EngineMetrics) RecordCacheHit(ctx context.Context, reportID string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("report_id", reportID),
	))
}

func (m *EngineMetrics) RecordCacheMiss(ctx context.Context, reportID string) {
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("report_id", reportID),
	))
}

func (m *EngineMetrics) RecordPoolCreated(ctx context.Context, dialect string) {
	m.poolsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dialect", dialect),
	))
}

func (m *EngineMetrics) RecordPoolDisposed(ctx context.Context, dialect string) {
	m.poolsDisposed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dialect", dialect),
	))
}

// RecordWarmDuration records one pool warm-up
func (m *EngineMetrics) RecordWarmDuration(ctx context.Context, duration time.Duration, dialect string) {
	m.warmDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("dialect", dialect),
	))
}

// IncrementActiveQueries increments the in-flight query counter
func (m *EngineMetrics) IncrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the in-flight query counter
func (m *EngineMetrics) DecrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the EngineMetrics instance
func InitMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	metrics, err := InitEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	logger.Info("custom engine metrics initialized")
	return metrics, nil
}

type engineMetricsContextKey struct{}

// ContextWithEngineMetrics stores engine metrics in the provided context.
func ContextWithEngineMetrics(ctx context.Context, metrics *EngineMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, engineMetricsContextKey{}, metrics)
}

// EngineMetricsFromContext retrieves engine metrics from the context.
func EngineMetricsFromContext(ctx context.Context) *EngineMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(engineMetricsContextKey{}).(*EngineMetrics)
	return metrics
}
