// Package engine orchestrates pivot execution: it resolves the report,
// consults the result cache, synthesizes SQL for the request's shape, runs
// it on the report's pooled connection under a bounded dispatcher, reshapes
// the result, and serializes it to an Arrow IPC payload.
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"pivotgate/internal/enginerr"
	"pivotgate/internal/observability"
	"pivotgate/internal/pivot"
	"pivotgate/internal/pool"
	"pivotgate/internal/report"
	"pivotgate/internal/reshape"
	"pivotgate/internal/resultcache"
	"pivotgate/internal/sqlgen"
	"pivotgate/internal/table"
)

// CachedRowCount marks a payload served from cache, where the row count is
// not recomputed.
const CachedRowCount = -1

// Config bounds engine execution.
type Config struct {
	// MaxConcurrentQueries caps in-flight database queries across all
	// requests.
	MaxConcurrentQueries int64
	// QueryTimeout bounds steady-state query execution.
	QueryTimeout time.Duration
	// TestTimeout bounds connection tests, which absorb cold starts.
	TestTimeout time.Duration
	// PreviewCap bounds ungrouped passthrough row counts.
	PreviewCap int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentQueries: 4,
		QueryTimeout:         30 * time.Second,
		TestTimeout:          180 * time.Second,
		PreviewCap:           sqlgen.DefaultRowCap,
	}
}

// Result is one executed pivot: the Arrow IPC payload plus the metadata the
// transport returns as headers.
type Result struct {
	Payload   []byte
	RowCount  int
	Cached    bool
	ElapsedMs int64
}

// GridResult is the row-oriented shape for drill-down grid endpoints.
type GridResult struct {
	Records     []map[string]any `json:"data"`
	Total       int              `json:"total"`
	DroppedSort []string         `json:"-"`
	ElapsedMs   int64            `json:"-"`
}

// Engine executes pivot requests. It is safe for concurrent use.
type Engine struct {
	logger  *slog.Logger
	reports report.Store
	pools   *pool.Manager
	cache   resultcache.Cache
	metrics *observability.EngineMetrics
	sem     *semaphore.Weighted
	cfg     Config
}

// New assembles an engine. metrics may be nil; cache may be
// resultcache.Disabled.
func New(logger *slog.Logger, reports report.Store, pools *pool.Manager, cache resultcache.Cache, metrics *observability.EngineMetrics, cfg Config) *Engine {
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = DefaultConfig().MaxConcurrentQueries
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultConfig().TestTimeout
	}
	if cfg.PreviewCap <= 0 {
		cfg.PreviewCap = DefaultConfig().PreviewCap
	}
	if cache == nil {
		cache = resultcache.Disabled{}
	}
	return &Engine{
		logger:  logger,
		reports: reports,
		pools:   pools,
		cache:   cache,
		metrics: metrics,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentQueries),
		cfg:     cfg,
	}
}

// ExecutePivot runs one pivot request end to end and returns the Arrow
// payload.
func (e *Engine) ExecutePivot(ctx context.Context, reportID string, req pivot.Request) (*Result, error) {
	started := time.Now()

	rep, err := e.reports.Get(reportID)
	if err != nil {
		return nil, err
	}
	req = mergeDefaults(rep, req)

	requestHash := pivot.RequestHash(rep.BaseQuery, req)
	if rep.CacheEnabled && !req.ForceRefresh {
		payload, hit, err := e.cache.Get(ctx, rep.ID, requestHash)
		if err != nil {
			e.logger.Warn("result cache read failed, executing query",
				slog.String("report", rep.ID),
				slog.String("error", err.Error()))
		} else if hit {
			e.recordCacheHit(ctx, rep.ID)
			e.logger.Info("pivot served from cache",
				slog.String("report", rep.ID),
				slog.String("request_hash", requestHash))
			return &Result{
				Payload:   payload,
				RowCount:  CachedRowCount,
				Cached:    true,
				ElapsedMs: time.Since(started).Milliseconds(),
			}, nil
		} else {
			e.recordCacheMiss(ctx, rep.ID)
		}
	}

	shape, query, err := e.buildPivotQuery(rep, req)
	if err != nil {
		return nil, err
	}

	tbl, err := e.runQuery(ctx, rep, shape, query)
	if err != nil {
		return nil, err
	}

	if shape == shapeGrouped && len(req.SplitBy) > 0 {
		metricNames := make([]string, len(req.Metrics))
		for i, m := range req.Metrics {
			metricNames[i] = m.OutputName()
		}
		tbl, err = reshape.Pivot(e.logger, tbl, reshape.Spec{
			GroupBy: req.GroupBy,
			SplitBy: req.SplitBy,
			Metrics: metricNames,
		})
		if err != nil {
			return nil, err
		}
	}

	payload, err := table.Encode(tbl)
	if err != nil {
		return nil, err
	}

	if rep.CacheEnabled {
		if err := e.cache.Set(ctx, rep.ID, requestHash, payload, rep.TTL()); err != nil {
			e.logger.Warn("result cache write failed",
				slog.String("report", rep.ID),
				slog.String("error", err.Error()))
		}
	}

	elapsed := time.Since(started)
	e.logger.Info("pivot executed",
		slog.String("report", rep.ID),
		slog.String("shape", string(shape)),
		slog.Int("rows", tbl.RowCount()),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()))
	if e.metrics != nil {
		e.metrics.RecordResultRows(ctx, int64(tbl.RowCount()), string(shape))
	}

	return &Result{
		Payload:   payload,
		RowCount:  tbl.RowCount(),
		ElapsedMs: elapsed.Milliseconds(),
	}, nil
}

type queryShape string

const (
	shapeFlat         queryShape = "flat"
	shapeColumnSelect queryShape = "column_select"
	shapeGrouped      queryShape = "grouped"
	shapeDrill        queryShape = "drill"
	shapeGrandTotal   queryShape = "grand_total"
)

// mergeDefaults fills missing request fields from the report's configured
// defaults. The fallback is per field: a request naming its own dimensions
// still aggregates the report's default metrics, and vice versa.
func mergeDefaults(rep report.Report, req pivot.Request) pivot.Request {
	if len(req.GroupBy) == 0 {
		req.GroupBy = rep.DefaultGroupBy
	}
	if len(req.Metrics) == 0 {
		req.Metrics = rep.DefaultMetrics
	}
	return req
}

// buildPivotQuery classifies the request into one of the passthrough or
// aggregation shapes and synthesizes its SQL.
func (e *Engine) buildPivotQuery(rep report.Report, req pivot.Request) (queryShape, sqlgen.SQLQuery, error) {
	d := rep.Connection.Type
	rowCap := e.cfg.PreviewCap
	if req.Limit != nil {
		rowCap = *req.Limit
	}

	if len(req.GroupBy)+len(req.SplitBy) > 0 {
		query, err := sqlgen.BuildGrouped(d, sqlgen.GroupedSpec{
			BaseQuery: rep.BaseQuery,
			GroupBy:   req.GroupBy,
			SplitBy:   req.SplitBy,
			Metrics:   req.Metrics,
			Filters:   req.Filters,
			Limit:     req.Limit,
			Rollup:    req.Rollup && len(req.SplitBy) == 0,
		})
		return shapeGrouped, query, err
	}

	if fields := passthroughFields(req.Metrics); len(fields) > 0 {
		query, err := sqlgen.BuildColumnSelect(d, rep.BaseQuery, fields, rowCap)
		return shapeColumnSelect, query, err
	}

	query, err := sqlgen.BuildFlat(d, rep.BaseQuery, rowCap)
	return shapeFlat, query, err
}

// passthroughFields extracts the concrete columns an ungrouped metric list
// names. A wildcard anywhere means every column, so passthrough degrades to
// the flat shape.
func passthroughFields(metrics []pivot.Metric) []string {
	fields := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if m.Field == "*" {
			return nil
		}
		if m.Field != "" {
			fields = append(fields, m.Field)
		}
	}
	return fields
}

// runQuery dispatches one synthesized query on the report's pool, bounded
// by the engine semaphore and the steady-state timeout, and scans the rows.
func (e *Engine) runQuery(ctx context.Context, rep report.Report, shape queryShape, query sqlgen.SQLQuery) (*table.Table, error) {
	db, err := e.pools.Acquire(ctx, rep.Connection)
	if err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, enginerr.Wrap(enginerr.KindPoolTimeout, err, "waiting for query slot")
	}
	defer e.sem.Release(1)

	if e.metrics != nil {
		e.metrics.IncrementActiveQueries(ctx)
		defer e.metrics.DecrementActiveQueries(ctx)
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	started := time.Now()
	tbl, err := e.query(qctx, db, query)
	duration := time.Since(started)

	errorKind := ""
	if err != nil {
		err = enginerr.Classify(err, rep.Connection.Host, rep.Connection.Database)
		errorKind = enginerr.KindOf(err).String()
		e.logger.Error("query failed",
			slog.String("report", rep.ID),
			slog.String("shape", string(shape)),
			slog.String("error_kind", errorKind),
			slog.String("error", err.Error()))
	}
	if e.metrics != nil {
		e.metrics.RecordQuery(ctx, duration, string(rep.Connection.Type), string(shape), errorKind)
	}
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

func (e *Engine) query(ctx context.Context, db *sql.DB, query sqlgen.SQLQuery) (*table.Table, error) {
	rows, err := db.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return table.Scan(rows)
}

func (e *Engine) recordCacheHit(ctx context.Context, reportID string) {
	if e.metrics != nil {
		e.metrics.RecordCacheHit(ctx, reportID)
	}
}

func (e *Engine) recordCacheMiss(ctx context.Context, reportID string) {
	if e.metrics != nil {
		e.metrics.RecordCacheMiss(ctx, reportID)
	}
}
