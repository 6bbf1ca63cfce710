package engine

import (
	"context"
	"log/slog"
	"time"

	"pivotgate/internal/dialect"
	"pivotgate/internal/pool"
	"pivotgate/internal/sqlgen"
	"pivotgate/internal/table"
	"pivotgate/internal/warmup"
)

// schemaPreviewRows caps the sample a schema preview fetches.
const schemaPreviewRows = 50

// TestConnection verifies a descriptor end to end under the long test
// timeout, which absorbs cold starts and first-connection latency. On
// success the pool stays registered and warm-up continues in the
// background so the first real query lands on a primed pool.
func (e *Engine) TestConnection(ctx context.Context, desc dialect.Descriptor) (int64, error) {
	started := time.Now()

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TestTimeout)
	defer cancel()

	if _, err := e.pools.Acquire(tctx, desc); err != nil {
		return time.Since(started).Milliseconds(), err
	}

	go func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TestTimeout)
		defer cancel()
		warmStart := time.Now()
		if err := e.pools.Warm(wctx, desc); err != nil {
			e.logger.Warn("background pool warm-up failed",
				slog.String("pool", pool.DisplayKey(desc)),
				slog.String("error", err.Error()))
			return
		}
		if e.metrics != nil {
			e.metrics.RecordWarmDuration(wctx, time.Since(warmStart), string(desc.Type))
		}
	}()

	return time.Since(started).Milliseconds(), nil
}

// SchemaPreview runs the report's base query with a small row cap and
// returns the typed columns plus sample rows.
func (e *Engine) SchemaPreview(ctx context.Context, reportID string) (*table.Table, error) {
	rep, err := e.reports.Get(reportID)
	if err != nil {
		return nil, err
	}
	query, err := sqlgen.BuildFlat(rep.Connection.Type, rep.BaseQuery, schemaPreviewRows)
	if err != nil {
		return nil, err
	}
	return e.runQuery(ctx, rep, shapeFlat, query)
}

// PoolStatuses exposes pool occupancy for the monitoring endpoint.
func (e *Engine) PoolStatuses() []pool.Status {
	return e.pools.Statuses()
}

// WarmPools re-warms every distinct source referenced by the configured
// reports. Used by the admin warm endpoint; unreachable sources are
// skipped, not fatal.
func (e *Engine) WarmPools(ctx context.Context) int {
	return warmup.WarmAll(ctx, e.logger, e.pools, e.reports, e.cfg.TestTimeout)
}
