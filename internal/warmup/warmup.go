// Package warmup primes connection pools for every configured report at
// startup so first requests do not pay connection establishment cost.
package warmup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pivotgate/internal/dialect"
	"pivotgate/internal/pool"
	"pivotgate/internal/report"
)

// concurrency bounds parallel warm-ups so startup does not stampede the
// upstream databases.
const concurrency = 4

// WarmAll warms one pool per distinct connection across the report set.
// Warm-up is best effort: an unreachable source is logged and skipped, and
// the server still starts. Returns the number of pools warmed.
func WarmAll(ctx context.Context, logger *slog.Logger, pools *pool.Manager, reports report.Store, timeout time.Duration) int {
	distinct := make(map[string]dialect.Descriptor)
	for _, rep := range reports.List() {
		distinct[pool.Key(rep.Connection)] = rep.Connection
	}
	if len(distinct) == 0 {
		return 0
	}

	started := time.Now()
	warmed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	results := make(chan bool, len(distinct))
	for _, desc := range distinct {
		g.Go(func() error {
			wctx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				wctx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}
			if err := pools.Warm(wctx, desc); err != nil {
				logger.Warn("startup warm-up skipped unreachable source",
					slog.String("pool", pool.DisplayKey(desc)),
					slog.String("error", err.Error()))
				results <- false
				return nil
			}
			results <- true
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for ok := range results {
		if ok {
			warmed++
		}
	}

	logger.Info("startup warm-up finished",
		slog.Int("pools", warmed),
		slog.Int("sources", len(distinct)),
		slog.Duration("elapsed", time.Since(started)))
	return warmed
}
