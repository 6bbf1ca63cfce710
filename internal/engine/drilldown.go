package engine

import (
	"context"
	"log/slog"
	"time"

	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
	"pivotgate/internal/report"
	"pivotgate/internal/sqlgen"
)

// DrillDown returns one level of the aggregation tree as row-oriented
// records for grid clients, plus the level's total child count.
//
// Without configured row dimensions there is no tree to walk, so the call
// degrades to a paginated passthrough of the base query.
func (e *Engine) DrillDown(ctx context.Context, reportID string, req pivot.DrillRequest) (*GridResult, error) {
	started := time.Now()

	rep, err := e.reports.Get(reportID)
	if err != nil {
		return nil, err
	}

	if len(req.GroupBy) == 0 {
		return e.drillPassthrough(ctx, rep, req, started)
	}

	d := rep.Connection.Type
	drill, err := sqlgen.BuildDrillDown(d, rep.BaseQuery, req)
	if err != nil {
		return nil, err
	}
	for _, column := range drill.DroppedSort {
		e.logger.Warn("dropping sort on column absent from drill level",
			slog.String("report", rep.ID),
			slog.String("column", column))
	}

	tbl, err := e.runQuery(ctx, rep, shapeDrill, drill.Query)
	if err != nil {
		return nil, err
	}

	countQuery, err := sqlgen.BuildDrillCount(d, rep.BaseQuery, req)
	if err != nil {
		return nil, err
	}
	total, err := e.runCount(ctx, rep, countQuery)
	if err != nil {
		return nil, err
	}

	return &GridResult{
		Records:     tbl.Records(),
		Total:       total,
		DroppedSort: drill.DroppedSort,
		ElapsedMs:   time.Since(started).Milliseconds(),
	}, nil
}

func (e *Engine) drillPassthrough(ctx context.Context, rep report.Report, req pivot.DrillRequest, started time.Time) (*GridResult, error) {
	fields := passthroughFields(req.Metrics)
	query, err := sqlgen.BuildPagedPassthrough(rep.Connection.Type, rep.BaseQuery, fields, req.Offset, req.PageSize)
	if err != nil {
		return nil, err
	}

	tbl, err := e.runQuery(ctx, rep, shapeFlat, query)
	if err != nil {
		return nil, err
	}

	countQuery, err := sqlgen.BuildPassthroughCount(rep.Connection.Type, rep.BaseQuery)
	if err != nil {
		return nil, err
	}
	total, err := e.runCount(ctx, rep, countQuery)
	if err != nil {
		return nil, err
	}

	return &GridResult{
		Records:   tbl.Records(),
		Total:     total,
		ElapsedMs: time.Since(started).Milliseconds(),
	}, nil
}

// GrandTotal aggregates every metric over the whole filtered base set with
// no grouping, for the summary row grids render above the tree.
func (e *Engine) GrandTotal(ctx context.Context, reportID string, metrics []pivot.Metric, filters map[string]pivot.Filter) (map[string]any, error) {
	rep, err := e.reports.Get(reportID)
	if err != nil {
		return nil, err
	}

	query, err := sqlgen.BuildGrandTotal(rep.Connection.Type, rep.BaseQuery, metrics, filters)
	if err != nil {
		return nil, err
	}

	tbl, err := e.runQuery(ctx, rep, shapeGrandTotal, query)
	if err != nil {
		return nil, err
	}
	records := tbl.Records()
	if len(records) == 0 {
		return nil, enginerr.New(enginerr.KindInternal, "grand total produced no rows")
	}
	return records[0], nil
}

// runCount executes a single-value COUNT query.
func (e *Engine) runCount(ctx context.Context, rep report.Report, query sqlgen.SQLQuery) (int, error) {
	tbl, err := e.runQuery(ctx, rep, shapeDrill, query)
	if err != nil {
		return 0, err
	}
	if tbl.RowCount() == 0 || len(tbl.Columns) == 0 {
		return 0, enginerr.New(enginerr.KindInternal, "count query produced no rows")
	}
	n, ok := tbl.Rows[0][0].(float64)
	if !ok {
		return 0, enginerr.New(enginerr.KindInternal, "count query produced a non-numeric value")
	}
	return int(n), nil
}
