package sqlgen

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
)

// DefaultPageSize is the drill-down page size when the request leaves it
// unset.
const DefaultPageSize = 100

// DrillResult carries a synthesized drill-down query plus the sort columns
// that were requested but do not exist at this level and were dropped.
type DrillResult struct {
	Query       SQLQuery
	DroppedSort []string
}

// BuildDrillDown synthesizes one level of a lazy drill-down: rows for the
// dimension at the requested depth, constrained to the ancestor path,
// aggregated, sorted, and paginated.
//
// Depth bounds are checked here so callers fail before touching a
// connection: with ancestor keys for every grouping dimension there is no
// deeper level to expand.
func BuildDrillDown(d dialect.Type, baseQuery string, req pivot.DrillRequest) (DrillResult, error) {
	depth := req.Depth()
	if len(req.GroupBy) == 0 {
		return DrillResult{}, enginerr.New(enginerr.KindBounds, "drill-down requires at least one grouping dimension")
	}
	if depth >= len(req.GroupBy) {
		return DrillResult{}, enginerr.New(enginerr.KindBounds,
			"drill depth %d exceeds grouping dimensions (%d)", depth, len(req.GroupBy))
	}
	if len(req.Metrics) == 0 {
		return DrillResult{}, enginerr.New(enginerr.KindConfig, "drill-down requires at least one metric")
	}

	current := req.GroupBy[depth]
	dims := append([]string{current}, req.SplitBy...)
	quotedDims, err := quotedAll(d, dims)
	if err != nil {
		return DrillResult{}, err
	}

	cols := append([]string{}, quotedDims...)
	for _, m := range req.Metrics {
		expr, err := metricExpr(d, m)
		if err != nil {
			return DrillResult{}, err
		}
		cols = append(cols, expr)
	}

	builder := sq.Select(cols...).From(fromBase(baseQuery))

	conditions, err := filterConditions(d, req.Filters)
	if err != nil {
		return DrillResult{}, err
	}
	for _, cond := range conditions {
		builder = builder.Where(cond)
	}
	// Ancestor path constraints pin the expansion to one branch of the tree.
	for i, key := range req.GroupKeys {
		ancestor, err := quoted(d, req.GroupBy[i])
		if err != nil {
			return DrillResult{}, err
		}
		builder = builder.Where(sq.Eq{ancestor: key})
	}

	builder = builder.GroupBy(quotedDims...)

	orderBy, dropped, err := drillOrderBy(d, dims, req)
	if err != nil {
		return DrillResult{}, err
	}
	builder = builder.OrderBy(orderBy...)

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := req.Offset
	if offset < 0 {
		return DrillResult{}, enginerr.New(enginerr.KindBounds, "negative offset %d", offset)
	}
	page, err := d.PageClause(offset, pageSize)
	if err != nil {
		return DrillResult{}, err
	}
	builder = builder.Suffix(page)

	query, err := toSQL(d, builder)
	if err != nil {
		return DrillResult{}, err
	}
	return DrillResult{Query: query, DroppedSort: dropped}, nil
}

// drillOrderBy keeps the sort specs whose columns exist at this level
// (the grouped dimensions or a metric output name) and reports the rest as
// dropped. Without any surviving spec it falls back to the current dimension
// ascending, which also satisfies SQL Server's requirement that OFFSET
// pagination carry an ORDER BY.
func drillOrderBy(d dialect.Type, dims []string, req pivot.DrillRequest) ([]string, []string, error) {
	allowed := make(map[string]struct{}, len(dims)+len(req.Metrics))
	for _, dim := range dims {
		allowed[dim] = struct{}{}
	}
	for _, m := range req.Metrics {
		allowed[m.OutputName()] = struct{}{}
	}

	var clauses, dropped []string
	for _, spec := range req.Sort {
		if _, ok := allowed[spec.Column]; !ok {
			dropped = append(dropped, spec.Column)
			continue
		}
		col, err := quoted(d, spec.Column)
		if err != nil {
			return nil, nil, err
		}
		direction := " ASC"
		if spec.Descending {
			direction = " DESC"
		}
		clauses = append(clauses, col+direction)
	}
	if len(clauses) == 0 {
		col, err := quoted(d, dims[0])
		if err != nil {
			return nil, nil, err
		}
		clauses = []string{col + " ASC"}
	}
	return clauses, dropped, nil
}

// BuildDrillCount synthesizes the row count for one drill-down level: the
// number of child groups the level holds regardless of pagination.
func BuildDrillCount(d dialect.Type, baseQuery string, req pivot.DrillRequest) (SQLQuery, error) {
	depth := req.Depth()
	if len(req.GroupBy) == 0 || depth >= len(req.GroupBy) {
		return SQLQuery{}, enginerr.New(enginerr.KindBounds,
			"drill depth %d exceeds grouping dimensions (%d)", depth, len(req.GroupBy))
	}

	current := req.GroupBy[depth]
	dims := append([]string{current}, req.SplitBy...)
	quotedDims, err := quotedAll(d, dims)
	if err != nil {
		return SQLQuery{}, err
	}

	inner := sq.Select(quotedDims...).From(fromBase(baseQuery))
	conditions, err := filterConditions(d, req.Filters)
	if err != nil {
		return SQLQuery{}, err
	}
	for _, cond := range conditions {
		inner = inner.Where(cond)
	}
	for i, key := range req.GroupKeys {
		ancestor, err := quoted(d, req.GroupBy[i])
		if err != nil {
			return SQLQuery{}, err
		}
		inner = inner.Where(sq.Eq{ancestor: key})
	}
	inner = inner.GroupBy(quotedDims...)

	innerSQL, args, err := inner.PlaceholderFormat(d.Placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, enginerr.Wrap(enginerr.KindInternal, err, "building SQL")
	}
	return SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS level_rows", innerSQL),
		Args: args,
	}, nil
}

// BuildPagedPassthrough synthesizes a paginated, optionally column-filtered
// passthrough of the base query, used when drill-down has no grouping
// dimensions to walk.
func BuildPagedPassthrough(d dialect.Type, baseQuery string, fields []string, offset, pageSize int) (SQLQuery, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if offset < 0 {
		return SQLQuery{}, enginerr.New(enginerr.KindBounds, "negative offset %d", offset)
	}

	cols, err := quotedAll(d, fields)
	if err != nil {
		return SQLQuery{}, err
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}

	builder := sq.Select(cols...).From(fromBase(baseQuery))
	// SQL Server's OFFSET pagination requires an ORDER BY; a constant sort
	// keeps the base query's row order.
	if d == dialect.SQLServer {
		if len(fields) > 0 {
			builder = builder.OrderBy(cols[0])
		} else {
			builder = builder.OrderBy("(SELECT NULL)")
		}
	}
	page, err := d.PageClause(offset, pageSize)
	if err != nil {
		return SQLQuery{}, err
	}
	builder = builder.Suffix(page)
	return toSQL(d, builder)
}

// BuildPassthroughCount counts the base query's rows, so passthrough
// pagination can report the true total rather than the page it has seen.
func BuildPassthroughCount(d dialect.Type, baseQuery string) (SQLQuery, error) {
	return toSQL(d, sq.Select("COUNT(*)").From(fromBase(baseQuery)))
}

// BuildGrandTotal synthesizes the grand-total query: every metric aggregated
// over the whole filtered base set, no grouping. Aggregates without GROUP BY
// yield exactly one row even when no rows match.
func BuildGrandTotal(d dialect.Type, baseQuery string, metrics []pivot.Metric, filters map[string]pivot.Filter) (SQLQuery, error) {
	if len(metrics) == 0 {
		return SQLQuery{}, enginerr.New(enginerr.KindConfig, "grand total requires at least one metric")
	}
	cols := make([]string, 0, len(metrics))
	for _, m := range metrics {
		expr, err := metricExpr(d, m)
		if err != nil {
			return SQLQuery{}, err
		}
		cols = append(cols, expr)
	}

	builder := sq.Select(cols...).From(fromBase(baseQuery))
	conditions, err := filterConditions(d, filters)
	if err != nil {
		return SQLQuery{}, err
	}
	for _, cond := range conditions {
		builder = builder.Where(cond)
	}
	return toSQL(d, builder)
}
