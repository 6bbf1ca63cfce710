package sqlgen

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
)

// GroupedSpec describes one grouped aggregation query. SplitBy dimensions
// are grouped alongside GroupBy; the reshaper pivots them client-side.
type GroupedSpec struct {
	BaseQuery string
	GroupBy   []string
	SplitBy   []string
	Metrics   []pivot.Metric
	Filters   map[string]pivot.Filter
	Limit     *int
	Rollup    bool
}

// BuildGrouped synthesizes the grouped aggregation shape: grouping
// dimensions plus one aggregate expression per metric, optionally with
// rollup subtotal rows.
func BuildGrouped(d dialect.Type, spec GroupedSpec) (SQLQuery, error) {
	if len(spec.GroupBy)+len(spec.SplitBy) == 0 {
		return SQLQuery{}, enginerr.New(enginerr.KindConfig, "grouped query requires at least one dimension")
	}
	if len(spec.Metrics) == 0 {
		return SQLQuery{}, enginerr.New(enginerr.KindConfig, "grouped query requires at least one metric")
	}

	dims := append(append([]string{}, spec.GroupBy...), spec.SplitBy...)
	quotedDims, err := quotedAll(d, dims)
	if err != nil {
		return SQLQuery{}, err
	}

	cols := append([]string{}, quotedDims...)
	for _, m := range spec.Metrics {
		expr, err := metricExpr(d, m)
		if err != nil {
			return SQLQuery{}, err
		}
		cols = append(cols, expr)
	}

	builder := sq.Select(cols...).From(fromBase(spec.BaseQuery))

	conditions, err := filterConditions(d, spec.Filters)
	if err != nil {
		return SQLQuery{}, err
	}
	for _, cond := range conditions {
		builder = builder.Where(cond)
	}

	builder = builder.GroupBy(groupByClause(d, quotedDims, spec.Rollup))
	for _, clause := range orderByClauses(d, quotedDims, spec.Rollup) {
		builder = builder.OrderBy(clause)
	}

	if spec.Limit != nil {
		builder, err = applyRowCap(d, builder, *spec.Limit)
		if err != nil {
			return SQLQuery{}, err
		}
	}
	return toSQL(d, builder)
}

// groupByClause renders the grouping list, with the dialect's rollup form
// when subtotals are requested.
func groupByClause(d dialect.Type, quotedDims []string, rollup bool) string {
	joined := strings.Join(quotedDims, ", ")
	if !rollup {
		return joined
	}
	if d == dialect.MySQL {
		return joined + " WITH ROLLUP"
	}
	return fmt.Sprintf("ROLLUP(%s)", joined)
}

// orderByClauses orders grouped rows by the grouping dimensions. Rollup
// output needs subtotal rows (NULL dimensions) sorted ahead of detail rows;
// each dialect spells that differently, and MySQL's WITH ROLLUP forbids an
// ORDER BY entirely.
func orderByClauses(d dialect.Type, quotedDims []string, rollup bool) []string {
	if !rollup {
		return quotedDims
	}
	switch d {
	case dialect.MySQL:
		return nil
	case dialect.Postgres:
		clauses := make([]string, len(quotedDims))
		for i, dim := range quotedDims {
			clauses[i] = dim + " NULLS FIRST"
		}
		return clauses
	default:
		clauses := make([]string, 0, 2*len(quotedDims))
		for _, dim := range quotedDims {
			clauses = append(clauses, fmt.Sprintf("CASE WHEN %s IS NULL THEN 0 ELSE 1 END", dim), dim)
		}
		return clauses
	}
}
