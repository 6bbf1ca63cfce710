// Package sqlgen synthesizes dialect-correct, parameterized SQL for the four
// query shapes the engine executes: flat passthrough, column-subset
// passthrough, grouped aggregation, and drill-down aggregation.
//
// Values are always bound as parameters. Identifiers cannot be
// parameter-bound in SQL, so they pass an allow-list character check before
// being quoted into the generated text; that check is the only sanitization
// step for identifiers.
package sqlgen

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
)

// DefaultRowCap bounds ungrouped passthrough results when the request does
// not carry its own preview cap.
const DefaultRowCap = 10000

// baseAlias names the derived table wrapping the report's base query.
const baseAlias = "base_data"

// SQLQuery carries generated SQL text and its bound parameters.
type SQLQuery struct {
	SQL  string
	Args []any
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_ ]+$`)

// safeIdentifier rejects identifiers outside the allow-list before they are
// embedded in SQL text.
func safeIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", enginerr.New(enginerr.KindConfig, "invalid identifier %q", name)
	}
	return name, nil
}

// quoted validates and quotes an identifier for the dialect.
func quoted(d dialect.Type, name string) (string, error) {
	safe, err := safeIdentifier(name)
	if err != nil {
		return "", err
	}
	return d.QuoteIdentifier(safe), nil
}

func quotedAll(d dialect.Type, names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		q, err := quoted(d, name)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func fromBase(baseQuery string) string {
	return fmt.Sprintf("(%s) AS %s", strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(baseQuery), ";")), baseAlias)
}

// BuildFlat synthesizes the flat passthrough shape: every column of the base
// query, row-capped.
func BuildFlat(d dialect.Type, baseQuery string, rowCap int) (SQLQuery, error) {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	builder := sq.Select("*").From(fromBase(baseQuery))
	builder, err := applyRowCap(d, builder, rowCap)
	if err != nil {
		return SQLQuery{}, err
	}
	return toSQL(d, builder)
}

// BuildColumnSelect synthesizes the column-subset passthrough shape: the
// requested fields only, not aggregated, row-capped.
func BuildColumnSelect(d dialect.Type, baseQuery string, fields []string, rowCap int) (SQLQuery, error) {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	cols, err := quotedAll(d, fields)
	if err != nil {
		return SQLQuery{}, err
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	builder := sq.Select(cols...).From(fromBase(baseQuery))
	builder, err = applyRowCap(d, builder, rowCap)
	if err != nil {
		return SQLQuery{}, err
	}
	return toSQL(d, builder)
}

func applyRowCap(d dialect.Type, builder sq.SelectBuilder, rowCap int) (sq.SelectBuilder, error) {
	head, err := d.LimitHead(rowCap)
	if err != nil {
		return builder, err
	}
	if head != "" {
		builder = builder.Options(head)
	}
	tail, err := d.LimitTail(rowCap)
	if err != nil {
		return builder, err
	}
	if tail != "" {
		builder = builder.Suffix(tail)
	}
	return builder, nil
}

func toSQL(d dialect.Type, builder sq.SelectBuilder) (SQLQuery, error) {
	text, args, err := builder.PlaceholderFormat(d.Placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, enginerr.Wrap(enginerr.KindInternal, err, "building SQL")
	}
	return SQLQuery{SQL: text, Args: args}, nil
}

// metricExpr renders one metric as a SELECT expression. COUNT over the
// wildcard stays unquoted; everything else passes the identifier allow-list.
func metricExpr(d dialect.Type, m pivot.Metric) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	name, err := quoted(d, m.OutputName())
	if err != nil {
		return "", err
	}

	if m.Kind == pivot.MetricMargin {
		rev, err := quoted(d, m.RevenueField)
		if err != nil {
			return "", err
		}
		cost, err := quoted(d, m.CostField)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"CASE WHEN SUM(%[1]s) = 0 THEN 0 ELSE ROUND(CAST((SUM(%[1]s) - SUM(%[2]s)) * 100.0 / SUM(%[1]s) AS DECIMAL(10,2)), 2) END AS %[3]s",
			rev, cost, name,
		), nil
	}

	if m.Field == "*" {
		if m.Aggregation != pivot.AggCount {
			return "", enginerr.New(enginerr.KindConfig, "wildcard field requires COUNT, got %s", m.Aggregation)
		}
		return fmt.Sprintf("COUNT(*) AS %s", name), nil
	}

	field, err := quoted(d, m.Field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s) AS %s", m.Aggregation, field, name), nil
}

// filterConditions converts the filter map into parameter-bound squirrel
// conditions, iterated in sorted column order for deterministic SQL.
func filterConditions(d dialect.Type, filters map[string]pivot.Filter) ([]sq.Sqlizer, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	conditions := make([]sq.Sqlizer, 0, len(cols))
	for _, col := range cols {
		cond, err := filterCondition(d, col, filters[col])
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func filterCondition(d dialect.Type, column string, f pivot.Filter) (sq.Sqlizer, error) {
	col, err := quoted(d, column)
	if err != nil {
		return nil, err
	}
	switch f.Op {
	case pivot.OpContains:
		return sq.Like{col: fmt.Sprintf("%%%v%%", f.Value)}, nil
	case pivot.OpEquals:
		return sq.Eq{col: f.Value}, nil
	case pivot.OpNotEquals:
		return sq.NotEq{col: f.Value}, nil
	case pivot.OpGreaterThan:
		return sq.Gt{col: f.Value}, nil
	case pivot.OpLessThan:
		return sq.Lt{col: f.Value}, nil
	case pivot.OpGreaterOrEqual:
		return sq.GtOrEq{col: f.Value}, nil
	case pivot.OpLessOrEqual:
		return sq.LtOrEq{col: f.Value}, nil
	case pivot.OpIsNull:
		return sq.Eq{col: nil}, nil
	case pivot.OpIsNotNull:
		return sq.NotEq{col: nil}, nil
	default:
		return nil, enginerr.New(enginerr.KindConfig, "unsupported filter operator %q", f.Op)
	}
}
