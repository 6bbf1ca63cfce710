// Package reshape pivots grouped aggregation results into wide form. The
// upstream query has already aggregated every (row-dimension, split-
// dimension) combination; this package only moves split-dimension values
// from rows into columns.
package reshape

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"pivotgate/internal/enginerr"
	"pivotgate/internal/table"
)

// PathDelimiter joins split-dimension values into one column path, and the
// path to its metric name. Fixed so clients can split column names back
// apart.
const PathDelimiter = "|"

// Spec names the roles the grouped result's columns play.
type Spec struct {
	GroupBy []string
	SplitBy []string
	Metrics []string
}

// Pivot reshapes a grouped result into wide form: one row per row-dimension
// combination, one column per (split path, metric) pair named
// "<path>|<metric>". Missing combinations stay null, not zero.
//
// Without split dimensions the input is already in its final shape. Without
// row dimensions there is no pivot index, so the grouped result is returned
// as-is with a warning rather than an error.
func Pivot(logger *slog.Logger, in *table.Table, spec Spec) (*table.Table, error) {
	if len(spec.SplitBy) == 0 {
		return in, nil
	}
	if len(spec.GroupBy) == 0 {
		logger.Warn("pivot requested without row dimensions, returning ungrouped aggregation",
			slog.Any("split_by", spec.SplitBy))
		return in, nil
	}

	groupIdx, err := columnIndexes(in, spec.GroupBy)
	if err != nil {
		return nil, err
	}
	splitIdx, err := columnIndexes(in, spec.SplitBy)
	if err != nil {
		return nil, err
	}
	metricIdx, err := columnIndexes(in, spec.Metrics)
	if err != nil {
		return nil, err
	}

	// Row-dimension tuples index the output rows, first-seen order preserved.
	type group struct {
		values []any
		cells  map[string]any
	}
	var groups []*group
	byKey := make(map[string]*group)
	paths := make(map[string]struct{})

	for _, row := range in.Rows {
		key := groupKey(row, groupIdx)
		g, ok := byKey[key]
		if !ok {
			values := make([]any, len(groupIdx))
			for i, idx := range groupIdx {
				values[i] = row[idx]
			}
			g = &group{values: values, cells: make(map[string]any)}
			byKey[key] = g
			groups = append(groups, g)
		}

		path := splitPath(row, splitIdx)
		paths[path] = struct{}{}
		for i, name := range spec.Metrics {
			cell := row[metricIdx[i]]
			if cell == nil {
				continue
			}
			// SUM reducer over already-aggregated cells; duplicates only
			// occur when the same group and path repeat in the input.
			wideName := path + PathDelimiter + name
			if prev, ok := g.cells[wideName]; ok {
				g.cells[wideName] = addCells(prev, cell)
			} else {
				g.cells[wideName] = cell
			}
		}
	}

	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)

	cols := make([]table.Column, 0, len(groupIdx)+len(sortedPaths)*len(spec.Metrics))
	for i, idx := range groupIdx {
		cols = append(cols, table.Column{Name: spec.GroupBy[i], Type: in.Columns[idx].Type})
	}
	// Per-metric wide frames joined side by side, paths sorted within each.
	// A MIN/MAX over a string or date field keeps its source column type.
	for i, name := range spec.Metrics {
		for _, path := range sortedPaths {
			cols = append(cols, table.Column{
				Name: path + PathDelimiter + name,
				Type: in.Columns[metricIdx[i]].Type,
			})
		}
	}

	out := table.New(cols...)
	for _, g := range groups {
		row := make([]any, 0, len(cols))
		row = append(row, g.values...)
		for _, name := range spec.Metrics {
			for _, path := range sortedPaths {
				row = append(row, g.cells[path+PathDelimiter+name])
			}
		}
		out.AppendRow(row...)
	}
	return out, nil
}

func columnIndexes(in *table.Table, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx := in.ColumnIndex(name)
		if idx < 0 {
			return nil, enginerr.New(enginerr.KindInternal, "result is missing expected column %q", name)
		}
		out[i] = idx
	}
	return out, nil
}

// groupKey serializes a row-dimension tuple for map lookup. Length framing
// keeps distinct tuples from colliding.
func groupKey(row []any, idx []int) string {
	var b strings.Builder
	for _, i := range idx {
		s := table.FormatCell(row[i])
		fmt.Fprintf(&b, "%d:%s;", len(s), s)
	}
	return b.String()
}

// splitPath joins split-dimension values in requested order. Null split
// values render as "null" so they stay distinguishable from empty strings.
func splitPath(row []any, idx []int) string {
	parts := make([]string, len(idx))
	for i, colIdx := range idx {
		if row[colIdx] == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = table.FormatCell(row[colIdx])
	}
	return strings.Join(parts, PathDelimiter)
}

func addCells(a, b any) any {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af + bf
	}
	// Non-numeric metric cells cannot be summed; last value wins.
	return b
}
