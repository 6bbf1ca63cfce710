// Package table holds the in-memory tabular result model shared by the SQL
// execution, reshape, and serialization layers, plus the Arrow IPC codec used
// for transport.
package table

import (
	"fmt"
	"time"
)

// ColumnType is the homogeneous type of one result column.
type ColumnType string

const (
	TypeNumber ColumnType = "number"
	TypeString ColumnType = "string"
	TypeDate   ColumnType = "date"
)

// Column describes one named, typed result column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is an ordered sequence of typed columns and row-major values.
// Cell values are nil, float64, string, or time.Time according to the
// column type; nil marks an absent value.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// New creates an empty table with the given columns.
func New(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// AppendRow adds one row. The caller is responsible for matching the column
// count; a mismatch is a programming error.
func (t *Table) AppendRow(cells ...any) {
	t.Rows = append(t.Rows, cells)
}

// Records converts the table to row-oriented maps for JSON grid endpoints.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			rec[col.Name] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// FormatCell renders a cell for use in pivot path segments and row keys.
func FormatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// Integral values print without a decimal point so year-like
		// dimensions produce "2023", not "2023.000000".
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", val)
	}
}
