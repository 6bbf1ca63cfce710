package table

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Scan drains sql.Rows into a Table. Column types are taken from the driver's
// reported database type where recognizable, otherwise inferred from the
// first non-null value. Cells the column type cannot represent become null
// rather than failing the whole result.
func Scan(rows *sql.Rows) (*Table, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	raw := make([][]any, 0, 64)
	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		raw = append(raw, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := make([]Column, len(names))
	for i, name := range names {
		kind := kindFromDatabaseType(colTypes[i].DatabaseTypeName())
		if kind == "" {
			kind = inferKind(raw, i)
		}
		cols[i] = Column{Name: name, Type: kind}
	}

	t := &Table{Columns: cols, Rows: make([][]any, len(raw))}
	for r, cells := range raw {
		row := make([]any, len(cells))
		for c, cell := range cells {
			row[c] = coerce(cell, cols[c].Type)
		}
		t.Rows[r] = row
	}
	return t, nil
}

func kindFromDatabaseType(dbType string) ColumnType {
	upper := strings.ToUpper(dbType)
	switch {
	case upper == "":
		return ""
	case strings.Contains(upper, "INT"),
		strings.Contains(upper, "DECIMAL"),
		strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "FLOAT"),
		strings.Contains(upper, "DOUBLE"),
		strings.Contains(upper, "REAL"),
		strings.Contains(upper, "MONEY"),
		strings.Contains(upper, "BOOL"):
		return TypeNumber
	case strings.Contains(upper, "DATE"),
		strings.Contains(upper, "TIMESTAMP"),
		upper == "DATETIME", upper == "DATETIME2":
		return TypeDate
	case strings.Contains(upper, "CHAR"),
		strings.Contains(upper, "TEXT"),
		strings.Contains(upper, "BLOB"),
		strings.Contains(upper, "BINARY"):
		return TypeString
	default:
		return ""
	}
}

func inferKind(rows [][]any, col int) ColumnType {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64, float64, bool:
			return TypeNumber
		case time.Time:
			return TypeDate
		default:
			return TypeString
		}
	}
	return TypeString
}

func coerce(v any, kind ColumnType) any {
	if v == nil {
		return nil
	}
	switch kind {
	case TypeNumber:
		return coerceNumber(v)
	case TypeDate:
		return coerceDate(v)
	default:
		return coerceString(v)
	}
}

func coerceNumber(v any) any {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case bool:
		if val {
			return float64(1)
		}
		return float64(0)
	case []byte:
		return parseFloat(string(val))
	case string:
		return parseFloat(val)
	default:
		return nil
	}
}

func parseFloat(s string) any {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return f
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceDate(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case []byte:
		return parseDate(string(val))
	case string:
		return parseDate(val)
	default:
		return nil
	}
}

func parseDate(s string) any {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
	}
	return nil
}

func coerceString(v any) any {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return FormatCell(val)
	}
}
