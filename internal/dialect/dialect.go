// Package dialect encapsulates per-backend SQL knowledge: identifier quoting,
// row limiting, pagination, placeholder style, and connection string
// construction for the three supported relational backends.
package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pivotgate/internal/enginerr"
)

// Type identifies a supported relational backend.
type Type string

const (
	MySQL     Type = "mysql"
	Postgres  Type = "postgres"
	SQLServer Type = "mssql"
)

// Parse maps a backend tag onto a dialect Type. Unknown tags fail fast with a
// configuration error; there is deliberately no default dialect.
func Parse(tag string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "mssql", "sqlserver":
		return SQLServer, nil
	default:
		return "", enginerr.New(enginerr.KindConfig, "unsupported database type %q (use mysql, postgres, or mssql)", tag)
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func (t Type) DriverName() string {
	switch t {
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	default:
		return "mysql"
	}
}

// DefaultPort returns the conventional server port for the dialect.
func (t Type) DefaultPort() int {
	switch t {
	case Postgres:
		return 5432
	case SQLServer:
		return 1433
	default:
		return 3306
	}
}

// Placeholder returns the squirrel placeholder format for the dialect.
func (t Type) Placeholder() sq.PlaceholderFormat {
	switch t {
	case Postgres:
		return sq.Dollar
	case SQLServer:
		return sq.AtP
	default:
		return sq.Question
	}
}

// QuoteIdentifier wraps an identifier in the dialect's quoting characters,
// escaping embedded quote characters by doubling.
func (t Type) QuoteIdentifier(name string) string {
	switch t {
	case Postgres:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
}

// LimitHead returns the head-of-SELECT row limit clause ("TOP n" on SQL
// Server, empty elsewhere). n must be non-negative.
func (t Type) LimitHead(n int) (string, error) {
	if n < 0 {
		return "", enginerr.New(enginerr.KindConfig, "row limit must not be negative: %d", n)
	}
	if t == SQLServer {
		return fmt.Sprintf("TOP %d", n), nil
	}
	return "", nil
}

// LimitTail returns the tail-of-SELECT row limit clause ("LIMIT n" on MySQL
// and PostgreSQL, empty on SQL Server). n must be non-negative.
func (t Type) LimitTail(n int) (string, error) {
	if n < 0 {
		return "", enginerr.New(enginerr.KindConfig, "row limit must not be negative: %d", n)
	}
	if t == SQLServer {
		return "", nil
	}
	return fmt.Sprintf("LIMIT %d", n), nil
}

// PageClause returns the tail pagination clause for an offset/size window.
// SQL Server's OFFSET/FETCH form requires the statement to carry an ORDER BY.
func (t Type) PageClause(offset, size int) (string, error) {
	if offset < 0 || size < 0 {
		return "", enginerr.New(enginerr.KindConfig, "pagination window must not be negative: offset=%d size=%d", offset, size)
	}
	if t == SQLServer {
		return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, size), nil
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", size, offset), nil
}
