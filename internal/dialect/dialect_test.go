package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotgate/internal/enginerr"
)

func TestParse(t *testing.T) {
	t.Run("known tags", func(t *testing.T) {
		for tag, want := range map[string]Type{
			"mysql":      MySQL,
			"postgres":   Postgres,
			"postgresql": Postgres,
			"mssql":      SQLServer,
			"sqlserver":  SQLServer,
			"  MySQL ":   MySQL,
		} {
			got, err := Parse(tag)
			require.NoError(t, err, tag)
			assert.Equal(t, want, got, tag)
		}
	})

	t.Run("unknown tag is a config error", func(t *testing.T) {
		_, err := Parse("oracle")
		require.Error(t, err)
		assert.Equal(t, enginerr.KindConfig, enginerr.KindOf(err))
	})

	t.Run("empty tag does not default", func(t *testing.T) {
		_, err := Parse("")
		require.Error(t, err)
	})
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`Venduto`", MySQL.QuoteIdentifier("Venduto"))
	assert.Equal(t, `"Venduto"`, Postgres.QuoteIdentifier("Venduto"))
	assert.Equal(t, "[Venduto]", SQLServer.QuoteIdentifier("Venduto"))

	// Embedded quote characters are escaped by doubling.
	assert.Equal(t, "`a``b`", MySQL.QuoteIdentifier("a`b"))
	assert.Equal(t, `"a""b"`, Postgres.QuoteIdentifier(`a"b`))
	assert.Equal(t, "[a]]b]", SQLServer.QuoteIdentifier("a]b"))
}

func TestLimitClauses(t *testing.T) {
	head, err := SQLServer.LimitHead(100)
	require.NoError(t, err)
	assert.Equal(t, "TOP 100", head)

	head, err = MySQL.LimitHead(100)
	require.NoError(t, err)
	assert.Empty(t, head)

	tail, err := Postgres.LimitTail(100)
	require.NoError(t, err)
	assert.Equal(t, "LIMIT 100", tail)

	tail, err = SQLServer.LimitTail(100)
	require.NoError(t, err)
	assert.Empty(t, tail)

	_, err = MySQL.LimitTail(-1)
	require.Error(t, err)
	_, err = SQLServer.LimitHead(-1)
	require.Error(t, err)
}

func TestPageClause(t *testing.T) {
	clause, err := MySQL.PageClause(40, 20)
	require.NoError(t, err)
	assert.Equal(t, "LIMIT 20 OFFSET 40", clause)

	clause, err = SQLServer.PageClause(40, 20)
	require.NoError(t, err)
	assert.Equal(t, "OFFSET 40 ROWS FETCH NEXT 20 ROWS ONLY", clause)

	_, err = Postgres.PageClause(-1, 10)
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	desc := Descriptor{
		Type:     Postgres,
		Host:     "db.internal",
		Port:     5432,
		Database: "sales",
		Username: "reporting",
		Password: "p@ss/word",
	}

	t.Run("postgres escapes credentials", func(t *testing.T) {
		dsn, err := desc.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "postgres://")
		assert.Contains(t, dsn, "p%40ss%2Fword")
		assert.Contains(t, dsn, "sslmode=prefer")
	})

	t.Run("postgres tls", func(t *testing.T) {
		tlsDesc := desc
		tlsDesc.TLS = true
		dsn, err := tlsDesc.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "sslmode=require")
	})

	t.Run("mysql", func(t *testing.T) {
		myDesc := desc
		myDesc.Type = MySQL
		myDesc.Port = 0
		dsn, err := myDesc.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "tcp(db.internal:3306)")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("sqlserver", func(t *testing.T) {
		msDesc := desc
		msDesc.Type = SQLServer
		msDesc.Port = 1433
		dsn, err := msDesc.DSN()
		require.NoError(t, err)
		assert.Contains(t, dsn, "sqlserver://")
		assert.Contains(t, dsn, "database=sales")
		assert.Contains(t, dsn, "TrustServerCertificate=true")
	})

	t.Run("missing host", func(t *testing.T) {
		bad := desc
		bad.Host = ""
		_, err := bad.DSN()
		require.Error(t, err)
		assert.Equal(t, enginerr.KindConfig, enginerr.KindOf(err))
	})
}

func TestRedactedOmitsPassword(t *testing.T) {
	desc := Descriptor{
		Type:     MySQL,
		Host:     "db.internal",
		Database: "sales",
		Username: "reporting",
		Password: "hunter2",
	}
	assert.NotContains(t, desc.Redacted(), "hunter2")
	assert.Contains(t, desc.Redacted(), "reporting@db.internal:3306")
}
