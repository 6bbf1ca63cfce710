package enginerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindPoolTimeout.Retryable())
	assert.True(t, KindQueryTimeout.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindUnreachable.Retryable())
	assert.False(t, KindConfig.Retryable())
	assert.False(t, KindBounds.Retryable())
}

func TestKindOf(t *testing.T) {
	err := New(KindBounds, "depth %d exceeds configured dimensions", 3)
	assert.Equal(t, KindBounds, KindOf(err))

	wrapped := fmt.Errorf("executing level query: %w", err)
	assert.Equal(t, KindBounds, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestClassifyMySQL(t *testing.T) {
	t.Run("access denied", func(t *testing.T) {
		err := Classify(&mysql.MySQLError{Number: 1045, Message: "Access denied for user"}, "db.example", "sales")
		require.NotNil(t, err)
		assert.Equal(t, KindAuth, err.Kind)
		assert.Contains(t, err.Message, "login failed")
	})

	t.Run("unknown database", func(t *testing.T) {
		err := Classify(&mysql.MySQLError{Number: 1049, Message: "Unknown database"}, "db.example", "sales")
		require.NotNil(t, err)
		assert.Equal(t, KindDatabaseMissing, err.Kind)
		assert.Contains(t, err.Message, `"sales"`)
	})
}

func TestClassifyPostgres(t *testing.T) {
	t.Run("invalid password", func(t *testing.T) {
		err := Classify(&pq.Error{Code: "28P01"}, "db.example", "sales")
		require.NotNil(t, err)
		assert.Equal(t, KindAuth, err.Kind)
	})

	t.Run("invalid catalog", func(t *testing.T) {
		err := Classify(&pq.Error{Code: "3D000"}, "db.example", "sales")
		require.NotNil(t, err)
		assert.Equal(t, KindDatabaseMissing, err.Kind)
	})
}

func TestClassifySQLServer(t *testing.T) {
	err := Classify(mssql.Error{Number: 18456}, "db.example", "sales")
	require.NotNil(t, err)
	assert.Equal(t, KindAuth, err.Kind)
}

func TestClassifyTimeout(t *testing.T) {
	err := Classify(context.DeadlineExceeded, "db.example", "sales")
	require.NotNil(t, err)
	assert.Equal(t, KindQueryTimeout, err.Kind)
	assert.True(t, err.Kind.Retryable())
}

func TestClassifyPreservesTypedErrors(t *testing.T) {
	orig := New(KindPoolTimeout, "no connection available within 30s")
	err := Classify(fmt.Errorf("acquire: %w", orig), "db.example", "sales")
	require.NotNil(t, err)
	assert.Equal(t, KindPoolTimeout, err.Kind)
}

func TestClassifyDNSFailure(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "db.nowhere", IsNotFound: true}
	err := Classify(fmt.Errorf("dial tcp: %w", dnsErr), "db.nowhere", "sales")
	require.NotNil(t, err)
	assert.Equal(t, KindUnreachable, err.Kind)
	assert.Contains(t, err.Message, `host "db.nowhere" did not resolve`)
}

func TestClassifyConnectionRefusedText(t *testing.T) {
	err := Classify(errors.New("dial tcp 10.0.0.5:5432: connection refused"), "db.internal", "sales")
	require.NotNil(t, err)
	assert.Equal(t, KindUnreachable, err.Kind)
	assert.Contains(t, err.Message, "check host and port")
}
