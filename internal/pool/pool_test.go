package pool

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotgate/internal/dialect"
)

func testDescriptor() dialect.Descriptor {
	return dialect.Descriptor{
		Type:     dialect.MySQL,
		Host:     "db.internal",
		Port:     3306,
		Database: "analytics",
		Username: "reader",
		Password: "s3cret",
	}
}

// mockOpener hands out pre-built sqlmock databases and counts opens.
type mockOpener struct {
	mu    sync.Mutex
	dbs   []*sql.DB
	mocks []sqlmock.Sqlmock
	opens int
}

func (o *mockOpener) open(driverName, dsn string) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opens >= len(o.dbs) {
		return nil, errors.New("unexpected open")
	}
	db := o.dbs[o.opens]
	o.opens++
	return db, nil
}

func newMockOpener(t *testing.T, n int) *mockOpener {
	t.Helper()
	o := &mockOpener{}
	for i := 0; i < n; i++ {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		o.dbs = append(o.dbs, db)
		o.mocks = append(o.mocks, mock)
	}
	return o
}

func newTestManager(open OpenFunc, cfg Config) *Manager {
	return NewManager(slog.New(slog.DiscardHandler), cfg, open)
}

func TestKey(t *testing.T) {
	desc := testDescriptor()
	assert.Equal(t, Key(desc), Key(desc))

	rotated := desc
	rotated.Password = "new-secret"
	assert.NotEqual(t, Key(desc), Key(rotated), "password rotation must yield a new pool key")

	other := desc
	other.Database = "staging"
	assert.NotEqual(t, Key(desc), Key(other))
}

func TestDisplayKeyOmitsPassword(t *testing.T) {
	desc := testDescriptor()
	display := DisplayKey(desc)
	assert.NotContains(t, display, desc.Password)
	assert.Contains(t, display, "mysql://reader@db.internal:3306/analytics")

	rotated := desc
	rotated.Password = "new-secret"
	assert.NotEqual(t, display, DisplayKey(rotated))
}

func TestAcquireReusesPool(t *testing.T) {
	opener := newMockOpener(t, 1)
	opener.mocks[0].ExpectPing() // create
	opener.mocks[0].ExpectPing() // reuse probe
	m := newTestManager(opener.open, DefaultConfig())

	first, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, opener.opens)
	assert.Equal(t, 1, m.Count())
}

func TestAcquireRecreatesStalePool(t *testing.T) {
	opener := newMockOpener(t, 2)
	opener.mocks[0].ExpectPing()
	opener.mocks[0].ExpectPing().WillReturnError(errors.New("server has gone away"))
	opener.mocks[0].ExpectClose()
	opener.mocks[1].ExpectPing()
	m := newTestManager(opener.open, DefaultConfig())

	first, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, opener.opens)
	assert.Equal(t, 1, m.Count())
	assert.NoError(t, opener.mocks[0].ExpectationsWereMet())
}

func TestAcquireCanceledCallerKeepsPool(t *testing.T) {
	opener := newMockOpener(t, 1)
	opener.mocks[0].ExpectPing() // create
	opener.mocks[0].ExpectPing() // reuse probe after the canceled call
	m := newTestManager(opener.open, DefaultConfig())

	first, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(canceled, testDescriptor())
	require.Error(t, err)
	assert.Equal(t, 1, m.Count(), "a caller hanging up must not dispose a healthy pool")

	again, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, opener.opens)
}

func TestAcquireIsolatesDescriptors(t *testing.T) {
	opener := newMockOpener(t, 2)
	opener.mocks[0].ExpectPing()
	opener.mocks[1].ExpectPing()
	m := newTestManager(opener.open, DefaultConfig())

	desc := testDescriptor()
	rotated := desc
	rotated.Password = "new-secret"

	first, err := m.Acquire(context.Background(), desc)
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), rotated)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, m.Count())
}

func TestWarmConcurrentRequestsShareOnePool(t *testing.T) {
	const workers = 4
	opener := newMockOpener(t, 1)
	mock := opener.mocks[0]
	mock.MatchExpectationsInOrder(false)
	// Each warm call pings once in Acquire and once per warm connection,
	// with one expectation of slack for the create/probe split.
	for i := 0; i < 1+2*workers; i++ {
		mock.ExpectPing()
	}

	cfg := DefaultConfig()
	cfg.WarmConnections = 1
	m := newTestManager(opener.open, cfg)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Warm(context.Background(), testDescriptor())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, opener.opens, "concurrent warms must not create duplicate pools")
	assert.Equal(t, 1, m.Count())
}

func TestDispose(t *testing.T) {
	opener := newMockOpener(t, 1)
	opener.mocks[0].ExpectPing()
	opener.mocks[0].ExpectClose()
	m := newTestManager(opener.open, DefaultConfig())

	_, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)

	assert.True(t, m.Dispose(testDescriptor()))
	assert.Equal(t, 0, m.Count())
	assert.False(t, m.Dispose(testDescriptor()))
	assert.NoError(t, opener.mocks[0].ExpectationsWereMet())
}

func TestStatuses(t *testing.T) {
	opener := newMockOpener(t, 1)
	opener.mocks[0].ExpectPing()
	m := newTestManager(opener.open, DefaultConfig())

	_, err := m.Acquire(context.Background(), testDescriptor())
	require.NoError(t, err)

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, DisplayKey(testDescriptor()), statuses[0].Key)
	assert.GreaterOrEqual(t, statuses[0].Size, 0)
}
