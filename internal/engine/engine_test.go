package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pivot"
	"pivotgate/internal/pool"
	"pivotgate/internal/report"
	"pivotgate/internal/resultcache"
	"pivotgate/internal/table"
)

const testReportID = "sales"

func testReport(cacheEnabled bool) report.Report {
	return report.Report{
		ID:        testReportID,
		Name:      "Sales",
		BaseQuery: "SELECT * FROM sales",
		Connection: dialect.Descriptor{
			Type:     dialect.MySQL,
			Host:     "db.internal",
			Database: "analytics",
			Username: "reader",
			Password: "s3cret",
		},
		CacheEnabled: cacheEnabled,
		CacheTTL:     time.Minute,
	}
}

type testHarness struct {
	engine *Engine
	mock   sqlmock.Sqlmock
	redis  *miniredis.Miniredis
}

func newTestHarness(t *testing.T, rep report.Report) *testHarness {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	// Pool create and reuse probes ping freely during a test.
	for i := 0; i < 16; i++ {
		mock.ExpectPing()
	}
	opener := func(driverName, dsn string) (*sql.DB, error) { return db, nil }

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.DiscardHandler)
	reports, err := report.NewStaticStore([]report.Report{rep})
	require.NoError(t, err)

	pools := pool.NewManager(logger, pool.DefaultConfig(), opener)
	t.Cleanup(pools.DisposeAll)

	eng := New(logger, reports, pools, resultcache.NewRedis(client), nil, DefaultConfig())
	return &testHarness{engine: eng, mock: mock, redis: srv}
}

func sumMetric(field string) pivot.Metric {
	return pivot.Metric{Name: field, Kind: pivot.MetricSimple, Field: field, Aggregation: pivot.AggSum}
}

func TestExecutePivotGrouped(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `region`, SUM(`revenue`) AS `revenue` FROM (SELECT * FROM sales) AS base_data GROUP BY `region` ORDER BY `region`",
	)).WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).
		AddRow("APAC", 80.0).
		AddRow("EMEA", 220.0))

	res, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
		GroupBy: []string{"region"},
		Metrics: []pivot.Metric{sumMetric("revenue")},
	})
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, 2, res.RowCount)
	assert.GreaterOrEqual(t, res.ElapsedMs, int64(0))

	tbl, err := table.Decode(res.Payload)
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, "region", tbl.Columns[0].Name)
	assert.Equal(t, "revenue", tbl.Columns[1].Name)
	assert.Equal(t, []any{"EMEA", 220.0}, tbl.Rows[1])
}

func TestExecutePivotDefaultsPerField(t *testing.T) {
	rep := testReport(false)
	rep.DefaultGroupBy = []string{"region"}
	rep.DefaultMetrics = []pivot.Metric{sumMetric("revenue")}

	t.Run("default metrics back a caller-chosen grouping", func(t *testing.T) {
		h := newTestHarness(t, rep)
		h.mock.ExpectQuery(regexp.QuoteMeta(
			"SELECT `product`, SUM(`revenue`) AS `revenue` FROM (SELECT * FROM sales) AS base_data GROUP BY `product` ORDER BY `product`",
		)).WillReturnRows(sqlmock.NewRows([]string{"product", "revenue"}).AddRow("widget", 50.0))

		res, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
			GroupBy: []string{"product"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.RowCount)
	})

	t.Run("default grouping backs caller-chosen metrics", func(t *testing.T) {
		h := newTestHarness(t, rep)
		h.mock.ExpectQuery(regexp.QuoteMeta(
			"SELECT `region`, SUM(`cost`) AS `cost` FROM (SELECT * FROM sales) AS base_data GROUP BY `region` ORDER BY `region`",
		)).WillReturnRows(sqlmock.NewRows([]string{"region", "cost"}).AddRow("EMEA", 10.0))

		_, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
			Metrics: []pivot.Metric{sumMetric("cost")},
		})
		require.NoError(t, err)
	})

	t.Run("empty request takes both defaults", func(t *testing.T) {
		h := newTestHarness(t, rep)
		h.mock.ExpectQuery(regexp.QuoteMeta(
			"SELECT `region`, SUM(`revenue`) AS `revenue` FROM (SELECT * FROM sales) AS base_data GROUP BY `region` ORDER BY `region`",
		)).WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 220.0))

		_, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{})
		require.NoError(t, err)
	})
}

func TestExecutePivotReshapesSplitBy(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery("GROUP BY `region`, `year`").
		WillReturnRows(sqlmock.NewRows([]string{"region", "year", "revenue"}).
			AddRow("EMEA", 2023.0, 100.0).
			AddRow("EMEA", 2024.0, 120.0).
			AddRow("APAC", 2023.0, 80.0))

	res, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
		GroupBy: []string{"region"},
		SplitBy: []string{"year"},
		Metrics: []pivot.Metric{sumMetric("revenue")},
	})
	require.NoError(t, err)

	tbl, err := table.Decode(res.Payload)
	require.NoError(t, err)
	names := make([]string, len(tbl.Columns))
	for i, col := range tbl.Columns {
		names[i] = col.Name
	}
	assert.Equal(t, []string{"region", "2023|revenue", "2024|revenue"}, names)
	assert.Equal(t, []any{"APAC", 80.0, nil}, tbl.Rows[1])
}

func TestExecutePivotRollup(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `region`, SUM(`revenue`) AS `revenue` FROM (SELECT * FROM sales) AS base_data GROUP BY `region` WITH ROLLUP",
	)).WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).
		AddRow(nil, 300.0).
		AddRow("APAC", 80.0).
		AddRow("EMEA", 220.0))

	res, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
		GroupBy: []string{"region"},
		Metrics: []pivot.Metric{sumMetric("revenue")},
		Rollup:  true,
	})
	require.NoError(t, err)

	tbl, err := table.Decode(res.Payload)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.RowCount())
	assert.Equal(t, []any{nil, 300.0}, tbl.Rows[0], "grand total row keeps its NULL dimension")
}

func TestExecutePivotRollupIgnoredWithSplitBy(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta(
		"GROUP BY `region`, `year` ORDER BY `region`, `year`",
	)).WillReturnRows(sqlmock.NewRows([]string{"region", "year", "revenue"}).
		AddRow("EMEA", 2024.0, 120.0))

	_, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
		GroupBy: []string{"region"},
		SplitBy: []string{"year"},
		Metrics: []pivot.Metric{sumMetric("revenue")},
		Rollup:  true,
	})
	require.NoError(t, err)
}

func TestExecutePivotFlatShape(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM (SELECT * FROM sales) AS base_data LIMIT 10000",
	)).WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 100.0))

	res, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
}

func TestExecutePivotColumnSelectShape(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `region`, `revenue` FROM (SELECT * FROM sales) AS base_data LIMIT 200",
	)).WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 100.0))

	limit := 200
	_, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{
		Metrics: []pivot.Metric{sumMetric("region"), sumMetric("revenue")},
		Limit:   &limit,
	})
	require.NoError(t, err)
}

func TestExecutePivotCache(t *testing.T) {
	h := newTestHarness(t, testReport(true))
	h.mock.ExpectQuery("GROUP BY `region`").
		WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 100.0))

	req := pivot.Request{
		GroupBy: []string{"region"},
		Metrics: []pivot.Metric{sumMetric("revenue")},
	}

	first, err := h.engine.ExecutePivot(context.Background(), testReportID, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, first.RowCount)

	second, err := h.engine.ExecutePivot(context.Background(), testReportID, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, CachedRowCount, second.RowCount)
	assert.Equal(t, first.Payload, second.Payload)

	// Force refresh bypasses the cached payload and queries again.
	h.mock.ExpectQuery("GROUP BY `region`").
		WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 150.0))
	refresh := req
	refresh.ForceRefresh = true
	third, err := h.engine.ExecutePivot(context.Background(), testReportID, refresh)
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestExecutePivotUnknownReport(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	_, err := h.engine.ExecutePivot(context.Background(), "nope", pivot.Request{})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindConfig, enginerr.KindOf(err))
}

func TestExecutePivotClassifiesDriverErrors(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery("SELECT").WillReturnError(&mysql.MySQLError{
		Number: 1045, Message: "Access denied for user 'reader'",
	})

	_, err := h.engine.ExecutePivot(context.Background(), testReportID, pivot.Request{})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindAuth, enginerr.KindOf(err))
}

func TestDrillDown(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta("GROUP BY `product` ORDER BY `product` ASC LIMIT 100 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"product", "revenue"}).
			AddRow("Widget", 120.0).
			AddRow("Gadget", 100.0))
	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	res, err := h.engine.DrillDown(context.Background(), testReportID, pivot.DrillRequest{
		GroupBy:   []string{"region", "product"},
		GroupKeys: []any{"EMEA"},
		Metrics:   []pivot.Metric{sumMetric("revenue")},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Widget", res.Records[0]["product"])
	assert.Equal(t, 120.0, res.Records[0]["revenue"])
}

func TestDrillDownBoundsRejectedBeforeQuerying(t *testing.T) {
	h := newTestHarness(t, testReport(false))

	_, err := h.engine.DrillDown(context.Background(), testReportID, pivot.DrillRequest{
		GroupBy:   []string{"region"},
		GroupKeys: []any{"EMEA"},
		Metrics:   []pivot.Metric{sumMetric("revenue")},
	})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindBounds, enginerr.KindOf(err))
}

func TestDrillDownDegradesToPassthrough(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta("LIMIT 2 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).
			AddRow("EMEA", 100.0).
			AddRow("APAC", 80.0))
	// A full page says nothing about the remainder; the total comes from a
	// count over the whole base query.
	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM (SELECT * FROM sales) AS base_data")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(57.0))

	res, err := h.engine.DrillDown(context.Background(), testReportID, pivot.DrillRequest{
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 57, res.Total)
	assert.Len(t, res.Records, 2)
}

func TestGrandTotal(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(`revenue`) AS `revenue` FROM")).
		WillReturnRows(sqlmock.NewRows([]string{"revenue"}).AddRow(300.0))

	total, err := h.engine.GrandTotal(context.Background(), testReportID,
		[]pivot.Metric{sumMetric("revenue")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 300.0, total["revenue"])
}

func TestTestConnection(t *testing.T) {
	h := newTestHarness(t, testReport(false))

	elapsed, err := h.engine.TestConnection(context.Background(), testReport(false).Connection)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, int64(0))
}

func TestTestConnectionFailure(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	opener := func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	reports, err := report.NewStaticStore(nil)
	require.NoError(t, err)
	pools := pool.NewManager(logger, pool.DefaultConfig(), opener)
	eng := New(logger, reports, pools, nil, nil, DefaultConfig())

	_, err = eng.TestConnection(context.Background(), testReport(false).Connection)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindUnreachable, enginerr.KindOf(err))
}

func TestSchemaPreview(t *testing.T) {
	h := newTestHarness(t, testReport(false))
	h.mock.ExpectQuery(regexp.QuoteMeta("LIMIT 50")).
		WillReturnRows(sqlmock.NewRows([]string{"region", "revenue"}).AddRow("EMEA", 100.0))

	tbl, err := h.engine.SchemaPreview(context.Background(), testReportID)
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, table.TypeString, tbl.Columns[0].Type)
	assert.Equal(t, table.TypeNumber, tbl.Columns[1].Type)
}
