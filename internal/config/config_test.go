package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotgate/internal/dialect"
	"pivotgate/internal/pivot"
)

// markFlagsParsed parses an empty argument list so Load does not try to
// parse the test binary's own flags.
func markFlagsParsed(t *testing.T) {
	t.Helper()
	defineFlags()
	if !pflag.Parsed() {
		require.NoError(t, pflag.CommandLine.Parse(nil))
	}
}

// loadFromDir writes an optional pivotgate.yaml into a temp dir, chdirs into
// it, and runs Load.
func loadFromDir(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pivotgate.yaml"), []byte(yaml), 0o600))
	}
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	markFlagsParsed(t)
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 200*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, int64(4), cfg.Engine.MaxConcurrentQueries)
	assert.Equal(t, 30*time.Second, cfg.Engine.QueryTimeout)
	assert.Equal(t, 180*time.Second, cfg.Engine.TestTimeout)
	assert.Equal(t, 10000, cfg.Engine.PreviewCap)

	assert.Equal(t, 15, cfg.Pool.MaxOpen)
	assert.Equal(t, 5, cfg.Pool.MaxIdle)
	assert.Equal(t, time.Hour, cfg.Pool.MaxLifetime)
	assert.Equal(t, 3, cfg.Pool.WarmConnections)
	assert.True(t, cfg.Pool.WarmupOnStart)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
	assert.Empty(t, cfg.Reports)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFromDir(t, `
server:
  port: 9090
engine:
  query_timeout: 45s
  test_timeout: 120s
pool:
  max_open: 20
  max_idle: 8
redis:
  enabled: true
  addr: cache.internal:6379
reports:
  - id: sales
    name: Sales by region
    base_query: SELECT * FROM sales
    connection:
      type: postgres
      host: db.internal
      port: 5432
      database: analytics
      user: reader
      password: s3cret
    default_group_by: [region]
    default_metrics:
      - field: revenue
        aggregation: sum
      - name: margin_pct
        type: margin
        revenue_field: revenue
        cost_field: cost
    cache_enabled: true
    cache_ttl: 5m
`)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Engine.QueryTimeout)
	assert.Equal(t, 20, cfg.Pool.MaxOpen)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr)

	require.Len(t, cfg.Reports, 1)
	rep, err := cfg.Reports[0].Report()
	require.NoError(t, err)
	assert.Equal(t, "sales", rep.ID)
	assert.Equal(t, dialect.Postgres, rep.Connection.Type)
	assert.Equal(t, "db.internal", rep.Connection.Host)
	assert.Equal(t, []string{"region"}, rep.DefaultGroupBy)
	require.Len(t, rep.DefaultMetrics, 2)
	assert.Equal(t, pivot.MetricSimple, rep.DefaultMetrics[0].Kind)
	assert.Equal(t, pivot.AggSum, rep.DefaultMetrics[0].Aggregation)
	assert.Equal(t, "revenue", rep.DefaultMetrics[0].Name)
	assert.Equal(t, pivot.MetricMargin, rep.DefaultMetrics[1].Kind)
	assert.Equal(t, "margin_pct", rep.DefaultMetrics[1].Name)
	assert.True(t, rep.CacheEnabled)
	assert.Equal(t, 5*time.Minute, rep.CacheTTL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PIVOTGATE_SERVER_PORT", "9998")
	t.Setenv("PIVOTGATE_ENGINE_QUERY_TIMEOUT", "10s")

	cfg, err := loadFromDir(t, `
server:
  port: 9090
`)
	require.NoError(t, err)
	assert.Equal(t, 9998, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Engine.QueryTimeout)
}

func TestEnvStringSlice(t *testing.T) {
	t.Setenv("PIVOTGATE_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"https://a.example.com", "https://b.example.com"},
		cfg.Server.CORSAllowedOrigins)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := loadFromDir(t, `
server:
  port: 0
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := loadFromDir(t, `
server:
  prot: 9090
`)
	require.Error(t, err)
}

func TestRedisPasswordFromFile(t *testing.T) {
	dir := t.TempDir()
	pwdFile := filepath.Join(dir, "redis-password")
	require.NoError(t, os.WriteFile(pwdFile, []byte("hunter2\n"), 0o600))
	t.Setenv("PIVOTGATE_REDIS_PASSWORD_FILE", pwdFile)

	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
}

func TestConnectionDescriptor(t *testing.T) {
	t.Run("inline password", func(t *testing.T) {
		cc := ConnectionConfig{
			Type: "mysql", Host: "db", Port: 3306,
			Database: "orders", User: "app", Password: "pw",
		}
		desc, err := cc.Descriptor()
		require.NoError(t, err)
		assert.Equal(t, dialect.MySQL, desc.Type)
		assert.Equal(t, "pw", desc.Password)
	})

	t.Run("password file", func(t *testing.T) {
		pwdFile := filepath.Join(t.TempDir(), "pw")
		require.NoError(t, os.WriteFile(pwdFile, []byte("  from-file  \n"), 0o600))
		cc := ConnectionConfig{
			Type: "mssql", Host: "db", Port: 1433,
			Database: "orders", User: "app", PasswordFile: pwdFile,
		}
		desc, err := cc.Descriptor()
		require.NoError(t, err)
		assert.Equal(t, "from-file", desc.Password)
	})

	t.Run("unknown type", func(t *testing.T) {
		cc := ConnectionConfig{Type: "oracle", Host: "db"}
		_, err := cc.Descriptor()
		require.Error(t, err)
	})
}

func TestMetricConversion(t *testing.T) {
	t.Run("name falls back to field", func(t *testing.T) {
		m, err := MetricConfig{Field: "revenue", Aggregation: "avg"}.Metric()
		require.NoError(t, err)
		assert.Equal(t, "revenue", m.Name)
		assert.Equal(t, pivot.AggAvg, m.Aggregation)
	})

	t.Run("margin revenue falls back to field", func(t *testing.T) {
		m, err := MetricConfig{Name: "margin", Field: "revenue", Type: "margin", CostField: "cost"}.Metric()
		require.NoError(t, err)
		assert.Equal(t, pivot.MetricMargin, m.Kind)
		assert.Equal(t, "revenue", m.RevenueField)
	})

	t.Run("bad aggregation", func(t *testing.T) {
		_, err := MetricConfig{Field: "revenue", Aggregation: "median"}.Metric()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Engine: EngineConfig{
				MaxConcurrentQueries: 4,
				QueryTimeout:         30 * time.Second,
				TestTimeout:          180 * time.Second,
				PreviewCap:           10000,
			},
			Pool:  PoolConfig{MaxOpen: 15, MaxIdle: 5, WarmConnections: 3},
			Redis: RedisConfig{Enabled: false},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := valid()
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Warnings)
	})

	t.Run("test timeout below query timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.TestTimeout = 10 * time.Second
		result := cfg.Validate()
		require.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.test_timeout")
	})

	t.Run("idle above open", func(t *testing.T) {
		cfg := valid()
		cfg.Pool.MaxIdle = 30
		result := cfg.Validate()
		require.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "pool.max_idle")
	})

	t.Run("warm above idle warns", func(t *testing.T) {
		cfg := valid()
		cfg.Pool.WarmConnections = 10
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "pool.warm_connections", result.Warnings[0].Field)
	})

	t.Run("redis enabled without addr", func(t *testing.T) {
		cfg := valid()
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = "  "
		result := cfg.Validate()
		require.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "redis.addr")
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid()
		cfg.Observability.Logging.Level = "verbose"
		result := cfg.Validate()
		require.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("report problems", func(t *testing.T) {
		cfg := valid()
		cfg.Reports = []ReportConfig{
			{ID: "a", BaseQuery: "SELECT 1", Connection: ConnectionConfig{Type: "mysql", Host: "db", Port: 3306}},
			{ID: "a", BaseQuery: "SELECT 1", Connection: ConnectionConfig{Type: "mysql", Host: "db", Port: 3306}},
			{ID: "b", Connection: ConnectionConfig{Type: "oracle", Port: 99999}},
		}
		result := cfg.Validate()
		require.True(t, result.HasErrors())
		msg := result.Error()
		assert.Contains(t, msg, "duplicate report id")
		assert.Contains(t, msg, "reports[b].base_query")
		assert.Contains(t, msg, "reports[b].connection.type")
		assert.Contains(t, msg, "reports[b].connection.host")
		assert.Contains(t, msg, "reports[b].connection.port")
	})
}
