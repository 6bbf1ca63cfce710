package config

import (
	"time"

	"pivotgate/internal/dialect"
	"pivotgate/internal/pivot"
	"pivotgate/internal/report"
)

// Config holds the application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Reports       []ReportConfig      `mapstructure:"reports"`
}

// EngineConfig bounds query execution.
type EngineConfig struct {
	// MaxConcurrentQueries caps in-flight database queries across requests.
	MaxConcurrentQueries int64 `mapstructure:"max_concurrent_queries"`
	// QueryTimeout bounds steady-state query execution.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	// TestTimeout bounds connection tests, which absorb cold starts.
	TestTimeout time.Duration `mapstructure:"test_timeout"`
	// PreviewCap bounds ungrouped passthrough row counts.
	PreviewCap int `mapstructure:"preview_cap"`
}

// PoolConfig holds connection pool parameters applied to every source pool.
type PoolConfig struct {
	MaxOpen         int           `mapstructure:"max_open"`
	MaxIdle         int           `mapstructure:"max_idle"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	WarmConnections int           `mapstructure:"warm_connections"`
	// WarmupOnStart primes a pool per configured report connection at boot.
	WarmupOnStart bool          `mapstructure:"warmup_on_start"`
	WarmupTimeout time.Duration `mapstructure:"warmup_timeout"`
}

// RedisConfig holds result cache backend parameters.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
	DB           int    `mapstructure:"db"`
}

// ConnectionConfig describes one source database in configuration form.
type ConnectionConfig struct {
	Type         string `mapstructure:"type"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
	TLS          bool   `mapstructure:"tls"`
}

// MetricConfig describes one default metric of a report.
type MetricConfig struct {
	Name         string `mapstructure:"name"`
	Field        string `mapstructure:"field"`
	Type         string `mapstructure:"type"`
	Aggregation  string `mapstructure:"aggregation"`
	RevenueField string `mapstructure:"revenue_field"`
	CostField    string `mapstructure:"cost_field"`
}

// ReportConfig describes one report definition in configuration form.
type ReportConfig struct {
	ID             string           `mapstructure:"id"`
	Name           string           `mapstructure:"name"`
	BaseQuery      string           `mapstructure:"base_query"`
	Connection     ConnectionConfig `mapstructure:"connection"`
	DefaultGroupBy []string         `mapstructure:"default_group_by"`
	DefaultMetrics []MetricConfig   `mapstructure:"default_metrics"`
	CacheEnabled   bool             `mapstructure:"cache_enabled"`
	CacheTTL       time.Duration    `mapstructure:"cache_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	TLSMode              string        `mapstructure:"tls_mode"` // off, auto, file
	TLSCertFile          string        `mapstructure:"tls_cert_file"`
	TLSKeyFile           string        `mapstructure:"tls_key_file"`
	TLSAutoCertDir       string        `mapstructure:"tls_auto_cert_dir"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	Logging        LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// GetMetricsConfig returns the effective OTLP config for metrics
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	if c.Metrics != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Metrics)
	}
	return c.OTLP
}

// mergeOTLPConfigs merges signal-specific config over global defaults
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// Insecure is a bool, so an explicit false cannot be detected. If the
	// override struct exists, its Insecure value wins.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string)
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}

// Descriptor converts the configuration form into the engine's connection
// descriptor, resolving file-backed passwords.
func (c ConnectionConfig) Descriptor() (dialect.Descriptor, error) {
	d, err := dialect.Parse(c.Type)
	if err != nil {
		return dialect.Descriptor{}, err
	}
	password := c.Password
	if password == "" && c.PasswordFile != "" {
		password, err = readPasswordFile(c.PasswordFile)
		if err != nil {
			return dialect.Descriptor{}, err
		}
	}
	return dialect.Descriptor{
		Type:     d,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.User,
		Password: password,
		TLS:      c.TLS,
	}, nil
}

// Metric converts the configuration form into an engine metric.
func (m MetricConfig) Metric() (pivot.Metric, error) {
	kind := pivot.MetricSimple
	if m.Type == "margin" {
		kind = pivot.MetricMargin
	}
	agg, err := pivot.ParseAggregation(m.Aggregation)
	if err != nil {
		return pivot.Metric{}, err
	}
	name := m.Name
	if name == "" {
		name = m.Field
	}
	revenue := m.RevenueField
	if kind == pivot.MetricMargin && revenue == "" {
		revenue = m.Field
	}
	return pivot.Metric{
		Name:         name,
		Kind:         kind,
		Field:        m.Field,
		Aggregation:  agg,
		RevenueField: revenue,
		CostField:    m.CostField,
	}, nil
}

// Report converts the configuration form into an engine report.
func (r ReportConfig) Report() (report.Report, error) {
	desc, err := r.Connection.Descriptor()
	if err != nil {
		return report.Report{}, err
	}
	metrics := make([]pivot.Metric, len(r.DefaultMetrics))
	for i, m := range r.DefaultMetrics {
		pm, err := m.Metric()
		if err != nil {
			return report.Report{}, err
		}
		metrics[i] = pm
	}
	return report.Report{
		ID:             r.ID,
		Name:           r.Name,
		BaseQuery:      r.BaseQuery,
		Connection:     desc,
		DefaultGroupBy: r.DefaultGroupBy,
		DefaultMetrics: metrics,
		CacheEnabled:   r.CacheEnabled,
		CacheTTL:       r.CacheTTL,
	}, nil
}

// ReportSet converts every configured report, failing on the first invalid
// definition.
func (c *Config) ReportSet() ([]report.Report, error) {
	out := make([]report.Report, len(c.Reports))
	for i, rc := range c.Reports {
		rep, err := rc.Report()
		if err != nil {
			return nil, err
		}
		out[i] = rep
	}
	return out, nil
}
