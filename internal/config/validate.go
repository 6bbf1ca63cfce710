package config

import (
	"fmt"
	"strings"

	"pivotgate/internal/dialect"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Server.validate(result)
	c.Engine.validate(result)
	c.Pool.validate(result)
	c.Redis.validate(result)
	c.Observability.validate(result)
	validateReports(result, c.Reports)

	return result
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range", s.Port),
			Hint:    "use a port between 1 and 65535",
		})
	}
	switch s.TLSMode {
	case "", "off", "auto", "file":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.tls_mode",
			Message: fmt.Sprintf("invalid mode %q", s.TLSMode),
			Hint:    "use off, auto, or file",
		})
	}
	if s.TLSMode == "file" && (s.TLSCertFile == "" || s.TLSKeyFile == "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.tls_cert_file",
			Message: "tls_mode=file requires both tls_cert_file and tls_key_file",
		})
	}
	if s.RateLimitEnabled && (s.RateLimitRPS <= 0 || s.RateLimitBurst < 1) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.rate_limit_rps",
			Message: "rate limit requires positive rps and burst",
		})
	}
	if s.CORSEnabled && len(s.CORSAllowedOrigins) == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.cors_allowed_origins",
			Message: "CORS is enabled but no origins are allowed",
			Hint:    "set server.cors_allowed_origins or disable CORS",
		})
	}
}

func (e *EngineConfig) validate(result *ValidationResult) {
	if e.MaxConcurrentQueries < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_concurrent_queries",
			Message: fmt.Sprintf("must be at least 1, got %d", e.MaxConcurrentQueries),
		})
	}
	if e.QueryTimeout <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.query_timeout",
			Message: "must be positive",
			Hint:    "e.g. 30s",
		})
	}
	if e.TestTimeout < e.QueryTimeout {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.test_timeout",
			Message: "cannot be shorter than engine.query_timeout",
			Hint:    "connection tests absorb cold starts and need the longer bound",
		})
	}
	if e.PreviewCap < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.preview_cap",
			Message: fmt.Sprintf("must be at least 1, got %d", e.PreviewCap),
		})
	}
}

func (p *PoolConfig) validate(result *ValidationResult) {
	if p.MaxOpen < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "pool.max_open",
			Message: fmt.Sprintf("must be at least 1, got %d", p.MaxOpen),
		})
	}
	if p.MaxIdle > p.MaxOpen {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "pool.max_idle",
			Message: fmt.Sprintf("max_idle (%d) cannot exceed max_open (%d)", p.MaxIdle, p.MaxOpen),
		})
	}
	if p.WarmConnections > p.MaxIdle {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "pool.warm_connections",
			Message: "warm connections above max_idle will be closed right after warm-up",
			Hint:    "set pool.warm_connections <= pool.max_idle",
		})
	}
}

func (r *RedisConfig) validate(result *ValidationResult) {
	if r.Enabled && strings.TrimSpace(r.Addr) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "redis.addr",
			Message: "required when redis.enabled is true",
			Hint:    "e.g. localhost:6379",
		})
	}
	if r.DB < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "redis.db",
			Message: fmt.Sprintf("database number cannot be negative, got %d", r.DB),
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch strings.ToLower(o.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid level %q", o.Logging.Level),
			Hint:    "use debug, info, warn, or error",
		})
	}
	switch strings.ToLower(o.Logging.Format) {
	case "json", "text":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid format %q", o.Logging.Format),
			Hint:    "use json or text",
		})
	}
	if o.Logging.ExportsEnabled && strings.TrimSpace(o.GetLogsConfig().Endpoint) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logs.endpoint",
			Message: "required when log exports are enabled",
		})
	}
}

func validateReports(result *ValidationResult, reports []ReportConfig) {
	seen := make(map[string]struct{}, len(reports))
	for i, rep := range reports {
		field := fmt.Sprintf("reports[%d]", i)
		if strings.TrimSpace(rep.ID) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".id",
				Message: "report id is required",
			})
			continue
		}
		field = fmt.Sprintf("reports[%s]", rep.ID)
		if _, dup := seen[rep.ID]; dup {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".id",
				Message: "duplicate report id",
			})
		}
		seen[rep.ID] = struct{}{}

		if strings.TrimSpace(rep.BaseQuery) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".base_query",
				Message: "base query is required",
			})
		}
		if _, err := dialect.Parse(rep.Connection.Type); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".connection.type",
				Message: err.Error(),
				Hint:    "use mysql, postgres, or mssql",
			})
		}
		if strings.TrimSpace(rep.Connection.Host) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".connection.host",
				Message: "connection host is required",
			})
		}
		if rep.Connection.Port < 0 || rep.Connection.Port > 65535 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".connection.port",
				Message: fmt.Sprintf("port %d is out of valid range", rep.Connection.Port),
			})
		}
		if rep.Connection.Password != "" && rep.Connection.PasswordFile != "" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field + ".connection.password",
				Message: "both password and password_file are set; password wins",
			})
		}
		if rep.CacheEnabled && rep.CacheTTL < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".cache_ttl",
				Message: "cache TTL cannot be negative",
			})
		}
	}
}
