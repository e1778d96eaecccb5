// Package config loads prismapilot configuration from defaults, an optional
// file, environment variables and command-line flags.
package config

import "time"

// Database type constants
const (
	// DatabaseTypeMemory serves queries from an in-process dataset
	DatabaseTypeMemory = "memory"
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
	// DatabaseTypeMongoDB represents MongoDB database
	DatabaseTypeMongoDB = "mongodb"
)

// Cache type constants
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Query         QueryConfig         `mapstructure:"query"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig configures the executor backend
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // memory, postgres, mysql, mongodb
	URL             string        `mapstructure:"url"`
	DataFile        string        `mapstructure:"data_file"`
	DatabaseName    string        `mapstructure:"database_name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`

	// Relations maps model -> relation name -> join description for SQL
	// backends.
	Relations map[string]map[string]RelationConfig `mapstructure:"relations"`
}

// RelationConfig describes how a related table joins its parent.
type RelationConfig struct {
	Table      string `mapstructure:"table"`
	LocalKey   string `mapstructure:"local_key"`
	ForeignKey string `mapstructure:"foreign_key"`
}

// CacheConfig configures the query result cache
type CacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Type             string        `mapstructure:"type"` // memory, redis
	URL              string        `mapstructure:"url"`
	TTL              time.Duration `mapstructure:"ttl"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// QueryConfig holds engine defaults and scopes applied to every request.
type QueryConfig struct {
	DefaultSortField   string        `mapstructure:"default_sort_field"`
	DefaultSortOrder   string        `mapstructure:"default_sort_order"`
	CursorField        string        `mapstructure:"cursor_field"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
	SoftDelete         bool          `mapstructure:"soft_delete"`
	SoftDeleteField    string        `mapstructure:"soft_delete_field"`
	TenantField        string        `mapstructure:"tenant_field"`
}

// WebhookConfig configures result delivery.
type WebhookConfig struct {
	URL          string            `mapstructure:"url"`
	Headers      map[string]string `mapstructure:"headers"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	IncludeQuery bool              `mapstructure:"include_query"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	ServiceName       string  `mapstructure:"service_name"`
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "prismapilot",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypeMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:          false,
			Type:             CacheTypeMemory,
			TTL:              5 * time.Minute,
			KeyPrefix:        "prismapilot:",
			MaxConns:         10,
			OperationTimeout: time.Second,
		},
		Query: QueryConfig{
			DefaultSortField:   "createdAt",
			DefaultSortOrder:   "desc",
			CursorField:        "id",
			SlowQueryThreshold: time.Second,
			SoftDeleteField:    "deletedAt",
			TenantField:        "tenantId",
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "prismapilot",
			TracingSampleRate: 1.0,
		},
	}
}
