package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      map[string]*pflag.Flag
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "PRISMAPILOT")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
		flags:      map[string]*pflag.Flag{},
	}
}

// WithFlag binds a command-line flag to a config key. A flag overrides the
// environment only when it was set explicitly.
func (l *ViperLoader) WithFlag(key string, flag *pflag.Flag) *ViperLoader {
	if flag != nil {
		l.flags[key] = flag
	}
	return l
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)

	for key, flag := range l.flags {
		if flag.Changed {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Database
	v.BindEnv("database.type", l.prefixedEnv("DB_TYPE"))
	v.BindEnv("database.url", l.prefixedEnv("DB_URL"), "DATABASE_URL")
	v.BindEnv("database.data_file", l.prefixedEnv("DB_DATA_FILE"))
	v.BindEnv("database.database_name", l.prefixedEnv("DB_NAME"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DB_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DB_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DB_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DB_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.connect_timeout", l.prefixedEnv("DB_CONNECT_TIMEOUT"))

	// Cache
	v.BindEnv("cache.enabled", l.prefixedEnv("CACHE_ENABLED"))
	v.BindEnv("cache.type", l.prefixedEnv("CACHE_TYPE"))
	v.BindEnv("cache.url", l.prefixedEnv("CACHE_URL"), "REDIS_URL")
	v.BindEnv("cache.ttl", l.prefixedEnv("CACHE_TTL"))
	v.BindEnv("cache.key_prefix", l.prefixedEnv("CACHE_KEY_PREFIX"))
	v.BindEnv("cache.max_conns", l.prefixedEnv("CACHE_MAX_CONNS"))
	v.BindEnv("cache.operation_timeout", l.prefixedEnv("CACHE_OPERATION_TIMEOUT"))

	// Query
	v.BindEnv("query.default_sort_field", l.prefixedEnv("QUERY_DEFAULT_SORT_FIELD"))
	v.BindEnv("query.default_sort_order", l.prefixedEnv("QUERY_DEFAULT_SORT_ORDER"))
	v.BindEnv("query.cursor_field", l.prefixedEnv("QUERY_CURSOR_FIELD"))
	v.BindEnv("query.slow_query_threshold", l.prefixedEnv("QUERY_SLOW_THRESHOLD"))
	v.BindEnv("query.soft_delete", l.prefixedEnv("QUERY_SOFT_DELETE"))
	v.BindEnv("query.soft_delete_field", l.prefixedEnv("QUERY_SOFT_DELETE_FIELD"))
	v.BindEnv("query.tenant_field", l.prefixedEnv("QUERY_TENANT_FIELD"))

	// Webhook
	v.BindEnv("webhook.url", l.prefixedEnv("WEBHOOK_URL"))
	v.BindEnv("webhook.timeout", l.prefixedEnv("WEBHOOK_TIMEOUT"))
	v.BindEnv("webhook.include_query", l.prefixedEnv("WEBHOOK_INCLUDE_QUERY"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.service_name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("observability.metrics_enabled", l.prefixedEnv("METRICS_ENABLED"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"), "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "PRISMAPILOT"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.data_file", cfg.Database.DataFile)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.url", cfg.Cache.URL)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.key_prefix", cfg.Cache.KeyPrefix)
	v.SetDefault("cache.max_conns", cfg.Cache.MaxConns)
	v.SetDefault("cache.operation_timeout", cfg.Cache.OperationTimeout)

	v.SetDefault("query.default_sort_field", cfg.Query.DefaultSortField)
	v.SetDefault("query.default_sort_order", cfg.Query.DefaultSortOrder)
	v.SetDefault("query.cursor_field", cfg.Query.CursorField)
	v.SetDefault("query.slow_query_threshold", cfg.Query.SlowQueryThreshold)
	v.SetDefault("query.soft_delete", cfg.Query.SoftDelete)
	v.SetDefault("query.soft_delete_field", cfg.Query.SoftDeleteField)
	v.SetDefault("query.tenant_field", cfg.Query.TenantField)

	v.SetDefault("webhook.url", cfg.Webhook.URL)
	v.SetDefault("webhook.timeout", cfg.Webhook.Timeout)
	v.SetDefault("webhook.include_query", cfg.Webhook.IncludeQuery)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate validates the configuration and returns every problem found.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	switch cfg.Database.Type {
	case DatabaseTypeMemory:
	case DatabaseTypePostgres, DatabaseTypeMySQL:
		if cfg.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for database.type %s", cfg.Database.Type))
		}
	case DatabaseTypeMongoDB:
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for database.type mongodb"))
		}
		if cfg.Database.DatabaseName == "" {
			errs = append(errs, errors.New("database.database_name is required for database.type mongodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: memory, postgres, mysql, mongodb)", cfg.Database.Type))
	}
	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection pool sizes must not be negative"))
	}
	for model, relations := range cfg.Database.Relations {
		for name, rel := range relations {
			if rel.Table == "" || rel.LocalKey == "" || rel.ForeignKey == "" {
				errs = append(errs, fmt.Errorf("database.relations.%s.%s requires table, local_key and foreign_key", model, name))
			}
		}
	}

	if cfg.Cache.Enabled {
		switch strings.ToLower(cfg.Cache.Type) {
		case CacheTypeMemory:
		case CacheTypeRedis:
			if cfg.Cache.URL == "" {
				errs = append(errs, errors.New("cache.url is required when cache.type is redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid cache.type: %s (must be one of: memory, redis)", cfg.Cache.Type))
		}
		if cfg.Cache.TTL < 0 {
			errs = append(errs, errors.New("cache.ttl must not be negative"))
		}
	}

	switch strings.ToLower(cfg.Query.DefaultSortOrder) {
	case "asc", "desc":
	default:
		errs = append(errs, fmt.Errorf("invalid query.default_sort_order: %s (must be asc or desc)", cfg.Query.DefaultSortOrder))
	}
	if cfg.Query.SlowQueryThreshold <= 0 {
		errs = append(errs, errors.New("query.slow_query_threshold must be positive"))
	}

	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid webhook.url: %s", cfg.Webhook.URL))
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.TracingEnabled {
		if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
			errs = append(errs, fmt.Errorf("invalid tracing sample rate: %f (must be between 0.0 and 1.0)", cfg.Observability.TracingSampleRate))
		}
		if cfg.Observability.TracingEndpoint == "" {
			errs = append(errs, errors.New("tracing endpoint is required when tracing is enabled"))
		}
	}

	return errors.Join(errs...)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
