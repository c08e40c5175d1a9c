package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Events   EventsConfig   `mapstructure:"events"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	// Driver is memory, sqlite or redis
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig holds database configuration
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings, shared by the store and the lock
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// WorkflowConfig holds approval workflow settings
type WorkflowConfig struct {
	ApproverRoles []string `mapstructure:"approver_roles"`
	// LockDriver is local or redis
	LockDriver string        `mapstructure:"lock_driver"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

// CurrencyConfig holds rate lookup settings
type CurrencyConfig struct {
	RateTimeout time.Duration `mapstructure:"rate_timeout"`
	// StaticRates maps "FROM/TO" to a decimal rate string
	StaticRates map[string]string `mapstructure:"static_rates"`
}

// EventsConfig holds async event delivery settings
type EventsConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	Workers       int           `mapstructure:"workers"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// AuditConfig holds the background ledger audit settings
type AuditConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Grace    time.Duration `mapstructure:"grace"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EVOUCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite.path", "data/evoucher.db")
	v.SetDefault("store.sqlite.max_open_conns", 1)
	v.SetDefault("store.sqlite.max_idle_conns", 1)
	v.SetDefault("store.sqlite.conn_max_lifetime", 0)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.namespace", "evoucher")

	// Workflow defaults
	v.SetDefault("workflow.approver_roles", []string{"Accounting"})
	v.SetDefault("workflow.lock_driver", "local")
	v.SetDefault("workflow.lock_ttl", 30*time.Second)

	// Currency defaults
	v.SetDefault("currency.rate_timeout", 5*time.Second)
	v.SetDefault("currency.static_rates", map[string]string{})

	// Events defaults
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.retry_attempts", 3)
	v.SetDefault("events.retry_backoff", 200*time.Millisecond)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", 10*time.Minute)
	v.SetDefault("audit.grace", time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.service_name", "evoucher")
	v.SetDefault("metrics.environment", "production")
}

// bindEnvVars binds environment variables that do not follow the key layout
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"store.redis.addr":        {"EVOUCHER_REDIS_ADDR", "REDIS_ADDR"},
		"store.redis.password":    {"EVOUCHER_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"store.sqlite.path":       {"EVOUCHER_DB_PATH"},
		"workflow.approver_roles": {"EVOUCHER_APPROVER_ROLES"},
		"logger.level":            {"EVOUCHER_LOG_LEVEL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory, sqlite or redis", c.Store.Driver)
	}

	switch c.Workflow.LockDriver {
	case "local":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis lock")
		}
		if c.Workflow.LockTTL <= 0 {
			return fmt.Errorf("workflow.lock_ttl must be positive")
		}
	default:
		return fmt.Errorf("workflow.lock_driver %q must be local or redis", c.Workflow.LockDriver)
	}

	if c.Currency.RateTimeout <= 0 {
		return fmt.Errorf("currency.rate_timeout must be positive")
	}

	if c.Events.QueueSize <= 0 || c.Events.Workers <= 0 {
		return fmt.Errorf("events.queue_size and events.workers must be positive")
	}

	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive")
	}

	return nil
}
