// Package container provides dependency injection and lifecycle management
// for the E-Voucher service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
type Config struct {
	// Store selects and configures the document store
	Store StoreConfig

	// Redis is shared by the redis store and the redis lock
	Redis RedisConfig

	Workflow WorkflowConfig
	Currency CurrencyConfig
	Events   EventsConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	// Driver is memory, sqlite or redis
	Driver string

	// SQLitePath is the path to the SQLite database file
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Namespace prefixes every key the service writes
	Namespace string
}

// WorkflowConfig holds approval workflow settings.
type WorkflowConfig struct {
	ApproverRoles []string

	// LockDriver is local or redis
	LockDriver string
	LockTTL    time.Duration
}

// CurrencyConfig holds rate lookup settings.
type CurrencyConfig struct {
	RateTimeout time.Duration
	StaticRates map[string]string
}

// EventsConfig holds async event delivery settings.
type EventsConfig struct {
	QueueSize     int
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// AuditConfig holds the background ledger audit settings.
type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
	Grace    time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:       "memory",
			SQLitePath:   "data/evoucher.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "evoucher",
		},
		Workflow: WorkflowConfig{
			ApproverRoles: []string{"Accounting"},
			LockDriver:    "local",
			LockTTL:       30 * time.Second,
		},
		Currency: CurrencyConfig{
			RateTimeout: 5 * time.Second,
			StaticRates: map[string]string{},
		},
		Events: EventsConfig{
			QueueSize:     256,
			Workers:       2,
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
		},
		Audit: AuditConfig{
			Interval: 10 * time.Minute,
			Grace:    time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			ServiceName: "evoucher",
			Environment: "production",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Workflow.LockDriver {
	case "", "local":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock")
		}
	default:
		return fmt.Errorf("unknown lock driver %q", c.Workflow.LockDriver)
	}

	if c.Currency.RateTimeout <= 0 {
		return fmt.Errorf("currency.rate_timeout must be positive")
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive")
	}
	return nil
}
