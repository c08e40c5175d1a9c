package config

import (
	"github.com/garyjia/evoucher/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	rates := make(map[string]string, len(c.Currency.StaticRates))
	for pair, rate := range c.Currency.StaticRates {
		rates[pair] = rate
	}
	roles := append([]string(nil), c.Workflow.ApproverRoles...)

	return &container.Config{
		Store: container.StoreConfig{
			Driver:          c.Store.Driver,
			SQLitePath:      c.Store.SQLite.Path,
			MaxOpenConns:    c.Store.SQLite.MaxOpenConns,
			MaxIdleConns:    c.Store.SQLite.MaxIdleConns,
			ConnMaxLifetime: c.Store.SQLite.ConnMaxLifetime,
		},
		Redis: container.RedisConfig{
			Addr:      c.Store.Redis.Addr,
			Password:  c.Store.Redis.Password,
			DB:        c.Store.Redis.DB,
			Namespace: c.Store.Redis.Namespace,
		},
		Workflow: container.WorkflowConfig{
			ApproverRoles: roles,
			LockDriver:    c.Workflow.LockDriver,
			LockTTL:       c.Workflow.LockTTL,
		},
		Currency: container.CurrencyConfig{
			RateTimeout: c.Currency.RateTimeout,
			StaticRates: rates,
		},
		Events: container.EventsConfig{
			QueueSize:     c.Events.QueueSize,
			Workers:       c.Events.Workers,
			RetryAttempts: c.Events.RetryAttempts,
			RetryBackoff:  c.Events.RetryBackoff,
		},
		Audit: container.AuditConfig{
			Enabled:  c.Audit.Enabled,
			Interval: c.Audit.Interval,
			Grace:    c.Audit.Grace,
		},
		Metrics: container.MetricsConfig{
			Enabled:     c.Metrics.Enabled,
			ServiceName: c.Metrics.ServiceName,
			Environment: c.Metrics.Environment,
		},
	}
}
