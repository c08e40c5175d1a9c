package container

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/dispatcher"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/application/service"
	"github.com/garyjia/evoucher/internal/application/workflow"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/export"
	"github.com/garyjia/evoucher/internal/infrastructure/external/rates"
	"github.com/garyjia/evoucher/internal/infrastructure/lock"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/kv"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/repository"
	"github.com/garyjia/evoucher/internal/infrastructure/worker"
	"github.com/garyjia/evoucher/internal/notification"
	"github.com/garyjia/evoucher/internal/observability/metrics"
	"github.com/garyjia/evoucher/pkg/database"
	"github.com/garyjia/evoucher/pkg/utils"
)

// StoreBundle holds the document store and whatever must be closed with it.
type StoreBundle struct {
	Store port.DocumentStore
	DB    *database.DB
	Redis redis.UniversalClient
}

// ProvideStore opens the configured document store. Redis is connected
// when either the store or the lock needs it.
func ProvideStore(cfg *Config, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &StoreBundle{}
	if cfg.Store.Driver == "redis" || cfg.Workflow.LockDriver == "redis" {
		client, err := ProvideRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		bundle.Redis = client
	}

	switch cfg.Store.Driver {
	case "memory":
		bundle.Store = kv.NewMemoryStore()

	case "sqlite":
		db, err := database.New(database.Config{
			Path:            cfg.Store.SQLitePath,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		}, logger)
		if err != nil {
			bundle.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		bundle.DB = db

		store, err := kv.NewSQLiteStore(db, logger)
		if err != nil {
			bundle.close()
			return nil, fmt.Errorf("failed to prepare sqlite store: %w", err)
		}
		bundle.Store = store

	case "redis":
		bundle.Store = kv.NewRedisStore(bundle.Redis, cfg.Redis.Namespace)

	default:
		bundle.close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	logger.Info("Document store ready", zap.String("driver", cfg.Store.Driver))
	return bundle, nil
}

// ProvideRedis connects to Redis and verifies the connection.
func ProvideRedis(cfg *RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (b *StoreBundle) close() []error {
	var errs []error
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errs
}

// ProvideRepositories creates all repositories over a document store.
func ProvideRepositories(store port.DocumentStore, logger *zap.Logger) (*RepositoryBundle, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Voucher: repository.NewVoucherRepository(store, logger),
		History: repository.NewHistoryRepository(store, logger),
		Ledger:  repository.NewLedgerRepository(store, logger),
	}, nil
}

// ProvideLocker creates the per-document lock.
func ProvideLocker(cfg *WorkflowConfig, client redis.UniversalClient, namespace string, logger *zap.Logger) (port.Locker, error) {
	switch cfg.LockDriver {
	case "", "local":
		return lock.NewKeyedMutex(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis lock requires a redis client")
		}
		return lock.NewRedisLocker(client, namespace+":lock:", cfg.LockTTL, logger), nil
	}
	return nil, fmt.Errorf("unknown lock driver %q", cfg.LockDriver)
}

// ProvideMetrics registers workflow metrics, or returns nil when disabled.
func ProvideMetrics(cfg *MetricsConfig, registerer prometheus.Registerer) *metrics.WorkflowMetrics {
	if !cfg.Enabled || registerer == nil {
		return nil
	}
	return metrics.New(registerer, metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
}

// ProvideRates creates the rate table and the resolver reading from it.
func ProvideRates(cfg *CurrencyConfig, m *metrics.WorkflowMetrics) (*rates.StaticRates, *currency.Resolver, error) {
	table, err := rates.NewStaticRates(cfg.StaticRates)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load static rates: %w", err)
	}

	opts := []currency.ResolverOption{currency.WithTimeout(cfg.RateTimeout)}
	if m != nil {
		opts = append(opts, currency.WithObserver(m))
	}
	return table, currency.NewResolver(table, opts...), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *EventsConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger)),
		dispatcher.WithQueue(cfg.QueueSize, cfg.Workers),
		dispatcher.WithRetry(cfg.RetryAttempts, cfg.RetryBackoff),
	), nil
}

// WorkflowDeps holds dependencies for the workflow engine and services.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Locker     port.Locker
	Policy     *workflow.Policy
	Resolver   *currency.Resolver
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.WorkflowMetrics
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and registers the
// notifier on the dispatcher.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("locker is required")
	}

	engine := workflow.NewEngine(
		deps.Repos.Voucher,
		deps.Repos.History,
		deps.Repos.Ledger,
		workflow.WithLocker(deps.Locker),
		workflow.WithPolicy(deps.Policy),
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithLogger(deps.Logger.Named("workflow")),
	)

	if deps.Dispatcher != nil {
		notification.NewLedgerNotifier(nil, deps.Logger.Named("notification")).Register(deps.Dispatcher)
	}
	return engine, nil
}

// ProvideServices creates the application services.
func ProvideServices(deps *WorkflowDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("currency resolver is required")
	}

	return &ServiceBundle{
		Voucher: service.NewVoucherService(
			deps.Repos.Voucher,
			deps.Resolver,
			deps.Locker,
			service.WithServiceDispatcher(deps.Dispatcher),
			service.WithServicePolicy(deps.Policy),
			service.WithServiceLogger(utils.NewKVLogger(deps.Logger.Named("service"))),
		),
		History: service.NewHistoryReader(deps.Repos.Voucher, deps.Repos.History),
		Export:  export.NewLedgerWorkbook(deps.Logger.Named("export")),
	}, nil
}

// ProvideWorkers builds the background worker manager. The ledger audit is
// registered only when enabled.
func ProvideWorkers(cfg *AuditConfig, repos *RepositoryBundle, disp dispatcher.Dispatcher, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger)
	if cfg.Enabled {
		manager.Register(worker.NewLedgerAudit(worker.LedgerAuditConfig{
			Interval: cfg.Interval,
			Grace:    cfg.Grace,
		}, repos.Ledger, repos.Voucher, disp, logger.Named("ledger-audit")))
	}
	return manager
}
