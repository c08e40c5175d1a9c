package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/dispatcher"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/application/service"
	"github.com/garyjia/evoucher/internal/application/workflow"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/export"
	"github.com/garyjia/evoucher/internal/infrastructure/external/rates"
	"github.com/garyjia/evoucher/internal/infrastructure/worker"
	"github.com/garyjia/evoucher/internal/observability/metrics"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config     *Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	// Infrastructure
	store        *StoreBundle
	repositories *RepositoryBundle
	locker       port.Locker
	rates        *rates.StaticRates
	resolver     *currency.Resolver
	metrics      *metrics.WorkflowMetrics

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.Engine
	services   *ServiceBundle
	workers    *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Voucher port.VoucherRepository
	History port.HistoryRepository
	Ledger  port.LedgerRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Voucher service.VoucherService
	History service.HistoryReader
	Export  *export.LedgerWorkbook
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures a Container
type Option func(*Container)

// WithRegisterer sets the Prometheus registerer for workflow metrics
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Container) { c.registerer = r }
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config:     cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components:
// 1. Document store and repositories
// 2. Locker, metrics and rates
// 3. Event dispatcher and workflow engine
// 4. Application services
// 5. Background workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize store and repositories
	if err := c.initStore(); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.logger.Info("Store initialized")

	// Step 2: Initialize locker, metrics and rates
	if err := c.initSupport(); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to initialize support components: %w", err)
	}
	c.logger.Info("Locker, metrics and rates initialized")

	// Step 3: Initialize dispatcher and workflow engine
	if err := c.initDispatcherAndWorkflow(); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 4: Initialize application services
	if err := c.initServices(); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Start background workers
	c.workers = ProvideWorkers(&c.config.Audit, c.repositories, c.dispatcher, c.logger.Named("worker"))
	if err := c.workers.StartAll(c.ctx); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Background workers started", zap.Int("count", c.workers.Count()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Drain async event handlers before the store goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.store != nil {
		for _, err := range c.store.close() {
			c.logger.Error("Failed to close store", zap.Error(err))
			errs = append(errs, err)
		}
		c.logger.Info("Store closed")
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// abortStart releases whatever a failed Start already opened. The container
// cannot be started again afterwards.
func (c *Container) abortStart() {
	c.cancel()
	if c.workers != nil {
		_ = c.workers.StopAll()
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
		}
	}
	if c.store != nil {
		for _, err := range c.store.close() {
			c.logger.Error("Failed to close store", zap.Error(err))
		}
	}
	c.store, c.repositories, c.locker = nil, nil, nil
	c.rates, c.resolver, c.metrics = nil, nil, nil
	c.dispatcher, c.workflow, c.services, c.workers = nil, nil, nil, nil
	c.closed.Store(true)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.store == nil {
		set("store", fmt.Errorf("not initialized"))
	} else {
		switch {
		case c.store.DB != nil:
			set("store", c.store.DB.PingContext(ctx))
		case c.store.Redis != nil && c.config.Store.Driver == "redis":
			set("store", c.store.Redis.Ping(ctx).Err())
		default:
			set("store", nil)
		}
	}

	if c.store != nil && c.store.Redis != nil && c.config.Workflow.LockDriver == "redis" {
		set("lock", c.store.Redis.Ping(ctx).Err())
	}

	if c.dispatcher == nil {
		set("dispatcher", fmt.Errorf("not initialized"))
	} else {
		s := c.dispatcher.Stats()
		status.Components["dispatcher"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("delivered=%d failed=%d dropped=%d queued=%d", s.Delivered, s.Failed, s.Dropped, s.Queued),
		}
	}

	if c.workers != nil {
		set("workers", nil)
	}

	if c.workflow == nil {
		set("workflow", fmt.Errorf("not initialized"))
	} else {
		set("workflow", nil)
	}

	return status
}

func (c *Container) initStore() error {
	store, err := ProvideStore(c.config, c.logger)
	if err != nil {
		return err
	}
	c.store = store

	repos, err := ProvideRepositories(store.Store, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initSupport() error {
	locker, err := ProvideLocker(&c.config.Workflow, c.store.Redis, c.config.Redis.Namespace, c.logger.Named("lock"))
	if err != nil {
		return err
	}
	c.locker = locker

	c.metrics = ProvideMetrics(&c.config.Metrics, c.registerer)

	table, resolver, err := ProvideRates(&c.config.Currency, c.metrics)
	if err != nil {
		return err
	}
	c.rates = table
	c.resolver = resolver
	return nil
}

func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(&c.config.Events, c.logger.Named("dispatcher"))
	if err != nil {
		return err
	}
	c.dispatcher = disp

	engine, err := ProvideWorkflowEngine(c.workflowDeps())
	if err != nil {
		return err
	}
	c.workflow = engine
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(c.workflowDeps())
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) workflowDeps() *WorkflowDeps {
	return &WorkflowDeps{
		Repos:      c.repositories,
		Locker:     c.locker,
		Policy:     workflow.NewPolicy(c.config.Workflow.ApproverRoles...),
		Resolver:   c.resolver,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	}
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Rates returns the runtime-updatable rate table.
func (c *Container) Rates() *rates.StaticRates {
	return c.rates
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
