package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/workflow"
	"github.com/garyjia/evoucher/internal/config"
	"github.com/garyjia/evoucher/internal/container"
	httpapi "github.com/garyjia/evoucher/internal/interfaces/http"
	"github.com/garyjia/evoucher/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("EVOUCHER_CONFIG"), "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting E-Voucher service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("lock", cfg.Workflow.LockDriver))

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger, container.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	deps := httpapi.Deps{
		Engine:    c.WorkflowEngine(),
		Vouchers:  c.Services().Voucher,
		History:   c.Services().History,
		Ledger:    c.Repositories().Ledger,
		Export:    c.Services().Export,
		Rates:     c.Rates(),
		Approvers: workflow.NewPolicy(cfg.Workflow.ApproverRoles...),
		Health: func(ctx context.Context) (bool, interface{}) {
			h := c.Health(ctx)
			return h.Overall, h.Components
		},
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Mode:            cfg.Server.Mode,
		MetricsPath:     cfg.Metrics.Path,
	}, deps, utils.NewKVLogger(logger.Named("http")))

	// Start blocks until ctx is cancelled, then shuts the listener down
	return server.Start(ctx)
}
