package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressfleet/pressfleet/internal/config"
	"github.com/pressfleet/pressfleet/internal/observability"
	"github.com/pressfleet/pressfleet/internal/server"
	"github.com/pressfleet/pressfleet/pkg/auditlog"
	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/eventbus"
	"github.com/pressfleet/pressfleet/pkg/fleet"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
	"github.com/pressfleet/pressfleet/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator service",
	Long: `Run the orchestrator: the execution engine, the scheduler, the
confirmation sweep and the HTTP API, until interrupted.

Example:
  pressfleet serve
  pressfleet serve --config /etc/pressfleet/pressfleet.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid operation catalog", err)
	}

	if cfg.Fleet.InventoryPath == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing fleet inventory",
			fmt.Errorf("fleet.inventory_path is required for serve"))
	}
	sites, err := fleet.LoadFileRegistry(cfg.Fleet.InventoryPath)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot load fleet inventory", err)
	}

	audit, err := auditlog.Open(ctx, auditlog.Config{Path: cfg.Audit.Path})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot open audit store", err)
	}
	defer func() { _ = audit.Close() }()

	bus := eventbus.New(
		eventbus.WithBufferSize(cfg.Events.BufferSize),
		eventbus.WithLogger(logger))
	defer bus.Close()

	registry := orchestrator.NewRegistry(orchestrator.RegistryConfig{
		MaxAttempts: cfg.Engine.MaxAttempts,
		Bus:         bus,
		Audit:       audit,
		Logger:      logger,
	})

	executors := orchestrator.NewExecutorRegistry()
	if err := registerSiteExecutors(executors, cat); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid executor wiring", err)
	}

	engine := orchestrator.NewEngine(registry, executors, sites, orchestrator.EngineConfig{
		Workers:           cfg.Engine.Workers,
		TimeoutMultiplier: cfg.Engine.TimeoutMultiplier,
		RetryBackoff:      cfg.Engine.RetryBackoff,
		RetryBackoffMax:   cfg.Engine.RetryBackoffMax,
		DispatchRate:      cfg.Engine.DispatchRate,
	}, logger)

	gate := orchestrator.NewGate(registry, orchestrator.GateConfig{
		ConfirmExpiry: cfg.Gate.ConfirmExpiry,
		SweepInterval: cfg.Gate.SweepInterval,
	}, logger)

	svc, err := orchestrator.NewService(orchestrator.ServiceDeps{
		Catalog:  cat,
		Resolver: fleet.NewResolver(sites),
		Registry: registry,
		Engine:   engine,
		Gate:     gate,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot assemble orchestrator", err)
	}

	sched := scheduler.New(svc, bus, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
	}, logger)

	srv := server.New(cfg.Server, server.Deps{
		Service:   svc,
		Scheduler: sched,
		Audit:     audit,
		Logger:    logger,
		Version:   versionInfo.Version,
	})

	logger.Info("starting pressfleet",
		zap.String("version", versionInfo.Version),
		zap.Int("operations", cat.Len()),
		zap.String("inventory", cfg.Fleet.InventoryPath),
		zap.Int("workers", cfg.Engine.Workers),
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(foundry.ExitExternalServiceUnavailable, "Service failed", err)
	}

	logger.Info("pressfleet stopped")
	return nil
}

// loadCatalog returns the configured catalog file or the built-in defaults.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(cfg.Catalog.Path)
	}
	return catalog.Default(), nil
}
