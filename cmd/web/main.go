// Command web serves the reconciliation engine over HTTP: pass
// lifecycle under /api/operations, equilibrium quality reports under
// /api/reports, progress streaming over /ws, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"circflow/internal/config"
	"circflow/internal/infrastructure"
	"circflow/internal/operations"
	"circflow/internal/reconcile"
	"circflow/internal/store/mysql"
	transport "circflow/internal/transport/http"
	"circflow/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := infrastructure.InitializeLogger(cfg.Logging)

	shutdownTracing, err := infrastructure.InitializeTracing(infrastructure.DefaultTracingConfig(), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	policy, err := reconcile.NewPolicy(cfg.Policy)
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}

	warehouse, err := mysql.Open(cfg.Database.DSN, logger)
	if err != nil {
		return fmt.Errorf("connect warehouse: %w", err)
	}
	defer warehouse.Close()

	hub := websocket.NewHub(logger)
	hub.Start()

	metrics := infrastructure.NewMetrics()

	registry := operations.NewRegistry()
	validator := reconcile.NewValidator(warehouse, policy, logger)
	for _, stage := range reconcile.Pipeline(warehouse, policy, cfg.Classification, logger) {
		if err := registry.Register(stage); err != nil {
			return fmt.Errorf("register stage: %w", err)
		}
	}
	manager := operations.NewManager(registry, hub, logger, operations.WithMetrics(metrics))

	router := transport.NewRouter(transport.RouterDeps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Service:   manager,
		Scorer:    validator,
		Warehouse: warehouse,
		Hub:       hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server_listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				manager.Broadcaster().Cleanup(24 * time.Hour)
				if pruned := manager.PruneHistory(24 * time.Hour); pruned > 0 {
					logger.Info("pass_history_pruned", slog.Int("passes", pruned))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		hub.Stop()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing_shutdown_failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}
