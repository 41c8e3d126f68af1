// Command reconciler runs a reconciliation pass against the warehouse
// and prints the pass report as JSON. Intended for cron-driven batch
// runs and operator one-offs; the web service offers the same passes
// over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"circflow/internal/config"
	"circflow/internal/infrastructure"
	"circflow/internal/operations"
	"circflow/internal/reconcile"
	"circflow/internal/store/mysql"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	stages := flag.String("stages", "", "comma-separated stage IDs to run; empty runs the full pipeline")
	pretty := flag.Bool("pretty", false, "indent the JSON report")
	flag.Parse()

	if err := run(*configPath, *stages, *pretty); err != nil {
		slog.Error("reconciliation_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, stageList string, pretty bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := infrastructure.InitializeLogger(cfg.Logging)

	policy, err := reconcile.NewPolicy(cfg.Policy)
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}

	warehouse, err := mysql.Open(cfg.Database.DSN, logger)
	if err != nil {
		return fmt.Errorf("connect warehouse: %w", err)
	}
	defer warehouse.Close()

	registry := operations.NewRegistry()
	for _, stage := range reconcile.Pipeline(warehouse, policy, cfg.Classification, logger) {
		if err := registry.Register(stage); err != nil {
			return fmt.Errorf("register stage: %w", err)
		}
	}
	manager := operations.NewManager(registry, nil, logger, operations.WithContinueOnError())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.EnsureTraceID(ctx)

	req := operations.PassRequest{}
	if stageList != "" {
		for _, id := range strings.Split(stageList, ",") {
			req.Stages = append(req.Stages, strings.TrimSpace(id))
		}
	}

	resp, passErr := manager.Execute(ctx, req)
	if resp != nil {
		if err := writeReport(resp, pretty); err != nil {
			return err
		}
	}
	return passErr
}

func writeReport(resp *operations.PassResponse, pretty bool) error {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
