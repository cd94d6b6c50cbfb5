// Kestrel - Fraud scoring for commerce orders.
// Copyright (c) 2025 opensource.commerce
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-commerce/kestrel/internal/api"
	"github.com/opensource-commerce/kestrel/internal/bus"
	"github.com/opensource-commerce/kestrel/internal/cache"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/evaluator"
	"github.com/opensource-commerce/kestrel/internal/history"
	"github.com/opensource-commerce/kestrel/internal/notify"
	"github.com/opensource-commerce/kestrel/internal/policy"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/rules"
	"github.com/opensource-commerce/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if url := os.Getenv("KESTREL_NOTIFY_WEBHOOK"); url != "" {
		cfg.Notify.WebhookURL = url
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize order history lookups
	historySvc := history.NewService(repo)
	slog.Info("history service initialized")

	// Initialize Rule Engine
	engine, err := rules.NewEngine(historySvc)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// Load rules from the database, seeding the stock set on first run
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Evaluator and Pipeline
	ev := evaluator.New(repo, engine, cacheImpl)
	notifier := notify.NewWebhookNotifier(cfg.Notify, cacheImpl)
	pipeline := evaluator.NewPipeline(ev, repo, cacheImpl, busImpl, notifier)
	slog.Info("evaluation pipeline initialized",
		"notify_webhook_set", cfg.Notify.WebhookURL != "",
	)

	// Initialize decision threshold service
	policies := policy.NewService(repo)

	// Initialize async Worker for placed-order events
	asyncWorker := worker.NewWorker(busImpl, pipeline)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, ev, pipeline, policies, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRules loads rules from the database into the engine. An empty
// database gets the stock rule set so a fresh install scores orders out
// of the box; everything can be reconfigured via the rules API.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRules(ctx)
	if err != nil {
		return err
	}

	if len(dbRules) == 0 {
		slog.Info("no rules in database - seeding stock rule set")
		dbRules = rules.DefaultRules()
		for _, rule := range dbRules {
			if err := repo.SaveRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
			}
		}
	} else {
		slog.Info("loading rules from database", "count", len(dbRules))
	}

	engine.LoadRules(dbRules)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║      Order Fraud Scoring Engine           ║")
	fmt.Println("  ║      Eyes on every order.                 ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /orders                  - Ingest an order")
	fmt.Println("    GET    /orders/{id}             - Get order by ID")
	fmt.Println("    POST   /orders/{id}/evaluate    - Evaluate an order")
	fmt.Println("    GET    /orders/{id}/suspicion   - Get suspicion record")
	fmt.Println("    DELETE /orders/{id}/suspicion   - Reset suspicion record")
	fmt.Println("    GET    /orders/{id}/score       - Get fraud score")
	fmt.Println("    GET    /orders/{id}/log         - Get activity log")
	fmt.Println("    GET    /rules                   - List all rules")
	fmt.Println("    POST   /rules                   - Create a new rule")
	fmt.Println("    PUT    /rules/{id}              - Update a rule")
	fmt.Println("    POST   /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET    /settings/decision       - Get decision thresholds")
	fmt.Println("    PUT    /settings/decision       - Update decision thresholds")
	fmt.Println("    GET    /health                  - Health check")
	fmt.Println()
}
