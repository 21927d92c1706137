// fraudsim - E-commerce fraud simulation and detection-evasion service.
// Copyright (c) 2025 opensource.finance
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

	"github.com/opensource-finance/fraudsim/internal/api"
	"github.com/opensource-finance/fraudsim/internal/audit"
	"github.com/opensource-finance/fraudsim/internal/bus"
	"github.com/opensource-finance/fraudsim/internal/cache"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/evasion"
	"github.com/opensource-finance/fraudsim/internal/pattern"
	"github.com/opensource-finance/fraudsim/internal/perturb"
	"github.com/opensource-finance/fraudsim/internal/repository"
	"github.com/opensource-finance/fraudsim/internal/rules"
	"github.com/opensource-finance/fraudsim/internal/scoring"
	"github.com/opensource-finance/fraudsim/internal/velocity"
	"github.com/opensource-finance/fraudsim/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting fraudsim",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scorer", cfg.Scoring.Engine,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp := newTracerProvider(cfg.Tracing)
	if sdkTP, ok := tp.(*sdktrace.TracerProvider); ok {
		otel.SetTracerProvider(sdkTP)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := sdkTP.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shut down tracer provider", "error", err)
			}
		}()
		slog.Info("tracing enabled", "service_name", cfg.Tracing.ServiceName)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized",
		"type", cacheImpl.Kind(),
		"report_ttl", cacheImpl.TTL(domain.NamespaceReport),
		"evasion_ttl", cacheImpl.TTL(domain.NamespaceEvasion),
		"velocity_window", cacheImpl.TTL(domain.NamespaceVelocity),
	)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// The CEL engine always backs the rule API; it scores only when selected.
	engine, err := rules.NewEngineFromConfig(cfg.Scoring, cfg.Search.Workers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := syncRules(ctx, repo, engine); err != nil {
		slog.Error("failed to sync rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	scorer, err := selectScorer(cfg.Scoring, engine)
	if err != nil {
		slog.Error("failed to select scorer", "error", err)
		os.Exit(1)
	}

	registry, err := perturb.NewDefaultRegistry(cfg.Perturb)
	if err != nil {
		slog.Error("failed to initialize perturbation operators", "error", err)
		os.Exit(1)
	}

	tagger := pattern.New(cfg.Scoring)
	pipeline := &worker.Pipeline{
		Scorer:    scorer,
		Tagger:    tagger,
		Threshold: cfg.Scoring.DetectionThreshold,
		Repo:      repo,
		Bus:       busImpl,
		Velocity:  velocity.NewService(repo, cacheImpl, cacheImpl.TTL(domain.NamespaceVelocity)),
	}

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, pipeline)
		if err := asyncWorker.Start(worker.Config{}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:             repo,
		Cache:            cacheImpl,
		Bus:              busImpl,
		Scorer:           scorer,
		Rules:            engine,
		Tagger:           tagger,
		Evasion:          evasion.FromConfig(registry, cfg.Search),
		Auditor:          audit.FromConfig(scorer, cfg),
		Pipeline:         pipeline,
		AsyncIngest:      cfg.AsyncWorker,
		MaxAttempts:      cfg.Search.MaxAttempts,
		MaxAttemptsLimit: cfg.Search.MaxAttemptsLimit,
		Version:          Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudsim is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudsim shutdown complete")
}

// syncRules makes the database the source of truth for CEL rules. An empty
// database is seeded with the engine's startup rules so that reloads keep them.
func syncRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.ReloadRules(dbRules)
	}

	for _, rule := range engine.GetLoadedRules() {
		if err := repo.SaveRuleConfig(ctx, api.GlobalTenantID, rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	slog.Info("seeded rules into database", "count", engine.RulesCount())
	return nil
}

// newTracerProvider returns an SDK provider when tracing is enabled, so that
// spans carry real trace IDs, and the global no-op provider otherwise.
func newTracerProvider(cfg domain.TracingConfig) trace.TracerProvider {
	if !cfg.Enabled {
		return otel.GetTracerProvider()
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", Version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
}

func selectScorer(cfg domain.ScoringConfig, engine *rules.Engine) (scoring.Scorer, error) {
	switch cfg.Engine {
	case "", domain.ScorerHeuristic:
		return scoring.NewHeuristic(cfg), nil
	case domain.ScorerCEL:
		return engine, nil
	default:
		return nil, domain.ValidateChoice("scorer", cfg.Engine, []string{domain.ScorerHeuristic, domain.ScorerCEL})
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  fraudsim - fraud simulation and detection evasion")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Scorer:   %s\n", cfg.Scoring.Engine)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score             - Score an order")
	fmt.Println("    POST /tag               - Tag an order")
	fmt.Println("    POST /optimize          - Search for a lower-scoring variant")
	fmt.Println("    POST /audit             - Audit a batch of orders and reviews")
	fmt.Println("    GET  /reports/{id}      - Get an audit report")
	fmt.Println("    GET  /evasions/{id}     - Get an evasion run")
	fmt.Println("    POST /orders            - Ingest an order")
	fmt.Println("    GET  /orders/{id}       - Get an order")
	fmt.Println("    GET  /rules             - List CEL rules")
	fmt.Println("    POST /rules             - Create a CEL rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
