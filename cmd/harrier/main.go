// Harrier - Real-time fraud scoring for payment transactions.
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
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/harrier/internal/agent"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ensemble"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/geo"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/llm"
	"github.com/opensource-finance/harrier/internal/models"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/spike"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"mode", cfg.Scoring.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"llm", cfg.LLM.Enabled(),
		"auth", cfg.Auth.Enabled(),
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

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
	var repo domain.Repository
	if cfg.Repository.Driver != "none" {
		sqlRepo, err := repository.New(cfg.Repository)
		if err != nil {
			slog.Error("failed to initialize repository", "error", err)
			os.Exit(1)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	} else {
		slog.Info("repository disabled, history comes from requests only")
	}

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the Model Artifact Store
	store, err := models.LoadStore(cfg.Models.ArtifactDir, cfg.Models.Manifest)
	if err != nil {
		slog.Error("failed to load model artifacts", "dir", cfg.Models.ArtifactDir, "error", err)
		os.Exit(1)
	}
	bank, err := models.NewBankFromStore(store)
	if err != nil {
		slog.Error("failed to build model bank", "error", err)
		os.Exit(1)
	}
	slog.Info("model artifacts loaded",
		"version", bank.Version(),
		"scorers", strings.Join(bank.ScorerNames(), ","),
	)

	// LLM gateway, shared by the geofeasibility check and the agent
	var completer llm.Completer
	if cfg.LLM.Enabled() {
		tokens := llm.NewTokenManager(cfg.LLM, llm.WithSharedCache(cacheImpl))
		completer = llm.NewClient(cfg.LLM.APIURL, tokens, &http.Client{Timeout: cfg.LLM.RequestTimeout})
		slog.Info("LLM gateway configured", "api", cfg.LLM.APIURL)
	} else {
		slog.Warn("LLM gateway not configured, geofeasibility contributes 0")
	}

	hist := history.NewService(repo, cfg.Scoring.HistoryLimit)

	combiner, err := ensemble.NewCombiner(cfg.Scoring.Mode, cfg.Scoring.Weights)
	if err != nil {
		slog.Error("failed to initialize risk combiner", "error", err)
		os.Exit(1)
	}

	var checker *geo.Checker
	if completer != nil {
		checker = geo.NewChecker(completer, cfg.Scoring.GeoTimeout, cfg.Scoring.GeoHistoryLimit,
			geo.WithVerdictMemo(cacheImpl, cfg.Scoring.GeoVerdictTTL))
	}

	assessor, err := pipeline.NewAssessor(pipeline.Config{
		Preparer: features.NewPreparer(store.Vocabulary()),
		Bank:     bank,
		Analyzer: spike.NewAnalyzer(0),
		Checker:  checker,
		History:  hist,
		Combiner: combiner,
	})
	if err != nil {
		slog.Error("failed to initialize assessor", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring core initialized", "mode", combiner.Mode(), "weights", combiner.Weights())

	// Alert policy for async assessments
	alertPolicy, err := policy.New(cfg.Policy.AlertExpression)
	if err != nil {
		slog.Error("failed to compile alert policy", "error", err)
		os.Exit(1)
	}
	slog.Info("alert policy compiled", "expression", alertPolicy.Expression())

	// Support agent
	var supportAgent *agent.Agent
	if completer != nil {
		var tools []agent.Tool
		if cfg.Agent.BaseURL != "" {
			tools = agent.BackOfficeTools(cfg.Agent.BaseURL, cfg.Agent.ToolTimeout)
		}
		sessions := agent.NewSessionStore(cacheImpl, cfg.Agent.SessionTTL)
		supportAgent = agent.New(completer, agent.NewRegistry(tools...), sessions, cfg.Agent.RecursionLimit)
		slog.Info("support agent initialized", "tools", len(tools))
	}

	// Async worker consumes /predict/async submissions on every tier
	asyncWorker := worker.NewWorker(busImpl, assessor, hist, alertPolicy)
	if err := asyncWorker.Start(worker.Config{WorkerCount: worker.DefaultWorkerCount}); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg, api.Deps{
		Assessor: assessor,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Agent:    supportAgent,
		Version:  Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version, bank.Version())

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the worker
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version, artifacts string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║      Real-time Fraud Scoring Engine       ║")
	fmt.Println("  ║     Five models, one percentage.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:   %s\n", version)
	fmt.Printf("  Artifacts: %s\n", artifacts)
	fmt.Printf("  Tier:      %s\n", cfg.Tier)
	fmt.Printf("  Mode:      %s\n", cfg.Scoring.Mode)
	fmt.Printf("  Server:    http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict           - Score a transaction")
	fmt.Println("    POST /predict/batch     - Score a batch of transactions")
	fmt.Println("    POST /predict/async     - Queue a transaction for scoring")
	fmt.Println("    GET  /assessments/{id}  - Get assessment by ID")
	fmt.Println("    POST /agent/invoke      - Ask the support agent")
	if cfg.DebugEndpoints {
		fmt.Println("    POST /debug/preprocess  - Inspect prepared feature vectors")
	}
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
