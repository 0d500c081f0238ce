// Kestrel - Real-time fraud scoring that deploys in 60 seconds.
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
	"github.com/opensource-finance/kestrel/internal/worker"
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

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Load model artifacts; fall back to the bundled demo model when the
	// configured files are absent so a bare checkout still serves traffic.
	normalizer, cls := loadModels(cfg.Scoring)

	// Compile screening rules
	screener, err := screen.NewScreener(cfg.Scoring.ScreeningRules)
	if err != nil {
		slog.Error("failed to compile screening rules", "error", err)
		os.Exit(1)
	}
	slog.Info("screening rules compiled", "count", screener.RuleCount())

	// Initialize Metrics + Alerting
	collector := metrics.NewCollector()
	evaluator := metrics.NewAlertEvaluator(cfg.Alerting.FraudRateThreshold)

	// Initialize Decision Engine
	eng, err := engine.New(engine.Config{
		Threshold:         cfg.Scoring.Threshold,
		ClassifierTimeout: cfg.Scoring.ClassifierTimeout,
		BatchWorkers:      cfg.Scoring.BatchWorkers,
	}, feature.NewExtractor(cfg.Scoring.TypeCodes, cfg.Scoring.HighRiskLocations),
		normalizer, cls, screener, historySvc, cacheImpl, collector)
	if err != nil {
		slog.Error("failed to initialize decision engine", "error", err)
		os.Exit(1)
	}
	slog.Info("decision engine initialized",
		"threshold", eng.Threshold(),
		"model_version", eng.ModelVersion(),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng, historySvc, evaluator, worker.Config{
			AlertCheckInterval: cfg.Alerting.CheckInterval,
		})
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, evaluator, Version)

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

	slog.Info("kestrel shutdown complete")
}

// loadModels loads the fitted normalization model and classifier weights,
// falling back to the bundled demo model per artifact.
func loadModels(cfg domain.ScoringConfig) (*feature.Normalizer, domain.Classifier) {
	model, err := classifier.LoadNormalizationModel(cfg.NormalizationModelPath)
	if err != nil {
		slog.Warn("normalization model not loaded, using demo model",
			"path", cfg.NormalizationModelPath,
			"error", err,
		)
		model = demoNormalizationModel()
	}

	normalizer, err := feature.NewNormalizer(model)
	if err != nil {
		slog.Error("invalid normalization model", "error", err)
		os.Exit(1)
	}

	var cls domain.Classifier
	logistic, err := classifier.LoadLogistic(cfg.ClassifierModelPath)
	if err != nil {
		slog.Warn("classifier weights not loaded, using demo classifier",
			"path", cfg.ClassifierModelPath,
			"error", err,
		)
		cls = demoLogistic()
	} else {
		cls = logistic
	}

	slog.Info("models loaded", "normalizer_version", model.Version)
	return normalizer, cls
}

// demoNormalizationModel approximates the training distribution of the
// bundled demo classifier. Not for production use.
func demoNormalizationModel() *domain.NormalizationModel {
	return &domain.NormalizationModel{
		Version:  "demo-2025-01",
		Features: feature.ModelFeatureOrder,
		Means:    []float64{120.0, 4.2, 1.5, 6.0, 0.6, 13.5, 0.29, 0.8},
		Scales:   []float64{240.0, 1.4, 1.8, 5.5, 0.49, 6.3, 0.45, 1.1},
	}
}

func demoLogistic() domain.Classifier {
	cls, err := classifier.NewLogistic("demo-2025-01",
		[]float64{0.9, 0.4, 0.7, 0.5, -0.8, 0.3, 0.2, 1.1}, -2.0)
	if err != nil {
		slog.Error("failed to build demo classifier", "error", err)
		os.Exit(1)
	}
	return cls
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║       Real-Time Fraud Scoring Engine      ║")
	fmt.Println("  ║        Every transaction, scored.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict           - Score a transaction")
	fmt.Println("    POST /predict/batch     - Score a batch of transactions")
	fmt.Println("    GET  /predictions/{id}  - Get prediction by transaction ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /metrics/summary   - Metrics snapshot")
	fmt.Println("    GET  /alerts            - Detection-rate alerts")
	fmt.Println("    PUT  /threshold         - Update decision threshold")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
