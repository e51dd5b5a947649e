package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/api"
	"github.com/sentinelsec/threatmesh/internal/config"
	"github.com/sentinelsec/threatmesh/internal/coordinator"
	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/orchestrator"
	"github.com/sentinelsec/threatmesh/internal/publish"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting ThreatMesh coordination engine",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"max_concurrent_workflows", cfg.MaxConcurrentWorkflows,
		"enrichment_enabled", cfg.EnableEnrichment)

	prometheusMetrics := metrics.New()

	// Connect to NATS when configured; the engine runs standalone without
	// it and skips publishing.
	var publisher coordinator.AlertPublisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Error("Failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		publisher, err = publish.NewNATSPublisher(nc, cfg.AlertSubject, cfg.ReportSubject, cfg.CompressMin, logger)
		if err != nil {
			logger.Error("Failed to create publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("Connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Info("No NATS URL configured, event publishing disabled")
	}

	orch := orchestrator.New(logger)
	orch.Register(agent.NewNetworkMonitor(cfg.AgentWorkers, prometheusMetrics, logger))
	orch.Register(agent.NewBehaviorAnalyzer(cfg.AgentWorkers, cfg.ProfileMaxAge, prometheusMetrics, logger))
	orch.Register(agent.NewThreatIntel(cfg.AgentWorkers, cfg.IntelCacheSize, cfg.IntelCacheTTL, prometheusMetrics, logger))
	orch.Register(agent.NewPatternLearner(cfg.AgentWorkers, cfg.LearnBufferLimit, cfg.LearnFlushInterval, prometheusMetrics, logger))
	orch.Register(agent.NewThreatResponder(cfg.AgentWorkers, prometheusMetrics, logger))
	orch.InitializeAll()

	coord := coordinator.New(cfg, orch, prometheusMetrics, publisher, logger)
	coord.StartSweeper()
	defer coord.StopSweeper()

	httpAPI, err := api.NewHTTPAPI(coord, orch, prometheusMetrics, logger)
	if err != nil {
		logger.Error("Failed to create HTTP API", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpAPI.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.StepTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Agents start after a short delay so the HTTP surface is reachable
	// before workflows are admitted.
	startTimer := time.AfterFunc(cfg.StartupDelay, func() {
		orch.StartAll()
		logger.Info("All agents started", "count", orch.Count())
	})
	defer startTimer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	orch.StopAll()
	logger.Info("ThreatMesh coordination engine stopped")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
