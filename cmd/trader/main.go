// Oracle Trader — an online trading runtime that drives pre-trained decision
// models against a live brokerage.
//
// Architecture:
//
//	main.go              — entry point: flags, config, logging, signal handling
//	engine/engine.go     — orchestrator: bootstrap order, background loops, control commands
//	predictor/           — model bundles, feature pipeline, regime classifier, policy, virtual twin
//	executor/            — signal→order sync logic, risk gate, USD→price stop conversion
//	paper/               — shadow trader replaying every signal at frozen training costs
//	broker/              — length-prefixed binary protocol client, adapter, mock
//	market/              — candle synthesis from spot events
//	store/               — Supabase persistence, session lifecycle, local state files
//	hub/                 — telemetry/control websocket uplink
//	health/              — per-symbol liveness, memory, and backlog probes
package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"oracle-trader/internal/broker"
	"oracle-trader/internal/config"
	"oracle-trader/internal/engine"
	"oracle-trader/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	logLevel := flag.String("log-level", "", "override logging.level (debug, info, warn, error)")
	dryRun := flag.Bool("dry-run", false, "use the mock broker regardless of config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Broker.Type = "mock"
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	connector, err := buildConnector(cfg, logger)
	if err != nil {
		logger.Error("failed to build broker connector", "error", err)
		os.Exit(1)
	}

	eng := engine.New(cfg, *cfgPath, connector, logger)
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Broker.Type == "mock" {
		logger.Warn("DRY-RUN MODE — mock broker, no real orders will be placed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Watchdog: if a broker call hangs during shutdown, exit anyway.
	go func() {
		time.Sleep(5 * time.Second)
		logger.Error("shutdown timeout, forcing exit")
		os.Exit(1)
	}()

	eng.Stop(store.EndNormal)
}

// buildConnector selects the broker implementation from config. The mock
// carries no symbols; it only makes sense together with cached warmup data
// or tests, but it keeps the full pipeline runnable offline.
func buildConnector(cfg *config.Config, logger *slog.Logger) (broker.Connector, error) {
	if cfg.Broker.Type == "mock" {
		return broker.NewMock(), nil
	}

	host := broker.DemoHost
	if cfg.Broker.Environment == "live" {
		host = broker.LiveHost
	}
	client := broker.NewClient(host, broker.DefaultPort, nil, logger)
	return broker.NewAdapter(client, broker.Credentials{
		ClientID:     cfg.Broker.ClientID,
		ClientSecret: cfg.Broker.ClientSecret,
		AccessToken:  cfg.Broker.AccessToken,
		RefreshToken: cfg.Broker.RefreshToken,
		AccountID:    cfg.Broker.AccountID,
	}, logger), nil
}

func setupLogger(lc config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeLog := func() {}

	if lc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(lc.LogFile), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closeLog = func() { f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLogLevel(lc.Level)})
	return slog.New(handler), closeLog, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
