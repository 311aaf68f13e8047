// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command plannerd starts the seriessync planner API server.
//
// The planner turns declarative series queries into minimal fetch plans,
// executes them against provider gateways, and repeats until the local
// cache covers every query:
//   - Per-date cache coverage with maturity-based freshness
//   - Minimal contiguous fetch windows per query
//   - Idempotent converge loop with bounded iterations
//
// Usage:
//
//	go run ./cmd/plannerd
//	go run ./cmd/plannerd -config planner.yaml
//	go run ./cmd/plannerd -debug
//
// Configuration layers: built-in defaults, then the YAML file, then
// SERIESSYNC_* environment variables. See services/planner/config.
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8095/v1/planner/health
//
//	# Compile a plan without executing it
//	curl -X POST http://localhost:8095/v1/planner/plan \
//	  -H "Content-Type: application/json" \
//	  -d '{"queries": [{"item_key": "github.stars", "range": "last-90d"}]}'
//
//	# Plan, execute, and verify until the cache converges
//	curl -X POST http://localhost:8095/v1/planner/converge \
//	  -H "Content-Type: application/json" \
//	  -d '{"queries": [{"item_key": "github.stars", "range": "last-90d"}]}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/graphsheet/seriessync/pkg/logging"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/config"
	"github.com/graphsheet/seriessync/services/planner/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to the planner YAML config")
	listenAddr := flag.String("listen", "", "Listen address override (host:port)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (stderr only when empty)")
	flag.Parse()

	if err := run(*configPath, *listenAddr, *debug, *logDir); err != nil {
		fmt.Fprintln(os.Stderr, "plannerd:", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string, debug bool, logDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if debug {
		cfg.Server.Mode = "debug"
	}
	gin.SetMode(cfg.Server.Mode)

	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "plannerd",
		JSON:    !debug,
	})
	defer func() { _ = logger.Close() }()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := planner.NewService(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("Service close failed", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	planner.RegisterRoutes(v1, planner.NewHandlers(svc))

	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}

	printBanner(cfg.Server.ListenAddr, cfg.Storage.Backend)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting planner server", "address", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	// In-flight requests get the grace window, then the listener dies.
	log.Info("Shutting down planner server", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func printBanner(addr, backend string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     SERIESSYNC PLANNER SERVER                     ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Declarative fetch planning over date-indexed series caches.      ║
║  Listening on: %-40s   ║
║  Storage backend: %-37s   ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:8095/v1/planner/health                │  ║
║  │                                                             │  ║
║  │ # Compile a fetch plan                                      │  ║
║  │ curl -X POST http://localhost:8095/v1/planner/plan \        │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"queries":[{"item_key":"github.stars",               │  ║
║  │        "range":"last-90d"}]}'                               │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Introspection: /health, /registry                            ║
║  ├── Planning: /plan, /plan/explain                               ║
║  └── Execution: /execute, /converge, /converge/ws                 ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, addr, backend)
}
