// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner assembles the fetch planning engine into an HTTP service.
//
// The service exposes endpoints for:
//   - Compiling fetch plans from declarative chart queries
//   - Explaining per-item coverage decisions
//   - Executing compiled plans against the upstream gateway
//   - Driving plan/execute rounds to convergence
//
// One Config wires the whole stack: partition registry, cache store,
// coverage classifier, plan builder, executor, converge driver, and the
// optional report archive.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/graphsheet/seriessync/services/planner/archive"
	"github.com/graphsheet/seriessync/services/planner/config"
	"github.com/graphsheet/seriessync/services/planner/converge"
	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/plan"
	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/storage"
	"github.com/graphsheet/seriessync/services/planner/storage/badgerstore"
	"github.com/graphsheet/seriessync/services/planner/storage/influxstore"
	"github.com/graphsheet/seriessync/services/planner/transport"
)

// archiveTimeout bounds the background report upload.
const archiveTimeout = 30 * time.Second

// Service owns the planning stack for one deployment.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Plan builds read a consistent cache
//	snapshot per item; merges are slot upserts, so concurrent converge runs
//	interleave without corrupting entries.
type Service struct {
	cfg      *config.Config
	registry *registry.Static
	store    storage.Store
	builder  *plan.Builder
	executor *executor.Executor
	driver   *converge.Driver
	archiver *archive.Archiver
	log      *slog.Logger

	closers []func() error
}

// NewService wires a service from its configuration.
//
// Description:
//
//	Opens the configured cache backend, loads the partition registry
//	(optionally with a hot-reload watcher), and builds the planning
//	pipeline on top. On any failure everything already opened is closed
//	before the error returns.
//
// Inputs:
//
//	ctx - Context for backend client construction
//	cfg - Validated service configuration
//	log - Base logger; nil means slog.Default()
//
// Outputs:
//
//	*Service - The ready service; callers own Close
//	error - Non-nil if a backend or the registry cannot be opened
func NewService(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("planner: nil config")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{cfg: cfg, log: log}

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("planner: open %s store: %w", cfg.Storage.Backend, err)
	}
	s.store = store
	if closeStore != nil {
		s.closers = append(s.closers, closeStore)
	}

	reg, err := loadRegistry(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.registry = reg

	if cfg.Registry.Watch {
		watcher, werr := registry.WatchFile(reg, cfg.Registry.Path, log)
		if werr != nil {
			_ = s.Close()
			return nil, fmt.Errorf("planner: watch registry: %w", werr)
		}
		watcher.Start()
		s.closers = append(s.closers, func() error {
			watcher.Stop()
			return nil
		})
	}

	classifier := coverage.NewClassifier(coverage.NewProver(reg), cfg.Maturity, log)
	resolver := transport.NewStaticResolver(cfg.Transport.Rules...)
	gateway := transport.NewGateway(nil, resolver, cfg.Transport.Token(), cfg.Transport.Gateway, log)

	s.builder = plan.NewBuilder(store, classifier, resolver, plan.BuilderConfig{Log: log})
	s.executor = executor.New(store, gateway, log)
	s.driver = converge.NewDriver(reg, s.builder, s.executor, log)

	if cfg.Archive.Enabled {
		arc, aerr := archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			CredentialsFile: cfg.Archive.CredentialsFile,
		}, log)
		if aerr != nil {
			_ = s.Close()
			return nil, aerr
		}
		s.archiver = arc
		s.closers = append(s.closers, arc.Close)
	}

	log.Info("Planner service ready",
		"backend", cfg.Storage.Backend,
		"partitions", len(reg.Keys()),
		"registry_watch", cfg.Registry.Watch,
		"archive", cfg.Archive.Enabled)

	return s, nil
}

// openStore picks the cache backend. The memory backend is the map-backed
// reference store; it keeps development and tests free of on-disk state.
func openStore(cfg *config.Config, log *slog.Logger) (storage.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil, nil
	case "badger":
		st, err := badgerstore.Open(cfg.Storage.Badger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "influx":
		st, err := influxstore.New(cfg.Storage.Influx, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Storage.Backend)
	}
}

// loadRegistry loads partitions from the configured file, or starts empty
// when no file is named. An empty registry only degrades cohort queries;
// window queries never consult it.
func loadRegistry(cfg *config.Config) (*registry.Static, error) {
	if cfg.Registry.Path == "" {
		return registry.NewStatic()
	}
	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("planner: load registry: %w", err)
	}
	return reg, nil
}

// BuildPlan normalizes the queries and compiles a plan against the current
// cache snapshot. The plan is a pure description; nothing is fetched.
func (s *Service) BuildPlan(ctx context.Context, queries []intent.RawQuery, now time.Time) (*plan.Plan, error) {
	intents, err := intent.NormalizeAll(ctx, queries, now, s.registry)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, intents, now)
}

// Execute runs a previously compiled plan. A zero concurrency falls back to
// the configured default.
func (s *Service) Execute(ctx context.Context, p *plan.Plan, opts executor.Options) (*executor.Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.cfg.Executor.Concurrency
	}
	return s.executor.Execute(ctx, p, opts)
}

// Converge drives plan/execute rounds until no fetch work remains, then
// archives the run report when an archive is configured. Archival is
// best-effort and asynchronous; it never delays or fails the response.
func (s *Service) Converge(ctx context.Context, queries []intent.RawQuery, now time.Time, opts converge.Options) (*converge.Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.cfg.Executor.Concurrency
	}
	report, err := s.driver.Run(ctx, queries, now, opts)
	if report != nil && s.archiver != nil && !report.DryRun {
		go s.archiveReport(report)
	}
	return report, err
}

// archiveReport uploads on its own context: the run that produced the
// report is finished, and its context may already be cancelled.
func (s *Service) archiveReport(report *converge.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archiver.Put(ctx, report); err != nil {
		s.log.Warn("Report archive failed", "run_id", report.RunID, "error", err)
	}
}

// Partitions returns the registry's current partition definitions.
func (s *Service) Partitions() []registry.Partition {
	return s.registry.Snapshot()
}

// Close releases the store, the registry watcher, and the archiver, in
// reverse construction order. Safe to call after a failed construction.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
