// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package converge drives plan/execute rounds until the cache covers the
// submitted queries.
//
// Each iteration rebuilds the plan from the live cache, so progress is
// measured, never assumed: a window that fetched but produced no coverage
// shows up again in the next plan. The loop stops when the plan has no
// actionable fetch work, or when the iteration or time budget runs out.
// Items that failed terminally stop being actionable for the rest of the
// run and surface in the attention summary instead.
package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/plan"
	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/telemetry"
)

var convergeTracer = otel.Tracer("graphsheet.planner.converge")

// DefaultMaxIterations bounds runs whose callers do not.
const DefaultMaxIterations = 5

// StopReason says why a run ended.
type StopReason string

const (
	// StopConverged: a plan build found no actionable fetch work.
	StopConverged StopReason = "converged"

	// StopMaxIterations: fetch work remained after the last allowed round.
	StopMaxIterations StopReason = "max-iterations"

	// StopBudget: the run's time budget expired.
	StopBudget StopReason = "budget-exhausted"

	// StopCancelled: the caller's context was cancelled.
	StopCancelled StopReason = "cancelled"

	// StopDryRun: a dry run stops after its single preview iteration.
	StopDryRun StopReason = "dry-run"

	// StopError: normalization or planning failed outright.
	StopError StopReason = "error"
)

// Attention kinds flag items an operator has to look at.
const (
	AttentionUnfetchable = "unfetchable"
	AttentionTerminal    = "failed-terminal"
	AttentionUnconverged = "unconverged"
)

// Options tune one convergence run.
type Options struct {
	// MaxIterations caps plan/execute rounds; zero means the default.
	MaxIterations int

	// Budget bounds the run's wall time; zero means unbounded.
	Budget time.Duration

	// DryRun previews the first plan without fetching or writing.
	DryRun bool

	// Concurrency is handed to the executor per iteration.
	Concurrency int

	// OnEvent receives executor progress events across all iterations.
	OnEvent func(executor.Event)
}

// Iteration records one plan/execute round.
type Iteration struct {
	Index           int           `json:"index"`
	PlanFingerprint string        `json:"plan_fingerprint"`
	FetchItems      int           `json:"fetch_items"`
	ActiveItems     int           `json:"active_items"`
	Windows         int           `json:"windows"`
	Succeeded       int           `json:"succeeded,omitempty"`
	Transient       int           `json:"transient,omitempty"`
	Terminal        int           `json:"terminal,omitempty"`
	MergedEntries   int           `json:"merged_entries,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
}

// AttentionItem is one query that converged cannot or did not cover.
type AttentionItem struct {
	Intent intent.Intent `json:"intent"`
	Kind   string        `json:"kind"`
	Reason string        `json:"reason"`
}

// Report is the full record of one run. The run ID ties log lines, metrics,
// and the archived report to each other.
type Report struct {
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	ReferenceNow time.Time       `json:"reference_now"`
	DryRun       bool            `json:"dry_run,omitempty"`
	Converged    bool            `json:"converged"`
	StopReason   StopReason      `json:"stop_reason"`
	Iterations   []Iteration     `json:"iterations"`
	Attention    []AttentionItem `json:"attention,omitempty"`
}

// Driver owns the plan/execute loop.
type Driver struct {
	registry registry.Registry
	builder  *plan.Builder
	executor *executor.Executor
	log      *slog.Logger
}

// NewDriver wires a Driver. log may be nil.
func NewDriver(reg registry.Registry, b *plan.Builder, ex *executor.Executor, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{registry: reg, builder: b, executor: ex, log: log}
}

// terminalRecord remembers why an item left the run.
type terminalRecord struct {
	intent intent.Intent
	reason string
}

// Run drives plan/execute rounds to convergence.
//
// Description:
//
//	Every round normalizes the queries and builds a fresh plan from the
//	live cache, so registry hot-reloads and concurrent cache writes are
//	picked up mid-run. The reference now is frozen once for the whole run:
//	relative ranges and staleness decisions do not drift between rounds.
//	A round with no actionable fetch work ends the run as converged.
//
// Inputs:
//   - queries: the raw chart queries to cover.
//   - now: the run's reference instant; also the retrieval stamp merged
//     entries carry.
//   - opts: iteration and time bounds, dry-run, executor tuning.
//
// Outputs:
//   - *Report: always non-nil once the run started; on cancellation it
//     holds the rounds that completed.
//   - error: nil for converged, max-iterations, and dry-run stops.
func (d *Driver) Run(ctx context.Context, queries []intent.RawQuery, now time.Time, opts Options) (*Report, error) {
	ctx, span := convergeTracer.Start(ctx, "converge.Run")
	defer span.End()

	maxIter := opts.MaxIterations
	if maxIter < 1 {
		maxIter = DefaultMaxIterations
	}
	if opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Budget)
		defer cancel()
	}

	runID := uuid.NewString()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.Int("queries", len(queries)),
		attribute.Bool("dry_run", opts.DryRun),
	)
	log := telemetry.LoggerWithRun(ctx, d.log, runID)

	report := &Report{
		RunID:        runID,
		StartedAt:    time.Now().UTC(),
		ReferenceNow: now.UTC(),
		DryRun:       opts.DryRun,
	}
	finish := func(reason StopReason) {
		report.StopReason = reason
		report.FinishedAt = time.Now().UTC()
		convergeRunsTotal.WithLabelValues(string(reason)).Inc()
		convergeIterations.Observe(float64(len(report.Iterations)))
		log.Info("converge run finished",
			"converged", report.Converged,
			"stop_reason", string(reason),
			"iterations", len(report.Iterations),
			"attention", len(report.Attention))
	}

	excluded := make(map[string]terminalRecord)
	var lastPlan *plan.Plan

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			report.Attention = attentionFor(lastPlan, excluded, false)
			finish(stopFor(opts, err))
			return report, err
		}

		intents, err := intent.NormalizeAll(ctx, queries, now, d.registry)
		if err != nil {
			report.Attention = attentionFor(lastPlan, excluded, false)
			finish(StopError)
			return report, fmt.Errorf("normalize queries: %w", err)
		}

		p, err := d.builder.Build(ctx, intents, now)
		if err != nil {
			report.Attention = attentionFor(lastPlan, excluded, false)
			finish(StopError)
			return report, fmt.Errorf("iteration %d: %w", iter, err)
		}
		lastPlan = p

		fingerprint, err := p.Fingerprint()
		if err != nil {
			finish(StopError)
			return report, fmt.Errorf("iteration %d: %w", iter, err)
		}

		fetch, _, _ := p.Counts()
		var active []plan.Item
		for _, it := range p.Items {
			if it.Classification != plan.ClassFetch {
				continue
			}
			if _, skip := excluded[it.Intent.Identity()]; skip {
				continue
			}
			active = append(active, it)
		}

		rec := Iteration{
			Index:           iter,
			PlanFingerprint: fingerprint,
			FetchItems:      fetch,
			ActiveItems:     len(active),
			Windows:         p.WindowCount(),
		}

		if len(active) == 0 {
			report.Iterations = append(report.Iterations, rec)
			report.Converged = true
			report.Attention = attentionFor(p, excluded, true)
			finish(StopConverged)
			return report, nil
		}

		execPlan := &plan.Plan{
			SchemaVersion: p.SchemaVersion,
			CreatedAt:     p.CreatedAt,
			ReferenceNow:  p.ReferenceNow,
			Items:         active,
		}
		res, err := d.executor.Execute(ctx, execPlan, executor.Options{
			DryRun:      opts.DryRun,
			Concurrency: opts.Concurrency,
			OnEvent:     opts.OnEvent,
		})
		if res != nil {
			rec.Succeeded, rec.Transient, rec.Terminal = res.Counts()
			rec.MergedEntries = res.MergedEntries()
			rec.Duration = res.Duration
			for _, ir := range res.Items {
				if ir.Status == executor.StatusFailedTerminal {
					excluded[ir.Intent.Identity()] = terminalRecord{
						intent: ir.Intent,
						reason: terminalReason(ir),
					}
				}
			}
		}
		report.Iterations = append(report.Iterations, rec)
		if err != nil {
			report.Attention = attentionFor(p, excluded, false)
			finish(stopFor(opts, err))
			return report, err
		}

		log.Info("iteration executed",
			"iteration", iter,
			"plan_fingerprint", fingerprint,
			"active_items", len(active),
			"succeeded", rec.Succeeded,
			"transient", rec.Transient,
			"terminal", rec.Terminal,
			"merged_entries", rec.MergedEntries)

		if opts.DryRun {
			report.Attention = attentionFor(p, excluded, false)
			finish(StopDryRun)
			return report, nil
		}
	}

	report.Attention = attentionFor(lastPlan, excluded, false)
	finish(StopMaxIterations)
	return report, nil
}

// stopFor maps a context error to a stop reason. Budget expiry and caller
// cancellation both arrive as context errors; the budget is a deadline we
// set ourselves.
func stopFor(opts Options, err error) StopReason {
	if opts.Budget > 0 && errors.Is(err, context.DeadlineExceeded) {
		return StopBudget
	}
	return StopCancelled
}

// terminalReason digs the first terminal window error out of an item result.
func terminalReason(ir executor.ItemResult) string {
	for _, w := range ir.Windows {
		if w.Status == executor.StatusFailedTerminal && w.Error != "" {
			return w.Error
		}
	}
	return "terminal failure"
}

// attentionFor assembles the operator-facing summary from the last plan:
// unfetchable items, terminally failed items, and (when the run stopped
// short) items with fetch work left.
func attentionFor(last *plan.Plan, excluded map[string]terminalRecord, converged bool) []AttentionItem {
	if last == nil {
		return nil
	}
	var out []AttentionItem
	for _, it := range last.Items {
		switch it.Classification {
		case plan.ClassUnfetchable:
			out = append(out, AttentionItem{
				Intent: it.Intent,
				Kind:   AttentionUnfetchable,
				Reason: it.Reason,
			})
		case plan.ClassFetch:
			if rec, ok := excluded[it.Intent.Identity()]; ok {
				out = append(out, AttentionItem{
					Intent: rec.intent,
					Kind:   AttentionTerminal,
					Reason: rec.reason,
				})
			} else if !converged {
				out = append(out, AttentionItem{
					Intent: it.Intent,
					Kind:   AttentionUnconverged,
					Reason: "fetch work remaining at stop",
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Intent, out[j].Intent
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		return a.Mode < b.Mode
	})
	return out
}
