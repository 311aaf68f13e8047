// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor runs fetch plans: one transport call per plan window,
// results merged into the cache with the plan's provenance stamps.
//
// The executor is deliberately memoryless. It carries no retry counters and
// no backoff state; a failed window simply leaves its dates uncovered, and
// the next plan build rediscovers them. Transient failures heal across
// convergence iterations, terminal failures stop an item for the rest of
// the run.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/plan"
	"github.com/graphsheet/seriessync/services/planner/series"
	"github.com/graphsheet/seriessync/services/planner/transport"
)

var executorTracer = otel.Tracer("graphsheet.planner.executor")

// DefaultConcurrency bounds cross-item parallelism when the caller does not.
const DefaultConcurrency = 4

// Status is a window's (or item's) position in the execution state machine.
type Status string

const (
	// StatusPending: not yet attempted.
	StatusPending Status = "pending"

	// StatusFetching: the transport call is in flight.
	StatusFetching Status = "fetching"

	// StatusSucceeded: fetched and merged.
	StatusSucceeded Status = "succeeded"

	// StatusFailedTransient: failed in a way a later run can heal (429,
	// 5xx, dial errors, merge errors).
	StatusFailedTransient Status = "failed-transient"

	// StatusFailedTerminal: the provider rejected the request for good;
	// no retry within this run.
	StatusFailedTerminal Status = "failed-terminal"

	// StatusSkipped: not attempted because an earlier window of the same
	// item failed terminally, or the run was cancelled.
	StatusSkipped Status = "skipped"
)

// EntryMerger is the slice of the storage contract the executor needs.
type EntryMerger interface {
	MergeOverwrite(ctx context.Context, itemKey string, entries []series.Entry) error
}

// Options tune one Execute call.
type Options struct {
	// DryRun walks the identical state machine with the transport call
	// replaced by a synthetic success; storage is never touched.
	DryRun bool

	// Concurrency caps how many items fetch at once. Windows of one item
	// always run in order.
	Concurrency int

	// OnEvent, when set, receives progress events. Calls are serialized;
	// the callback needs no locking of its own.
	OnEvent func(Event)
}

// WindowResult is the outcome of one plan window.
type WindowResult struct {
	Window  coverage.Window `json:"window"`
	Status  Status          `json:"status"`
	Merged  int             `json:"merged,omitempty"`
	Dropped int             `json:"dropped,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ItemResult aggregates one plan item's windows. The item status is the
// worst window outcome: terminal beats transient beats succeeded.
type ItemResult struct {
	Intent  intent.Intent  `json:"intent"`
	Status  Status         `json:"status"`
	Windows []WindowResult `json:"windows"`
}

// Result is the full record of one Execute call. Only fetch-classified plan
// items appear; covered and unfetchable items were never work.
type Result struct {
	PlanFingerprint string        `json:"plan_fingerprint"`
	DryRun          bool          `json:"dry_run,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Items           []ItemResult  `json:"items"`
}

// Counts tallies items by final status.
func (r *Result) Counts() (succeeded, transient, terminal int) {
	for _, it := range r.Items {
		switch it.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailedTransient:
			transient++
		case StatusFailedTerminal:
			terminal++
		}
	}
	return succeeded, transient, terminal
}

// MergedEntries sums cache rows written across all windows.
func (r *Result) MergedEntries() int {
	n := 0
	for _, it := range r.Items {
		for _, w := range it.Windows {
			n += w.Merged
		}
	}
	return n
}

// Executor runs plans against a transport and a cache store.
type Executor struct {
	store EntryMerger
	fetch transport.Transport
	log   *slog.Logger
}

// New wires an executor. log may be nil.
func New(store EntryMerger, fetch transport.Transport, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{store: store, fetch: fetch, log: log}
}

// Execute runs every fetch-classified item of the plan.
//
// Cancellation is honored between windows, never mid-window: an in-flight
// window finishes its merge, the item's remaining windows are recorded as
// skipped, and the partial Result is returned alongside the context error.
func (ex *Executor) Execute(ctx context.Context, p *plan.Plan, opts Options) (*Result, error) {
	ctx, span := executorTracer.Start(ctx, "executor.Execute")
	defer span.End()

	fingerprint, err := p.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprint plan: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	var fetchItems []plan.Item
	for _, it := range p.Items {
		if it.Classification == plan.ClassFetch {
			fetchItems = append(fetchItems, it)
		}
	}
	span.SetAttributes(
		attribute.String("plan_fingerprint", fingerprint),
		attribute.Int("fetch_items", len(fetchItems)),
		attribute.Bool("dry_run", opts.DryRun),
	)

	res := &Result{
		PlanFingerprint: fingerprint,
		DryRun:          opts.DryRun,
		StartedAt:       time.Now().UTC(),
		Items:           make([]ItemResult, len(fetchItems)),
	}

	emit := newEmitter(opts.OnEvent)
	locks := newItemLocks()
	sem := semaphore.NewWeighted(int64(concurrency))

	g, gCtx := errgroup.WithContext(ctx)
	for i, it := range fetchItems {
		i, it := i, it
		g.Go(func() error {
			// Acquire fails only when the run is cancelled; runItem then
			// records every window as skipped.
			if err := sem.Acquire(gCtx, 1); err == nil {
				defer sem.Release(1)
			}
			res.Items[i] = ex.runItem(gCtx, it, p.ReferenceNow, opts.DryRun, emit, locks.forKey(it.Intent.ItemKey))
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(res.StartedAt)

	succeeded, transient, terminal := res.Counts()
	ex.log.Info("plan executed",
		"plan_fingerprint", fingerprint,
		"dry_run", opts.DryRun,
		"items", len(res.Items),
		"succeeded", succeeded,
		"transient", transient,
		"terminal", terminal,
		"merged_entries", res.MergedEntries(),
		"duration", res.Duration)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// runItem walks one item's windows in order. A terminal failure skips the
// remainder; so does cancellation.
func (ex *Executor) runItem(ctx context.Context, it plan.Item, referenceNow time.Time, dryRun bool, emit *emitter, mu *sync.Mutex) ItemResult {
	ir := ItemResult{
		Intent:  it.Intent,
		Windows: make([]WindowResult, 0, len(it.Windows)),
	}
	terminal := false
	for _, w := range it.Windows {
		if terminal || ctx.Err() != nil {
			wr := WindowResult{Window: w, Status: StatusSkipped}
			ir.Windows = append(ir.Windows, wr)
			recordWindow(ctx, StatusSkipped)
			emit.window(EventWindowSkipped, it.Intent, wr)
			continue
		}
		wr := ex.runWindow(ctx, it.Intent, w, referenceNow, dryRun, emit, mu)
		ir.Windows = append(ir.Windows, wr)
		if wr.Status == StatusFailedTerminal {
			terminal = true
		}
	}
	ir.Status = itemStatus(ir.Windows)
	emit.item(it.Intent, ir)
	return ir
}

// runWindow makes exactly one transport call and, on success, one merge.
func (ex *Executor) runWindow(ctx context.Context, in intent.Intent, w coverage.Window, referenceNow time.Time, dryRun bool, emit *emitter, mu *sync.Mutex) WindowResult {
	emit.window(EventWindowStart, in, WindowResult{Window: w, Status: StatusFetching})
	wr := WindowResult{Window: w}

	if dryRun {
		wr.Status = StatusSucceeded
		recordWindow(ctx, wr.Status)
		emit.window(EventWindowSuccess, in, wr)
		return wr
	}

	started := time.Now()
	rows, err := ex.fetch.FetchWindow(ctx, transport.WindowRequest{
		ItemKey:   in.ItemKey,
		Mode:      in.Mode,
		Start:     w.Start,
		End:       w.End,
		Filter:    in.Constraint.String(),
		QuerySpec: in.QuerySpec,
	})
	if err != nil {
		wr.Status = StatusFailedTerminal
		if transport.IsTransient(err) {
			wr.Status = StatusFailedTransient
		}
		wr.Error = err.Error()
		ex.log.Warn("window fetch failed",
			"item_key", in.ItemKey,
			"window", w.String(),
			"status", string(wr.Status),
			"error", err)
		recordWindow(ctx, wr.Status)
		emit.window(EventWindowFailure, in, wr)
		return wr
	}

	entries, dropped := stampEntries(rows, in, w, referenceNow)
	wr.Dropped = dropped

	// A window that fetched always merges, even if the run was cancelled
	// while the call was in flight. Cancellation takes effect at the next
	// window boundary, never between fetch and merge.
	mu.Lock()
	err = ex.store.MergeOverwrite(context.WithoutCancel(ctx), in.ItemKey, entries)
	mu.Unlock()
	if err != nil {
		wr.Status = StatusFailedTransient
		wr.Error = fmt.Sprintf("merge: %v", err)
		ex.log.Error("cache merge failed",
			"item_key", in.ItemKey,
			"window", w.String(),
			"error", err)
		recordWindow(ctx, wr.Status)
		emit.window(EventWindowFailure, in, wr)
		return wr
	}

	wr.Status = StatusSucceeded
	wr.Merged = len(entries)
	recordMerge(ctx, len(entries), time.Since(started))
	recordWindow(ctx, wr.Status)
	emit.window(EventWindowSuccess, in, wr)
	return wr
}

// stampEntries turns provider rows into cache entries carrying the plan
// item's provenance: the intent's mode and signature, and the plan's
// reference now as the retrieval instant. Rows the plan did not ask for are
// dropped rather than merged: dates outside the window, payload shapes that
// cannot serve the intent's mode, and rows in the wrong category dimension.
func stampEntries(rows []series.Entry, in intent.Intent, w coverage.Window, referenceNow time.Time) ([]series.Entry, int) {
	entries := make([]series.Entry, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row.Date.Before(w.Start) || row.Date.After(w.End) {
			dropped++
			continue
		}
		if !row.Value.MatchesMode(in.Mode) {
			dropped++
			continue
		}
		e := row
		e.ItemKey = in.ItemKey
		e.Mode = in.Mode
		e.Signature = in.Signature
		e.RetrievedAt = referenceNow

		switch in.Constraint.Kind {
		case intent.ConstraintFixed:
			// The request was already filtered to key=value; the slot is
			// the constraint's regardless of what the rows carry.
			e.CategoryKey = in.Constraint.Key
			e.CategoryValue = in.Constraint.Value
		case intent.ConstraintAnyOf:
			if e.CategoryKey != in.Constraint.Key || e.CategoryValue == "" {
				dropped++
				continue
			}
		default:
			// A total query merges only the uncategorized series. Merging
			// a partial breakdown here would leave dates permanently
			// unsatisfiable without a complete partition.
			if e.Categorized() {
				dropped++
				continue
			}
		}
		entries = append(entries, e)
	}
	return entries, dropped
}

// itemStatus folds window outcomes: terminal beats transient beats
// succeeded; a skipped window means the item is not done and counts as
// transient unless something terminal stopped it.
func itemStatus(windows []WindowResult) Status {
	status := StatusSucceeded
	for _, w := range windows {
		switch w.Status {
		case StatusFailedTerminal:
			return StatusFailedTerminal
		case StatusFailedTransient, StatusSkipped:
			status = StatusFailedTransient
		}
	}
	return status
}

// itemLocks hands out one mutex per item key. Two plan items may share an
// item key (window and cohort intents over the same item), and their merges
// must not interleave inside the store.
type itemLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newItemLocks() *itemLocks {
	return &itemLocks{m: make(map[string]*sync.Mutex)}
}

func (l *itemLocks) forKey(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.m[key]
	if !ok {
		mu = &sync.Mutex{}
		l.m[key] = mu
	}
	return mu
}
