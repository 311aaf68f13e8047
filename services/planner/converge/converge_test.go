// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for the convergence driver over real planner components.

package converge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/plan"
	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/series"
	"github.com/graphsheet/seriessync/services/planner/storage"
	"github.com/graphsheet/seriessync/services/planner/transport"
)

var convergeNow = time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)

func nov(day int) series.Date {
	return series.NewDate(2025, time.November, day)
}

// mockTransport answers FetchWindow from an injected func and records calls.
type mockTransport struct {
	mu    sync.Mutex
	calls []transport.WindowRequest
	fetch func(req transport.WindowRequest) ([]series.Entry, error)
}

func (m *mockTransport) FetchWindow(ctx context.Context, req transport.WindowRequest) ([]series.Entry, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.fetch == nil {
		return nil, nil
	}
	return m.fetch(req)
}

func (m *mockTransport) callsFor(itemKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.ItemKey == itemKey {
			n++
		}
	}
	return n
}

func pointsFor(req transport.WindowRequest) ([]series.Entry, error) {
	var rows []series.Entry
	for d := req.Start; !d.After(req.End); d = d.Next() {
		rows = append(rows, series.Entry{Date: d, Value: series.PointValue(float64(d.Time().Day()))})
	}
	return rows, nil
}

// testDriver wires a driver over the in-memory store with a real registry,
// classifier, builder, and executor. resolver may be nil (all fetchable).
func testDriver(t *testing.T, tr transport.Transport, resolver plan.SourceResolver) (*Driver, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	reg, err := registry.NewStatic(registry.Partition{
		Key:    "channel",
		Values: []string{"email", "social"},
	})
	require.NoError(t, err)
	classifier := coverage.NewClassifier(coverage.NewProver(reg), coverage.DefaultMaturityPolicy(), nil)
	builder := plan.NewBuilder(store, classifier, resolver, plan.BuilderConfig{})
	ex := executor.New(store, tr, nil)
	return NewDriver(reg, builder, ex, nil), store
}

func signupsQuery() []intent.RawQuery {
	return []intent.RawQuery{{ItemKey: "site.signups", Range: "2025-11-01..2025-11-05"}}
}

func TestRunConvergesAfterFetch(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, store := testDriver(t, mock, nil)

	var events []executor.Event
	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{
		OnEvent: func(e executor.Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	assert.True(t, report.Converged)
	assert.Equal(t, StopConverged, report.StopReason)
	assert.Equal(t, convergeNow, report.ReferenceNow)
	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err, "run ID must be a uuid")

	require.Len(t, report.Iterations, 2)
	first, second := report.Iterations[0], report.Iterations[1]
	assert.Equal(t, 1, first.FetchItems)
	assert.Equal(t, 1, first.ActiveItems)
	assert.Equal(t, 1, first.Windows)
	assert.Equal(t, 1, first.Succeeded)
	assert.Equal(t, 5, first.MergedEntries)
	assert.Zero(t, second.FetchItems)
	assert.Zero(t, second.ActiveItems)
	assert.NotEqual(t, first.PlanFingerprint, second.PlanFingerprint,
		"coverage changed, so the second plan must differ")

	assert.Equal(t, 5, store.Count("site.signups"))
	assert.Empty(t, report.Attention)
	assert.NotEmpty(t, events)
	assert.Equal(t, executor.EventItemDone, events[len(events)-1].Type)
}

func TestRunHealsTransientFailure(t *testing.T) {
	var n int
	var mu sync.Mutex
	mock := &mockTransport{fetch: func(req transport.WindowRequest) ([]series.Entry, error) {
		mu.Lock()
		n++
		first := n == 1
		mu.Unlock()
		if first {
			return nil, transport.NewStatusError(503, "flaky upstream")
		}
		return pointsFor(req)
	}}
	d, store := testDriver(t, mock, nil)

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{})
	require.NoError(t, err)

	assert.True(t, report.Converged)
	require.Len(t, report.Iterations, 3)
	assert.Equal(t, 1, report.Iterations[0].Transient)
	assert.Equal(t, 1, report.Iterations[1].Succeeded)
	assert.Zero(t, report.Iterations[2].ActiveItems)

	// Nothing changed between the first two builds, so the plans are
	// byte-identical.
	assert.Equal(t, report.Iterations[0].PlanFingerprint, report.Iterations[1].PlanFingerprint)

	assert.Equal(t, 5, store.Count("site.signups"))
	assert.Empty(t, report.Attention)
}

func TestRunExcludesTerminalItems(t *testing.T) {
	mock := &mockTransport{fetch: func(req transport.WindowRequest) ([]series.Entry, error) {
		if req.ItemKey == "site.retired" {
			return nil, transport.NewStatusError(404, "series retired")
		}
		return pointsFor(req)
	}}
	d, store := testDriver(t, mock, nil)

	queries := []intent.RawQuery{
		{ItemKey: "site.retired", Range: "2025-11-01..2025-11-05"},
		{ItemKey: "site.signups", Range: "2025-11-01..2025-11-05"},
	}
	report, err := d.Run(context.Background(), queries, convergeNow, Options{})
	require.NoError(t, err)

	assert.True(t, report.Converged, "terminal items must not block convergence")
	require.Len(t, report.Iterations, 2)
	assert.Equal(t, 1, report.Iterations[0].Terminal)
	assert.Equal(t, 1, report.Iterations[1].FetchItems, "the dead item still plans as fetch work")
	assert.Zero(t, report.Iterations[1].ActiveItems, "but it is no longer actionable")

	require.Len(t, report.Attention, 1)
	assert.Equal(t, AttentionTerminal, report.Attention[0].Kind)
	assert.Equal(t, "site.retired", report.Attention[0].Intent.ItemKey)
	assert.Contains(t, report.Attention[0].Reason, "404")

	assert.Equal(t, 1, mock.callsFor("site.retired"), "terminal items are never re-executed")
	assert.Equal(t, 5, store.Count("site.signups"))
	assert.Zero(t, store.Count("site.retired"))
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	// Windows succeed but return no rows: coverage never advances.
	mock := &mockTransport{fetch: func(req transport.WindowRequest) ([]series.Entry, error) {
		return nil, nil
	}}
	d, _ := testDriver(t, mock, nil)

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{MaxIterations: 3})
	require.NoError(t, err)

	assert.False(t, report.Converged)
	assert.Equal(t, StopMaxIterations, report.StopReason)
	require.Len(t, report.Iterations, 3)
	for _, it := range report.Iterations {
		assert.Equal(t, 1, it.ActiveItems)
		assert.Zero(t, it.MergedEntries)
	}

	require.Len(t, report.Attention, 1)
	assert.Equal(t, AttentionUnconverged, report.Attention[0].Kind)
	assert.Equal(t, "site.signups", report.Attention[0].Intent.ItemKey)
}

func TestRunDryRunSingleIteration(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, store := testDriver(t, mock, nil)

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.False(t, report.Converged)
	assert.Equal(t, StopDryRun, report.StopReason)
	require.Len(t, report.Iterations, 1)
	assert.Equal(t, 1, report.Iterations[0].Succeeded)

	assert.Empty(t, mock.calls, "dry-run must not call the transport")
	assert.Zero(t, store.Count("site.signups"), "dry-run must not touch storage")
}

func TestRunDryRunOnCoveredCacheConverges(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, _ := testDriver(t, mock, nil)

	_, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{})
	require.NoError(t, err)

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.Converged, "a covered cache converges even in dry-run")
	assert.Equal(t, StopConverged, report.StopReason)
	require.Len(t, report.Iterations, 1)
}

func TestRunUnfetchableConvergesWithAttention(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	resolver := transport.NewStaticResolver(transport.Rule{Prefix: "site.", URL: "https://api.example/fetch"})
	d, _ := testDriver(t, mock, resolver)

	queries := []intent.RawQuery{{ItemKey: "orphan.metric", Range: "2025-11-01..2025-11-05"}}
	report, err := d.Run(context.Background(), queries, convergeNow, Options{})
	require.NoError(t, err)

	assert.True(t, report.Converged)
	require.Len(t, report.Iterations, 1)
	assert.Empty(t, mock.calls)

	require.Len(t, report.Attention, 1)
	assert.Equal(t, AttentionUnfetchable, report.Attention[0].Kind)
	assert.Equal(t, plan.ReasonNoConnection, report.Attention[0].Reason)
}

func TestRunRefetchesStaleDates(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, store := testDriver(t, mock, nil)

	// Seed entries retrieved before their maturity horizon closed.
	sig, err := intent.Fingerprint(nil)
	require.NoError(t, err)
	earlyRetrieval := time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)
	var seed []series.Entry
	for day := nov(1); !day.After(nov(5)); day = day.Next() {
		seed = append(seed, series.Entry{
			ItemKey:     "site.signups",
			Date:        day,
			Mode:        series.ModeWindow,
			Signature:   sig,
			RetrievedAt: earlyRetrieval,
			Value:       series.PointValue(1),
		})
	}
	require.NoError(t, store.MergeOverwrite(context.Background(), "site.signups", seed))

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{})
	require.NoError(t, err)

	assert.True(t, report.Converged)
	require.Len(t, report.Iterations, 2)
	assert.Equal(t, 5, report.Iterations[0].MergedEntries)

	entries, err := store.ReadEntries(context.Background(), "site.signups",
		series.Range{Start: nov(1), End: nov(5)})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, convergeNow, e.RetrievedAt, "refetched entries carry the run's reference now")
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, _ := testDriver(t, mock, nil)

	report, err := d.Run(context.Background(), signupsQuery(), convergeNow, Options{Budget: time.Nanosecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, report)
	assert.Equal(t, StopBudget, report.StopReason)
	assert.False(t, report.Converged)
}

func TestRunInvalidQueryFails(t *testing.T) {
	mock := &mockTransport{fetch: pointsFor}
	d, _ := testDriver(t, mock, nil)

	queries := []intent.RawQuery{{ItemKey: "site.signups", Range: "not-a-range"}}
	report, err := d.Run(context.Background(), queries, convergeNow, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, intent.ErrInvalidIntent)
	require.NotNil(t, report)
	assert.Equal(t, StopError, report.StopReason)
	assert.Empty(t, report.Iterations)
}
