// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for plan building: classification, canonical bytes, and the
// explain rendering.

package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/series"
)

var planNow = time.Date(2025, time.December, 10, 9, 0, 0, 0, time.UTC)

type stubStore map[string][]series.Entry

func (s stubStore) ReadEntries(_ context.Context, itemKey string, _ series.Range) ([]series.Entry, error) {
	return s[itemKey], nil
}

type errStore struct{ err error }

func (s errStore) ReadEntries(context.Context, string, series.Range) ([]series.Entry, error) {
	return nil, s.err
}

type stubResolver map[string]string

func (r stubResolver) Resolve(itemKey string) (string, bool) {
	u, ok := r[itemKey]
	return u, ok
}

func testBuilder(t *testing.T, store EntryReader, resolver SourceResolver) *Builder {
	t.Helper()
	reg, err := registry.NewStatic(registry.Partition{
		Key:      "channel",
		Values:   []string{"email", "social", "search"},
		Residual: "other",
	})
	require.NoError(t, err)
	classifier := coverage.NewClassifier(
		coverage.NewProver(reg),
		coverage.MaturityPolicy{LocalDays: 2, CohortPathDays: 30},
		nil,
	)
	return NewBuilder(store, classifier, resolver, DefaultBuilderConfig())
}

func windowIntentFor(key string, start, end series.Date) intent.Intent {
	return intent.Intent{
		ItemKey:    key,
		Mode:       series.ModeWindow,
		Range:      series.Range{Start: start, End: end},
		Constraint: intent.NoConstraint(),
		Signature:  "sig-a",
	}
}

func freshEntries(key string, start, end series.Date) []series.Entry {
	retrieved := time.Date(2025, time.December, 9, 0, 0, 0, 0, time.UTC)
	var out []series.Entry
	for d := start; !end.Before(d); d = d.Next() {
		out = append(out, series.Entry{
			ItemKey:     key,
			Date:        d,
			Mode:        series.ModeWindow,
			Signature:   "sig-a",
			RetrievedAt: retrieved,
			Value:       series.PointValue(1),
		})
	}
	return out
}

func novD(day int) series.Date { return series.NewDate(2025, time.November, day) }

// TestBuildClassifications: one covered, one fetch, one unfetchable, and the
// items come back in canonical key order regardless of submission order.
func TestBuildClassifications(t *testing.T) {
	store := stubStore{
		"site.visits": freshEntries("site.visits", novD(1), novD(10)),
	}
	resolver := stubResolver{
		"site.visits":  "https://upstream/visits",
		"site.signups": "https://upstream/signups",
	}
	b := testBuilder(t, store, resolver)

	intents := []intent.Intent{
		windowIntentFor("site.visits", novD(1), novD(10)),
		windowIntentFor("site.orphan", novD(1), novD(10)),
		windowIntentFor("site.signups", novD(1), novD(10)),
	}

	p, err := b.Build(context.Background(), intents, planNow)
	require.NoError(t, err)
	require.Len(t, p.Items, 3)

	assert.Equal(t, "site.orphan", p.Items[0].Intent.ItemKey)
	assert.Equal(t, ClassUnfetchable, p.Items[0].Classification)
	assert.Equal(t, ReasonNoConnection, p.Items[0].Reason)
	assert.Empty(t, p.Items[0].Windows)

	assert.Equal(t, "site.signups", p.Items[1].Intent.ItemKey)
	assert.Equal(t, ClassFetch, p.Items[1].Classification)
	require.Len(t, p.Items[1].Windows, 1)
	assert.Equal(t, coverage.Window{Start: novD(1), End: novD(10), Reason: coverage.ReasonMissing}, p.Items[1].Windows[0])

	assert.Equal(t, "site.visits", p.Items[2].Intent.ItemKey)
	assert.Equal(t, ClassCovered, p.Items[2].Classification)
	assert.Equal(t, 10, p.Items[2].Fresh)

	fetch, covered, unfetchable := p.Counts()
	assert.Equal(t, 1, fetch)
	assert.Equal(t, 1, covered)
	assert.Equal(t, 1, unfetchable)
	assert.True(t, p.FetchWork())
	assert.Equal(t, planNow, p.CreatedAt)
	assert.Equal(t, planNow, p.ReferenceNow)
}

// TestBuildDeterministicBytes: same inputs in any order, same canonical
// bytes and fingerprint.
func TestBuildDeterministicBytes(t *testing.T) {
	store := stubStore{
		"a.metric": freshEntries("a.metric", novD(1), novD(5)),
	}
	b := testBuilder(t, store, nil)

	one := windowIntentFor("a.metric", novD(1), novD(5))
	two := windowIntentFor("b.metric", novD(1), novD(7))
	two.QuerySpec = map[string]any{"granularity": "day", "filter": map[string]any{"country": "NL"}}

	p1, err := b.Build(context.Background(), []intent.Intent{one, two}, planNow)
	require.NoError(t, err)
	p2, err := b.Build(context.Background(), []intent.Intent{two, one}, planNow)
	require.NoError(t, err)

	c1, err := p1.Canonical()
	require.NoError(t, err)
	c2, err := p2.Canonical()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	f1, err := p1.Fingerprint()
	require.NoError(t, err)
	f2, err := p2.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Len(t, f1, 64)
}

// TestBuildDifferentNowDifferentBytes: the reference instant is part of the
// plan identity.
func TestBuildDifferentNowDifferentBytes(t *testing.T) {
	b := testBuilder(t, stubStore{}, nil)
	it := windowIntentFor("a.metric", novD(1), novD(5))

	p1, err := b.Build(context.Background(), []intent.Intent{it}, planNow)
	require.NoError(t, err)
	p2, err := b.Build(context.Background(), []intent.Intent{it}, planNow.Add(time.Hour))
	require.NoError(t, err)

	f1, _ := p1.Fingerprint()
	f2, _ := p2.Fingerprint()
	assert.NotEqual(t, f1, f2)
}

// TestBuildPropagatesStoreError: a failing snapshot read aborts the build
// with the item named; no partial plan escapes.
func TestBuildPropagatesStoreError(t *testing.T) {
	b := testBuilder(t, errStore{err: errors.New("influx gone")}, nil)

	p, err := b.Build(context.Background(), []intent.Intent{
		windowIntentFor("a.metric", novD(1), novD(5)),
	}, planNow)
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "a.metric")
}

// TestExplainEveryItem: covered items explain themselves too.
func TestExplainEveryItem(t *testing.T) {
	store := stubStore{
		"site.visits": freshEntries("site.visits", novD(1), novD(10)),
	}
	resolver := stubResolver{
		"site.visits":  "https://upstream/visits",
		"site.signups": "https://upstream/signups",
	}
	b := testBuilder(t, store, resolver)

	p, err := b.Build(context.Background(), []intent.Intent{
		windowIntentFor("site.visits", novD(1), novD(10)),
		windowIntentFor("site.signups", novD(3), novD(7)),
		windowIntentFor("site.orphan", novD(1), novD(2)),
	}, planNow)
	require.NoError(t, err)

	exps := Explain(p)
	require.Len(t, exps, 3)

	byKey := map[string]ItemExplanation{}
	for _, ex := range exps {
		require.NotEmpty(t, ex.Summary, "item %s must explain itself", ex.ItemKey)
		byKey[ex.ItemKey] = ex
	}

	assert.Equal(t, "covered: all 10 dates fresh", byKey["site.visits"].Summary)
	assert.Equal(t, "fetch: 5 missing, 0 stale of 5 dates in 1 windows", byKey["site.signups"].Summary)
	assert.Equal(t, []string{"2025-11-03..2025-11-07 (missing)"}, byKey["site.signups"].Windows)
	assert.Equal(t, "unfetchable: no-connection", byKey["site.orphan"].Summary)
}

// TestItemDayCounts: missing/stale totals come from the windows.
func TestItemDayCounts(t *testing.T) {
	it := Item{Windows: []coverage.Window{
		{Start: novD(1), End: novD(3), Reason: coverage.ReasonMissing},
		{Start: novD(5), End: novD(5), Reason: coverage.ReasonStale},
		{Start: novD(8), End: novD(9), Reason: coverage.ReasonMissing},
	}}
	assert.Equal(t, 5, it.MissingDays())
	assert.Equal(t, 1, it.StaleDays())
}
