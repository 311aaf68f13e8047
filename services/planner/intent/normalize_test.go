// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for intent normalization: range DSL, filters, registry checks,
// and signature fingerprinting.

package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// refNow is the injected reference instant used throughout these tests.
var refNow = time.Date(2025, time.November, 15, 10, 30, 0, 0, time.UTC)

func testRegistry(t *testing.T) *registry.Static {
	t.Helper()
	reg, err := registry.NewStatic(
		registry.Partition{Key: "channel", Values: []string{"email", "social", "search"}, Residual: "other"},
		registry.Partition{Key: "region", Values: []string{"na", "emea"}, AllowUncategorized: true},
	)
	require.NoError(t, err)
	return reg
}

// brokenRegistry simulates an unreachable registry backend.
type brokenRegistry struct{}

func (brokenRegistry) ResolvePartition(context.Context, string) (registry.Partition, error) {
	return registry.Partition{}, errors.New("registry backend unreachable")
}

// TestResolveRange covers the three range forms and their failure modes.
func TestResolveRange(t *testing.T) {
	t.Run("absolute", func(t *testing.T) {
		r, err := ResolveRange("2025-11-01..2025-11-30", refNow)
		require.NoError(t, err)
		assert.Equal(t, series.NewDate(2025, time.November, 1), r.Start)
		assert.Equal(t, series.NewDate(2025, time.November, 30), r.End)
	})

	t.Run("last-Nd ends at reference date", func(t *testing.T) {
		r, err := ResolveRange("last-7d", refNow)
		require.NoError(t, err)
		assert.Equal(t, series.NewDate(2025, time.November, 9), r.Start)
		assert.Equal(t, series.NewDate(2025, time.November, 15), r.End)
		assert.Equal(t, 7, r.Days())
	})

	t.Run("since", func(t *testing.T) {
		r, err := ResolveRange("since-2025-11-01", refNow)
		require.NoError(t, err)
		assert.Equal(t, 15, r.Days())
	})

	t.Run("rejects junk", func(t *testing.T) {
		for _, expr := range []string{
			"", "yesterday", "last-0d", "last-xd", "2025-11-30..2025-11-01",
			"2025-11-01..", "..2025-11-01",
		} {
			_, err := ResolveRange(expr, refNow)
			assert.Error(t, err, "expr %q", expr)
		}
	})
}

// TestParseFilter parses the three filter forms.
func TestParseFilter(t *testing.T) {
	c, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, ConstraintNone, c.Kind)
	assert.Equal(t, "", c.String())

	c, err = ParseFilter("channel=email")
	require.NoError(t, err)
	assert.Equal(t, FixedConstraint("channel", "email"), c)
	assert.Equal(t, "channel=email", c.String())

	c, err = ParseFilter("channel in (social, email, email)")
	require.NoError(t, err)
	assert.Equal(t, ConstraintAnyOf, c.Kind)
	assert.Equal(t, []string{"email", "social"}, c.Values, "deduped and sorted")
	assert.Equal(t, "channel in (email,social)", c.String())

	for _, expr := range []string{"=email", "channel=", "channel in ()", "channel in (a,)", "channel ~ email", "Chan=EMAIL"} {
		_, err := ParseFilter(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

// TestNormalize covers the happy path and each invalid-intent branch.
func TestNormalize(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	t.Run("defaults and canonical output", func(t *testing.T) {
		it, err := Normalize(ctx, RawQuery{
			ItemKey:   " GitHub.Stars ",
			Range:     "last-30d",
			QuerySpec: map[string]any{"endpoint": "repos/stars", "repo": "graphsheet/app"},
		}, refNow, reg)
		require.NoError(t, err)

		assert.Equal(t, "github.stars", it.ItemKey)
		assert.Equal(t, series.ModeWindow, it.Mode, "mode defaults to window")
		assert.Equal(t, 30, it.Range.Days())
		assert.Equal(t, ConstraintNone, it.Constraint.Kind)
		assert.Len(t, it.Signature, 64, "hex sha256")
	})

	t.Run("cohort mode with fixed filter", func(t *testing.T) {
		it, err := Normalize(ctx, RawQuery{
			ItemKey: "campaign.signups",
			Mode:    "cohort",
			Range:   "2025-10-01..2025-10-31",
			Filter:  "channel=email",
		}, refNow, reg)
		require.NoError(t, err)
		assert.Equal(t, series.ModeCohort, it.Mode)
		assert.Equal(t, FixedConstraint("channel", "email"), it.Constraint)
	})

	t.Run("anyof inherits allow_uncategorized from registry", func(t *testing.T) {
		it, err := Normalize(ctx, RawQuery{
			ItemKey: "campaign.signups",
			Range:   "last-7d",
			Filter:  "region in (na,emea)",
		}, refNow, reg)
		require.NoError(t, err)
		assert.True(t, it.Constraint.AllowUncategorized)
	})

	t.Run("invalid inputs", func(t *testing.T) {
		cases := []RawQuery{
			{ItemKey: "", Range: "last-7d"},
			{ItemKey: "github.stars", Range: "last-7d", Mode: "weekly"},
			{ItemKey: "github.stars", Range: "not-a-range"},
			{ItemKey: "github.stars", Range: "last-7d", Filter: "nosuchkey=email"},
			{ItemKey: "github.stars", Range: "last-7d", Filter: "channel=print"},
			{ItemKey: "github.stars", Range: "last-7d", Filter: "channel in (email,print)"},
		}
		for _, raw := range cases {
			_, err := Normalize(ctx, raw, refNow, reg)
			assert.ErrorIs(t, err, ErrInvalidIntent, "raw %+v", raw)
		}
	})

	t.Run("residual value is a legal fixed filter", func(t *testing.T) {
		_, err := Normalize(ctx, RawQuery{
			ItemKey: "campaign.signups",
			Range:   "last-7d",
			Filter:  "channel=other",
		}, refNow, reg)
		assert.NoError(t, err)
	})

	t.Run("registry infrastructure failure does not invalidate", func(t *testing.T) {
		it, err := Normalize(ctx, RawQuery{
			ItemKey: "campaign.signups",
			Range:   "last-7d",
			Filter:  "channel=email",
		}, refNow, brokenRegistry{})
		require.NoError(t, err, "unreachable registry must not reject the intent")
		assert.Equal(t, ConstraintFixed, it.Constraint.Kind)
	})
}

// TestFingerprintDeterminism pins the signature to spec content only.
func TestFingerprintDeterminism(t *testing.T) {
	a, err := Fingerprint(map[string]any{"repo": "g/app", "endpoint": "stars", "page": 1})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"page": 1, "endpoint": "stars", "repo": "g/app"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order must not matter")

	c, err := Fingerprint(map[string]any{"repo": "g/app", "endpoint": "stars", "page": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	empty1, err := Fingerprint(nil)
	require.NoError(t, err)
	empty2, err := Fingerprint(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty1, empty2, "nil and empty specs are the same query")
}

// TestNormalizeAll fails fast and names the offending query.
func TestNormalizeAll(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	intents, err := NormalizeAll(ctx, []RawQuery{
		{ItemKey: "github.stars", Range: "last-7d"},
		{ItemKey: "notion.views", Range: "last-7d"},
	}, refNow, reg)
	require.NoError(t, err)
	assert.Len(t, intents, 2)

	_, err = NormalizeAll(ctx, []RawQuery{
		{ItemKey: "github.stars", Range: "last-7d"},
		{ItemKey: "bad key", Range: "last-7d"},
	}, refNow, reg)
	require.ErrorIs(t, err, ErrInvalidIntent)
	assert.Contains(t, err.Error(), "query 1")

	_, err = NormalizeAll(ctx, nil, refNow, reg)
	assert.ErrorIs(t, err, ErrInvalidIntent)
}
