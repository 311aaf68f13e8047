// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for the fetch window compiler: maximal merging, reason splits,
// and exact coverage of the required date set.

package coverage

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphsheet/seriessync/services/planner/series"
)

func nov(day int) series.Date { return series.NewDate(2025, time.November, day) }

// TestCompileWindowsMerging checks that adjacent same-reason dates merge and
// that gaps or reason changes split.
func TestCompileWindowsMerging(t *testing.T) {
	required := []TaggedDate{
		{nov(1), ReasonMissing},
		{nov(2), ReasonMissing},
		{nov(3), ReasonMissing},
		{nov(5), ReasonMissing},
		{nov(6), ReasonStale},
		{nov(7), ReasonStale},
		{nov(9), ReasonStale},
	}

	got := CompileWindows(required)
	want := []Window{
		{nov(1), nov(3), ReasonMissing},
		{nov(5), nov(5), ReasonMissing},
		{nov(6), nov(7), ReasonStale},
		{nov(9), nov(9), ReasonStale},
	}
	assert.Equal(t, want, got)
}

// TestCompileWindowsAdjacentReasonChange: consecutive dates with different
// reasons never merge, even with no calendar gap between them.
func TestCompileWindowsAdjacentReasonChange(t *testing.T) {
	got := CompileWindows([]TaggedDate{
		{nov(1), ReasonStale},
		{nov(2), ReasonMissing},
		{nov(3), ReasonStale},
	})
	require.Len(t, got, 3)
	for i, w := range got {
		assert.Equal(t, w.Start, w.End, "window %d should be a single day", i)
	}
}

// TestCompileWindowsEmpty: nothing required, nothing compiled.
func TestCompileWindowsEmpty(t *testing.T) {
	assert.Empty(t, CompileWindows(nil))
}

// TestCompileWindowsMonthBoundary: adjacency follows the calendar, not the
// day number.
func TestCompileWindowsMonthBoundary(t *testing.T) {
	got := CompileWindows([]TaggedDate{
		{series.NewDate(2025, time.November, 30), ReasonMissing},
		{series.NewDate(2025, time.December, 1), ReasonMissing},
	})
	require.Len(t, got, 1)
	assert.Equal(t, series.NewDate(2025, time.November, 30), got[0].Start)
	assert.Equal(t, series.NewDate(2025, time.December, 1), got[0].End)
}

// TestRequiredMissingWins: a date in both lists carries the missing tag.
func TestRequiredMissingWins(t *testing.T) {
	cov := ItemCoverage{
		Missing: []series.Date{nov(2)},
		Stale:   []series.Date{nov(1), nov(2), nov(3)},
	}
	got := cov.Required()
	want := []TaggedDate{
		{nov(1), ReasonStale},
		{nov(2), ReasonMissing},
		{nov(3), ReasonStale},
	}
	assert.Equal(t, want, got)
}

// TestCompileWindowsCoverExactly fuzzes random required sets and checks the
// two compiler guarantees: the windows cover exactly the input dates with
// their reasons, and no two same-reason windows touch.
func TestCompileWindowsCoverExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		var required []TaggedDate
		for day := 1; day <= 30; day++ {
			switch rng.Intn(3) {
			case 0:
				required = append(required, TaggedDate{nov(day), ReasonMissing})
			case 1:
				required = append(required, TaggedDate{nov(day), ReasonStale})
			}
		}

		windows := CompileWindows(required)

		covered := make(map[series.Date]Reason)
		for _, w := range windows {
			require.False(t, w.End.Before(w.Start), "inverted window %s", w)
			for d := w.Start; !w.End.Before(d); d = d.Next() {
				_, dup := covered[d]
				require.False(t, dup, "date %s covered twice", d)
				covered[d] = w.Reason
			}
		}

		require.Len(t, covered, len(required))
		for _, td := range required {
			assert.Equal(t, td.Reason, covered[td.Date])
		}

		for i := 1; i < len(windows); i++ {
			prev, cur := windows[i-1], windows[i]
			if prev.Reason == cur.Reason {
				assert.NotEqual(t, prev.End.Next(), cur.Start,
					"mergeable windows %s and %s left split", prev, cur)
			}
		}
	}
}

// TestWindowAccessors covers the small helpers used by plan rendering.
func TestWindowAccessors(t *testing.T) {
	w := Window{Start: nov(3), End: nov(7), Reason: ReasonStale}
	assert.Equal(t, 5, w.Days())
	assert.Equal(t, "2025-11-03..2025-11-07 (stale)", w.String())
	assert.True(t, w.Range().Contains(nov(5)))
}
