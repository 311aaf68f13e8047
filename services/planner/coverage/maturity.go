// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coverage

import (
	"time"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// MaturityPolicy says how long after a date its value can still move.
// Window-mode values settle once the provider closes the day; cohort-mode
// values accumulate along the cohort's path and settle much later.
type MaturityPolicy struct {
	// LocalDays is the settle horizon for window mode, and the fallback for
	// cohort mode when CohortPathDays is unset.
	LocalDays int `json:"local_days" yaml:"local_days" validate:"min=0"`

	// CohortPathDays is the settle horizon for cohort mode. Zero means fall
	// back to LocalDays.
	CohortPathDays int `json:"cohort_path_days" yaml:"cohort_path_days" validate:"min=0"`
}

// DefaultMaturityPolicy matches the provider's published settlement windows:
// daily aggregates close after two days, cohort paths after thirty.
func DefaultMaturityPolicy() MaturityPolicy {
	return MaturityPolicy{LocalDays: 2, CohortPathDays: 30}
}

// Horizon returns the settle horizon in days for the given mode.
func (p MaturityPolicy) Horizon(m series.Mode) int {
	if m == series.ModeCohort && p.CohortPathDays > 0 {
		return p.CohortPathDays
	}
	return p.LocalDays
}

// MatureAt returns the instant after which date d's value no longer moves
// under mode m.
func (p MaturityPolicy) MatureAt(d series.Date, m series.Mode) time.Time {
	return d.AddDays(p.Horizon(m)).Time()
}

// Stale reports whether a cached value for date d must be refreshed.
//
// A value retrieved at or after its maturity instant is final forever. A
// value retrieved before maturity is stale only once the clock has moved
// past the retrieval — so a value fetched during this run is not immediately
// re-flagged, which is what lets repeated plan/execute cycles converge. An
// unknown retrieval time (zero) is always stale: we cannot prove the value
// final, so we refetch.
func (p MaturityPolicy) Stale(d series.Date, m series.Mode, retrievedAt, now time.Time) bool {
	if retrievedAt.IsZero() {
		return true
	}
	if !retrievedAt.Before(p.MatureAt(d, m)) {
		return false
	}
	return retrievedAt.Before(now)
}
