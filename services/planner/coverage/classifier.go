// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coverage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// Classifier walks an intent's date range against the cache entries read for
// its item and decides, per date, fresh / stale / missing.
//
// Classification is pure with respect to the cache: it never writes, and two
// calls with the same inputs produce the same output. The only external
// dependency is the registry consulted through the prover.
type Classifier struct {
	prover *Prover
	policy MaturityPolicy
	log    *slog.Logger
}

// NewClassifier wires a classifier. A nil logger falls back to slog.Default.
func NewClassifier(prover *Prover, policy MaturityPolicy, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{prover: prover, policy: policy, log: log}
}

// Classify decides the state of every date in the intent's range.
//
// Description:
//
//	For each date, the entries indexed to it are tested against the
//	intent's constraint. A fixed-category constraint needs one matching
//	slot; an unconstrained intent needs either an uncategorized total or a
//	proven-complete partition; an any-of constraint needs every requested
//	value under one signature. Dates that pass are then aged against the
//	maturity policy using the injected now.
//
// Inputs:
//   - ctx: carries cancellation into registry lookups.
//   - it: the normalized intent.
//   - entries: cache entries for it.ItemKey, any date order.
//   - now: the plan's reference instant. Injected, never time.Now().
//
// Outputs:
//   - ItemCoverage with Missing and Stale sorted ascending and disjoint.
func (c *Classifier) Classify(ctx context.Context, it intent.Intent, entries []series.Entry, now time.Time) ItemCoverage {
	started := time.Now()
	defer func() { classifyDuration.Observe(time.Since(started).Seconds()) }()

	cov := ItemCoverage{ItemKey: it.ItemKey, Mode: it.Mode, Range: it.Range}

	byDate := make(map[series.Date][]series.Entry, len(entries))
	for _, e := range entries {
		byDate[e.Date] = append(byDate[e.Date], e)
	}

	for _, d := range it.Range.Dates() {
		retrievedAt, present := c.presentAt(ctx, it, byDate[d], &cov.Diagnostics)
		switch {
		case !present:
			cov.Missing = append(cov.Missing, d)
			datesClassifiedTotal.WithLabelValues(string(StateMissing)).Inc()
		case c.policy.Stale(d, it.Mode, retrievedAt, now):
			cov.Stale = append(cov.Stale, d)
			datesClassifiedTotal.WithLabelValues(string(StateStale)).Inc()
		default:
			cov.Fresh++
			datesClassifiedTotal.WithLabelValues(string(StateFresh)).Inc()
		}
	}

	if !cov.Covered() {
		c.log.Debug("coverage gaps found",
			"item_key", it.ItemKey,
			"mode", string(it.Mode),
			"missing", len(cov.Missing),
			"stale", len(cov.Stale),
			"fresh", cov.Fresh)
	}
	return cov
}

// presentAt reports whether the entries satisfy the intent on one date, and
// with what effective retrieval time. Shape decides mode fitness; the
// constraint decides which slots may contribute. Diagnostics are recorded
// only when the date ends up unsatisfied.
func (c *Classifier) presentAt(ctx context.Context, it intent.Intent, entries []series.Entry, diag *Diagnostics) (time.Time, bool) {
	switch it.Constraint.Kind {
	case intent.ConstraintFixed:
		return c.fixedPresent(it, entries, diag)
	case intent.ConstraintAnyOf:
		return c.anyOfPresent(it, entries, diag)
	default:
		return c.totalPresent(ctx, it, entries, diag)
	}
}

// fixedPresent: exactly one slot can satisfy the date. Signature must match
// the intent's.
func (c *Classifier) fixedPresent(it intent.Intent, entries []series.Entry, diag *Diagnostics) (time.Time, bool) {
	scan := scanSlots(entries, it, func(e series.Entry) bool {
		return e.CategoryKey == it.Constraint.Key && e.CategoryValue == it.Constraint.Value
	})
	if !scan.found {
		scan.report(diag)
	}
	return scan.retrievedAt, scan.found
}

// totalPresent: an unconstrained intent wants the item's total. An
// uncategorized entry is the total directly; failing that, any category
// key whose slices prove complete and homogeneous reconstructs it.
func (c *Classifier) totalPresent(ctx context.Context, it intent.Intent, entries []series.Entry, diag *Diagnostics) (time.Time, bool) {
	scan := scanSlots(entries, it, func(e series.Entry) bool { return !e.Categorized() })
	if scan.found {
		return scan.retrievedAt, true
	}

	groups := make(map[string][]series.Entry)
	for _, e := range entries {
		if !e.Categorized() || !e.UsableFor(it.Mode) {
			continue
		}
		groups[e.CategoryKey] = append(groups[e.CategoryKey], e)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var failures []string
	for _, key := range keys {
		observed := observedSlices(groups[key])
		proof := c.prover.Prove(ctx, key, observed)
		if proof.Holds() {
			return partitionRetrievedAt(observed), true
		}
		failures = append(failures, proof.Reason)
	}

	scan.report(diag)
	for _, r := range failures {
		diag.countProofFailure(r)
	}
	return time.Time{}, false
}

// anyOfPresent: the intent names the exact value set that must sum. All
// requested values must be present under one signature; when the partition
// admits uncategorized traffic, an uncategorized total also satisfies.
func (c *Classifier) anyOfPresent(it intent.Intent, entries []series.Entry, diag *Diagnostics) (time.Time, bool) {
	var scan slotScan
	if it.Constraint.AllowUncategorized {
		scan = scanSlots(entries, it, func(e series.Entry) bool { return !e.Categorized() })
		if scan.found {
			return scan.retrievedAt, true
		}
	}

	requested := make(map[string]bool, len(it.Constraint.Values))
	for _, v := range it.Constraint.Values {
		requested[v] = true
	}

	var relevant []series.Entry
	sawWrongShape := false
	for _, e := range entries {
		if e.CategoryKey != it.Constraint.Key || !requested[e.CategoryValue] {
			continue
		}
		if !e.UsableFor(it.Mode) {
			sawWrongShape = true
			continue
		}
		relevant = append(relevant, e)
	}

	if len(relevant) > 0 {
		observed := observedSlices(relevant)
		proof := c.prover.ProveSubset(it.Constraint.Values, observed)
		if proof.Holds() {
			return partitionRetrievedAt(observed), true
		}
		diag.countProofFailure(proof.Reason)
	}

	scan.report(diag)
	if sawWrongShape {
		diag.ModeMismatch++
	}
	return time.Time{}, false
}

// slotScan is the outcome of scanning entries for one directly-satisfying
// slot: the freshest match, plus what near-misses were seen.
type slotScan struct {
	retrievedAt   time.Time
	found         bool
	sawWrongSig   bool
	sawWrongShape bool
}

// report flushes near-miss counts into the diagnostics. Callers invoke it
// only for dates that ended up unsatisfied.
func (s slotScan) report(diag *Diagnostics) {
	if s.sawWrongSig {
		diag.SignatureMismatch++
	}
	if s.sawWrongShape {
		diag.ModeMismatch++
	}
}

// scanSlots looks for entries in the slots selected by match that satisfy
// the intent's mode and signature, keeping the freshest retrieval time.
func scanSlots(entries []series.Entry, it intent.Intent, match func(series.Entry) bool) slotScan {
	var s slotScan
	for _, e := range entries {
		if !match(e) {
			continue
		}
		if !e.UsableFor(it.Mode) {
			s.sawWrongShape = true
			continue
		}
		if e.Signature != it.Signature {
			s.sawWrongSig = true
			continue
		}
		if !s.found || e.RetrievedAt.After(s.retrievedAt) {
			s.retrievedAt = e.RetrievedAt
		}
		s.found = true
	}
	return s
}
