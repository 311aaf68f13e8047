// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coverage decides, date by date, whether the cache satisfies an
// intent: the per-date classifier, the partition completeness prover, the
// maturity (staleness) policy, and the compiler that folds the dates needing
// work into minimal fetch windows.
//
// Nothing here throws for data-shape anomalies. Corrupted rows, mixed
// signatures, unprovable partitions, and unreachable registries all degrade
// to the conservative side: Missing or incomplete, never false Covered.
package coverage

import (
	"sort"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// DateState is the classification of one date under one intent.
type DateState string

const (
	// StateFresh means present, signature-matched, and mature.
	StateFresh DateState = "fresh"

	// StateStale means present but the value may still move (maturity rule).
	StateStale DateState = "stale"

	// StateMissing means no usable entry (or proof) covers the date.
	StateMissing DateState = "missing"
)

// Reason tags a required date (and later its window) with why it needs a
// fetch.
type Reason string

const (
	// ReasonMissing marks dates with no usable coverage at all.
	ReasonMissing Reason = "missing"

	// ReasonStale marks present dates that must be refreshed.
	ReasonStale Reason = "stale"
)

// TaggedDate is one date in an item's required set.
type TaggedDate struct {
	Date   series.Date
	Reason Reason
}

// Diagnostics counts why dates failed to classify as fresh, fueling plan
// explanations. Counters are per item, across all dates in range.
type Diagnostics struct {
	// SignatureMismatch counts dates where entries existed for the right
	// slot but none carried the intent's signature.
	SignatureMismatch int `json:"signature_mismatch,omitempty"`

	// ModeMismatch counts dates where entries existed but none had a payload
	// shape usable for the intent's mode.
	ModeMismatch int `json:"mode_mismatch,omitempty"`

	// PartitionUnproven counts dates where categorized entries existed but
	// no completeness proof succeeded.
	PartitionUnproven int `json:"partition_unproven,omitempty"`

	// ProofReasons tallies failed proofs by their reason string.
	ProofReasons map[string]int `json:"proof_reasons,omitempty"`
}

func (d *Diagnostics) countProofFailure(reason string) {
	d.PartitionUnproven++
	if d.ProofReasons == nil {
		d.ProofReasons = make(map[string]int)
	}
	d.ProofReasons[reason]++
}

// ItemCoverage is the classifier's output for one intent.
type ItemCoverage struct {
	ItemKey string       `json:"item_key"`
	Mode    series.Mode  `json:"mode"`
	Range   series.Range `json:"range"`

	// Missing and Stale are sorted ascending and disjoint.
	Missing []series.Date `json:"missing,omitempty"`
	Stale   []series.Date `json:"stale,omitempty"`

	// Fresh counts dates that need nothing.
	Fresh int `json:"fresh"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// Covered reports whether no date in range needs fetching.
func (c ItemCoverage) Covered() bool {
	return len(c.Missing) == 0 && len(c.Stale) == 0
}

// Required merges Missing and Stale into one sorted, reason-tagged set.
// A date appearing in both carries the Missing tag.
func (c ItemCoverage) Required() []TaggedDate {
	tags := make(map[series.Date]Reason, len(c.Missing)+len(c.Stale))
	for _, d := range c.Stale {
		tags[d] = ReasonStale
	}
	for _, d := range c.Missing {
		tags[d] = ReasonMissing
	}
	out := make([]TaggedDate, 0, len(tags))
	for d, r := range tags {
		out = append(out, TaggedDate{Date: d, Reason: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
