// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan defines the fetch plan value object and its builder.
//
// The plan is the single product of coverage analysis: preview, execution,
// and audit all consume the same object, so there is no way for "what we
// showed the user" and "what we fetched" to drift apart. Plans canonicalize
// to deterministic bytes; fingerprints of those bytes tie logs, results, and
// archives to the exact plan they came from.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/intent"
)

// SchemaVersion is bumped whenever the canonical JSON layout changes, so
// archived fingerprints stay comparable only within a version.
const SchemaVersion = 1

// Classification says what the executor should do with an item.
type Classification string

const (
	// ClassFetch: the item has at least one window to fetch.
	ClassFetch Classification = "fetch"

	// ClassCovered: the cache already satisfies the whole range.
	ClassCovered Classification = "covered"

	// ClassUnfetchable: no transport source serves the item key; fetching
	// cannot help, only a config change can.
	ClassUnfetchable Classification = "unfetchable"
)

// ReasonNoConnection is the unfetchable reason for item keys with no
// transport source.
const ReasonNoConnection = "no-connection"

// Item is one intent's slice of the plan.
type Item struct {
	Intent         intent.Intent     `json:"intent"`
	Classification Classification    `json:"classification"`
	Windows        []coverage.Window `json:"windows,omitempty"`

	// Reason is set for unfetchable items.
	Reason string `json:"reason,omitempty"`

	// Fresh counts dates needing nothing; missing/stale counts live in the
	// windows themselves.
	Fresh int `json:"fresh"`

	Diagnostics coverage.Diagnostics `json:"diagnostics"`
}

// MissingDays and StaleDays sum the item's window lengths by reason.
func (it Item) MissingDays() int { return it.daysFor(coverage.ReasonMissing) }

func (it Item) StaleDays() int { return it.daysFor(coverage.ReasonStale) }

func (it Item) daysFor(r coverage.Reason) int {
	total := 0
	for _, w := range it.Windows {
		if w.Reason == r {
			total += w.Days()
		}
	}
	return total
}

// Plan is the complete fetch plan for one build call.
//
// CreatedAt always equals ReferenceNow: the plan is a pure function of the
// cache snapshot, the intents, and the injected now, so rebuilding with the
// same inputs yields byte-identical canonical output.
type Plan struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	ReferenceNow  time.Time `json:"reference_now"`
	Items         []Item    `json:"items"`
}

// Counts tallies items by classification.
func (p *Plan) Counts() (fetch, covered, unfetchable int) {
	for _, it := range p.Items {
		switch it.Classification {
		case ClassFetch:
			fetch++
		case ClassCovered:
			covered++
		case ClassUnfetchable:
			unfetchable++
		}
	}
	return fetch, covered, unfetchable
}

// FetchWork reports whether any item needs fetching.
func (p *Plan) FetchWork() bool {
	for _, it := range p.Items {
		if it.Classification == ClassFetch {
			return true
		}
	}
	return false
}

// WindowCount sums windows across all items.
func (p *Plan) WindowCount() int {
	n := 0
	for _, it := range p.Items {
		n += len(it.Windows)
	}
	return n
}

// Canonical serializes the plan deterministically: items sorted by intent
// identity, windows sorted by start date, timestamps normalized to UTC.
// Two plans built from the same inputs canonicalize to identical bytes.
func (p *Plan) Canonical() ([]byte, error) {
	c := Plan{
		SchemaVersion: p.SchemaVersion,
		CreatedAt:     p.CreatedAt.UTC(),
		ReferenceNow:  p.ReferenceNow.UTC(),
		Items:         make([]Item, len(p.Items)),
	}
	copy(c.Items, p.Items)
	for i := range c.Items {
		ws := make([]coverage.Window, len(c.Items[i].Windows))
		copy(ws, c.Items[i].Windows)
		sort.Slice(ws, func(a, b int) bool { return ws[a].Start.Before(ws[b].Start) })
		c.Items[i].Windows = ws
	}
	sortItems(c.Items)
	return json.Marshal(&c)
}

// Fingerprint is the hex sha256 of the canonical bytes.
func (p *Plan) Fingerprint() (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// sortItems orders items by intent identity so canonical output does not
// depend on submission order.
func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Intent, items[j].Intent
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		if a.Range.Start != b.Range.Start {
			return a.Range.Start.Before(b.Range.Start)
		}
		if a.Signature != b.Signature {
			return a.Signature < b.Signature
		}
		return a.Constraint.String() < b.Constraint.String()
	})
}

// itemDates is a rendering helper: total dates in the item's range.
func itemDates(it Item) int {
	if !it.Intent.Range.Valid() {
		return 0
	}
	return it.Intent.Range.Days()
}
