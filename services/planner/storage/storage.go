// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the cache persistence contract and an in-memory
// reference implementation.
//
// The cache is a slot store: one entry per (item, date, mode, category).
// Merges overwrite whole slots, so refetching a window can never produce a
// partially-old, partially-new value for one date, and replaying the same
// merge is a no-op.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// ErrUnavailable marks a backend failure, as opposed to a caller error.
// Adapters wrap read and write failures with it so the service layer can
// answer 503 instead of 500. A build cannot proceed without a snapshot;
// during execution an unavailable store only fails the window being merged.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the planner's view of the cache.
//
// ReadEntries returns every entry for the item whose date falls in r, all
// modes and categories included; the classifier does the filtering.
// MergeOverwrite upserts by slot: the incoming entry replaces whatever
// occupied (item, date, mode, category), including an entry with a different
// signature. Dates not present in the batch are untouched.
type Store interface {
	ReadEntries(ctx context.Context, itemKey string, r series.Range) ([]series.Entry, error)
	MergeOverwrite(ctx context.Context, itemKey string, entries []series.Entry) error
}

// slot is the merge identity of one entry.
type slot struct {
	date          series.Date
	mode          series.Mode
	categoryKey   string
	categoryValue string
}

func slotOf(e series.Entry) slot {
	return slot{
		date:          e.Date,
		mode:          e.Mode,
		categoryKey:   e.CategoryKey,
		categoryValue: e.CategoryValue,
	}
}

// Memory is the map-backed Store used in development and tests, and the
// semantic reference for the Badger and Influx adapters.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[slot]series.Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]map[slot]series.Entry)}
}

// ReadEntries returns the item's entries with dates inside r, sorted by
// date, then mode, then category.
func (m *Memory) ReadEntries(ctx context.Context, itemKey string, r series.Range) ([]series.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []series.Entry
	for s, e := range m.items[itemKey] {
		if r.Contains(s.date) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// MergeOverwrite upserts the batch slot by slot.
func (m *Memory) MergeOverwrite(ctx context.Context, itemKey string, entries []series.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.items[itemKey]
	if slots == nil {
		slots = make(map[slot]series.Entry, len(entries))
		m.items[itemKey] = slots
	}
	for _, e := range entries {
		e.ItemKey = itemKey
		slots[slotOf(e)] = e
	}
	return nil
}

// Count returns the number of slots stored for an item.
func (m *Memory) Count(itemKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[itemKey])
}

// sortEntries orders entries deterministically: date, mode, category key,
// category value.
func sortEntries(entries []series.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		if a.CategoryKey != b.CategoryKey {
			return a.CategoryKey < b.CategoryKey
		}
		return a.CategoryValue < b.CategoryValue
	})
}
