// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"sync"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// EventType names the executor progress notifications.
type EventType string

const (
	EventWindowStart   EventType = "window-start"
	EventWindowSuccess EventType = "window-success"
	EventWindowFailure EventType = "window-failure"
	EventWindowSkipped EventType = "window-skipped"
	EventItemDone      EventType = "item-done"
)

// Event is one progress notification. Events for different items
// interleave; events for one item arrive in window order.
type Event struct {
	Type    EventType        `json:"type"`
	ItemKey string           `json:"item_key"`
	Mode    series.Mode      `json:"mode"`
	Window  *coverage.Window `json:"window,omitempty"`
	Status  Status           `json:"status"`
	Merged  int              `json:"merged,omitempty"`
	Dropped int              `json:"dropped,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// emitter serializes callback invocations across item goroutines.
type emitter struct {
	mu sync.Mutex
	fn func(Event)
}

func newEmitter(fn func(Event)) *emitter {
	return &emitter{fn: fn}
}

func (em *emitter) window(t EventType, in intent.Intent, wr WindowResult) {
	if em.fn == nil {
		return
	}
	w := wr.Window
	em.mu.Lock()
	defer em.mu.Unlock()
	em.fn(Event{
		Type:    t,
		ItemKey: in.ItemKey,
		Mode:    in.Mode,
		Window:  &w,
		Status:  wr.Status,
		Merged:  wr.Merged,
		Dropped: wr.Dropped,
		Error:   wr.Error,
	})
}

func (em *emitter) item(in intent.Intent, ir ItemResult) {
	if em.fn == nil {
		return
	}
	em.mu.Lock()
	defer em.mu.Unlock()
	em.fn(Event{
		Type:    EventItemDone,
		ItemKey: in.ItemKey,
		Mode:    in.Mode,
		Status:  ir.Status,
	})
}
