// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package series

import "time"

// Entry is one persisted, date-indexed cache record.
//
// Entries are owned by the storage layer; the planner only reads them and
// instructs overwrite-merges. The Mode field is a textual marker that may be
// absent or wrong on rows written by older product versions — consumers must
// cross-check it against Value.Shape() and never trust it alone.
type Entry struct {
	ItemKey       string    `json:"item_key"`
	Date          Date      `json:"date"`
	Mode          Mode      `json:"mode,omitempty"`
	CategoryKey   string    `json:"category_key,omitempty"`
	CategoryValue string    `json:"category_value,omitempty"`
	Signature     string    `json:"signature,omitempty"`
	RetrievedAt   time.Time `json:"retrieved_at"`
	Value         Value     `json:"value"`
}

// Categorized reports whether the entry carries a category tag.
func (e Entry) Categorized() bool {
	return e.CategoryKey != ""
}

// UsableFor reports whether the entry's payload can serve mode m.
//
// The persisted shape decides; a present marker is honored only as a veto
// (a row whose marker contradicts its own shape is unusable for any mode).
func (e Entry) UsableFor(m Mode) bool {
	if !e.Value.MatchesMode(m) {
		return false
	}
	if e.Mode != "" && e.Mode != m {
		return false
	}
	return true
}
