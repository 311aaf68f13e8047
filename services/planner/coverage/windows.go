// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coverage

import (
	"fmt"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// Window is one contiguous, inclusive date span to fetch, tagged with why.
type Window struct {
	Start  series.Date `json:"start"`
	End    series.Date `json:"end"`
	Reason Reason      `json:"reason"`
}

// Days returns the window length in days.
func (w Window) Days() int {
	return w.Start.DaysUntil(w.End) + 1
}

// Range returns the window's span as a date range.
func (w Window) Range() series.Range {
	return series.Range{Start: w.Start, End: w.End}
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s (%s)", w.Start, w.End, w.Reason)
}

// CompileWindows folds a sorted, reason-tagged date set into the minimal
// list of maximal windows: adjacent dates with the same reason merge, a gap
// or a reason change starts a new window.
//
// The input must be sorted ascending with no duplicate dates, which is what
// ItemCoverage.Required produces. Output windows are sorted, non-adjacent
// per reason, and cover exactly the input dates.
func CompileWindows(required []TaggedDate) []Window {
	var out []Window
	for _, td := range required {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Reason == td.Reason && last.End.Next() == td.Date {
				last.End = td.Date
				continue
			}
		}
		out = append(out, Window{Start: td.Date, End: td.Date, Reason: td.Reason})
	}
	for _, w := range out {
		fetchWindowsCompiledTotal.WithLabelValues(string(w.Reason)).Inc()
	}
	return out
}

// WindowsFor is the common pairing: classify, then compile.
func WindowsFor(cov ItemCoverage) []Window {
	return CompileWindows(cov.Required())
}
