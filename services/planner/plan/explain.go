// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"fmt"
	"sort"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// ItemExplanation is the human-readable rendering of one plan item. A chart
// that quietly shows a dip because data was missing is the failure mode this
// exists to surface, so covered items explain themselves too.
type ItemExplanation struct {
	ItemKey        string         `json:"item_key"`
	Mode           series.Mode    `json:"mode"`
	Range          string         `json:"range"`
	Constraint     string         `json:"constraint,omitempty"`
	Classification Classification `json:"classification"`
	Summary        string         `json:"summary"`
	Windows        []string       `json:"windows,omitempty"`
	Details        []string       `json:"details,omitempty"`
}

// Explain renders every plan item, in plan order. Pure: safe to call on
// archived plans.
func Explain(p *Plan) []ItemExplanation {
	out := make([]ItemExplanation, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, explainItem(it))
	}
	return out
}

func explainItem(it Item) ItemExplanation {
	ex := ItemExplanation{
		ItemKey:        it.Intent.ItemKey,
		Mode:           it.Intent.Mode,
		Range:          it.Intent.Range.String(),
		Constraint:     it.Intent.Constraint.String(),
		Classification: it.Classification,
	}

	total := itemDates(it)
	switch it.Classification {
	case ClassCovered:
		ex.Summary = fmt.Sprintf("covered: all %d dates fresh", total)
	case ClassUnfetchable:
		ex.Summary = fmt.Sprintf("unfetchable: %s", it.Reason)
	default:
		ex.Summary = fmt.Sprintf("fetch: %d missing, %d stale of %d dates in %d windows",
			it.MissingDays(), it.StaleDays(), total, len(it.Windows))
		for _, w := range it.Windows {
			ex.Windows = append(ex.Windows, w.String())
		}
	}

	ex.Details = diagnosticLines(it.Diagnostics)
	return ex
}

// diagnosticLines renders the near-miss counters in a stable order.
func diagnosticLines(d coverage.Diagnostics) []string {
	var lines []string
	if d.SignatureMismatch > 0 {
		lines = append(lines, fmt.Sprintf(
			"%d dates held entries under a different query signature", d.SignatureMismatch))
	}
	if d.ModeMismatch > 0 {
		lines = append(lines, fmt.Sprintf(
			"%d dates held entries with the wrong payload shape for this mode", d.ModeMismatch))
	}
	if d.PartitionUnproven > 0 {
		lines = append(lines, fmt.Sprintf(
			"partition reconstruction failed on %d dates", d.PartitionUnproven))
		reasons := make([]string, 0, len(d.ProofReasons))
		for r := range d.ProofReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			lines = append(lines, fmt.Sprintf("  %s: %d", r, d.ProofReasons[r]))
		}
	}
	return lines
}
