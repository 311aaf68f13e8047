// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/plan"
)

func runPlan(cmd *cobra.Command, args []string) {
	queries, err := loadQueries(args)
	if err != nil {
		fail("invalid query", err)
	}
	now, err := parseReferenceNow()
	if err != nil {
		fail("invalid --now", err)
	}

	req := planner.PlanRequest{Queries: queries, ReferenceNow: now, Explain: planExplain}
	var resp planner.PlanResponse
	spin := ux.NewSpinner("Compiling plan")
	if !jsonOutput {
		spin.Start()
	}
	err = postJSON("/v1/planner/plan", req, &resp, defaultTimeout)
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		fail("plan request failed", err)
	}

	// The plan document bytes are canonical; write them untouched so the
	// fingerprint still matches at execute time.
	if planOutput != "" {
		if err := os.WriteFile(planOutput, resp.Plan, 0644); err != nil {
			fail("writing plan document", err)
		}
	}

	if jsonOutput {
		printJSON(resp)
		return
	}

	var p plan.Plan
	if err := json.Unmarshal(resp.Plan, &p); err != nil {
		fail("decoding plan", err)
	}
	renderPlan(&p, resp.Fingerprint)
	if planExplain {
		renderExplanations(resp.Explanations)
	}
	if planOutput != "" {
		ux.Success(fmt.Sprintf("Plan written to %s", planOutput))
	}
}

func runExplain(cmd *cobra.Command, args []string) {
	queries, err := loadQueries(args)
	if err != nil {
		fail("invalid query", err)
	}
	now, err := parseReferenceNow()
	if err != nil {
		fail("invalid --now", err)
	}

	req := planner.PlanRequest{Queries: queries, ReferenceNow: now}
	var resp planner.ExplainResponse
	if err := postJSON("/v1/planner/plan/explain", req, &resp, defaultTimeout); err != nil {
		fail("explain request failed", err)
	}

	if jsonOutput {
		printJSON(resp)
		return
	}

	ux.Title("Coverage decisions")
	renderExplanations(resp.Items)
	ux.Info("fingerprint " + resp.Fingerprint)
}

// renderPlan prints one status line per plan item plus the tally.
func renderPlan(p *plan.Plan, fingerprint string) {
	ux.Title("Fetch plan")
	for _, it := range p.Items {
		icon, detail := planItemLine(it)
		ux.ItemStatus(it.Intent.ItemKey, icon, detail)
	}
	fetch, covered, unfetchable := p.Counts()
	ux.PlanSummary(fetch, covered, unfetchable)
	ux.Info("fingerprint " + fingerprint)
}

// planItemLine maps a plan item onto a status icon and a short detail.
func planItemLine(it plan.Item) (ux.Icon, string) {
	switch it.Classification {
	case plan.ClassCovered:
		return ux.IconSuccess, fmt.Sprintf("covered, %d dates fresh", it.Fresh)
	case plan.ClassUnfetchable:
		return ux.IconError, it.Reason
	default:
		return ux.IconPending, fmt.Sprintf("%d missing, %d stale in %d windows",
			it.MissingDays(), it.StaleDays(), len(it.Windows))
	}
}

// renderExplanations prints the per-query decision trail.
func renderExplanations(items []plan.ItemExplanation) {
	for _, item := range items {
		fmt.Println()
		header := fmt.Sprintf("%s %s [%s]", item.ItemKey, item.Range, item.Mode)
		if item.Constraint != "" {
			header += " " + item.Constraint
		}
		ux.Info(header)
		ux.Info("  " + item.Summary)
		for _, w := range item.Windows {
			ux.Muted("    window " + w)
		}
		for _, d := range item.Details {
			ux.Muted("    " + d)
		}
	}
}
