// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/converge"
)

// convergeTimeout bounds an unbudgeted converge call. Budgeted runs get
// the budget plus slack so the service, not the client, enforces it.
const convergeTimeout = 15 * time.Minute

func runConverge(cmd *cobra.Command, args []string) {
	queries, err := loadQueries(args)
	if err != nil {
		fail("invalid query", err)
	}
	now, err := parseReferenceNow()
	if err != nil {
		fail("invalid --now", err)
	}

	var budget time.Duration
	if convBudget != "" {
		budget, err = time.ParseDuration(convBudget)
		if err != nil {
			fail("invalid --budget", err)
		}
	}

	req := planner.ConvergeRequest{
		Queries:       queries,
		ReferenceNow:  now,
		MaxIterations: convMaxIter,
		BudgetSeconds: int(budget / time.Second),
		DryRun:        convDryRun,
		Concurrency:   convConc,
	}

	// Live progress needs a terminal to draw on; scripted runs take the
	// plain request/response path.
	if convWatch && !jsonOutput && ux.IsInteractive() {
		report, err := watchConverge(req)
		if err != nil {
			fail("converge stream failed", err)
		}
		renderReport(report)
		return
	}

	timeout := convergeTimeout
	if budget > 0 {
		timeout = budget + 2*time.Minute
	}

	var report converge.Report
	if err := postJSON("/v1/planner/converge", req, &report, timeout); err != nil {
		fail("converge request failed", err)
	}

	if jsonOutput {
		printJSON(report)
		return
	}
	renderReport(&report)
}

// renderReport prints the run outcome, the per-iteration tallies, and
// anything that needs operator attention.
func renderReport(r *converge.Report) {
	switch {
	case r.DryRun:
		ux.Title("Converge preview (dry run)")
	case r.Converged:
		ux.Success(fmt.Sprintf("Converged after %d iteration(s)", len(r.Iterations)))
	default:
		ux.Warning(fmt.Sprintf("Stopped without converging: %s", r.StopReason))
	}

	for _, it := range r.Iterations {
		detail := fmt.Sprintf("iteration %d: %d fetch items, %d windows", it.Index, it.FetchItems, it.Windows)
		if !r.DryRun {
			detail += fmt.Sprintf(", %d ok, %d transient, %d terminal, %d entries merged",
				it.Succeeded, it.Transient, it.Terminal, it.MergedEntries)
		}
		ux.Info(detail)
	}

	if len(r.Attention) > 0 {
		fmt.Println()
		ux.Warning(fmt.Sprintf("%d item(s) need attention", len(r.Attention)))
		for _, a := range r.Attention {
			ux.ItemStatus(a.Intent.ItemKey, ux.IconError, fmt.Sprintf("%s: %s", a.Kind, a.Reason))
		}
	}

	ux.Info(fmt.Sprintf("run %s, took %s", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))
}
