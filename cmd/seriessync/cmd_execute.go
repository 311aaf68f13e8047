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
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/plan"
)

// executeTimeout bounds a single execute call. Real fetch rounds can be
// slow against rate-limited upstreams.
const executeTimeout = 10 * time.Minute

func runExecute(cmd *cobra.Command, args []string) {
	if executePlanFile == "" {
		fail("invalid arguments", fmt.Errorf("--plan is required (a file from 'plan --output', or '-' for stdin)"))
	}

	var data []byte
	var err error
	if executePlanFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(executePlanFile)
	}
	if err != nil {
		fail("reading plan document", err)
	}

	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		fail("parsing plan document", err)
	}

	req := planner.ExecuteRequest{
		Plan:        &p,
		DryRun:      executeDryRun,
		Concurrency: executeConc,
	}
	var res executor.Result
	spin := ux.NewSpinner("Executing plan")
	if !jsonOutput {
		spin.Start()
	}
	err = postJSON("/v1/planner/execute", req, &res, executeTimeout)
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		fail("execute request failed", err)
	}

	if jsonOutput {
		printJSON(res)
		return
	}
	renderResult(&res)
}

// renderResult prints one status line per executed item plus the tally.
func renderResult(res *executor.Result) {
	if res.DryRun {
		ux.Title("Execution preview (dry run)")
	} else {
		ux.Title("Execution result")
	}

	for _, item := range res.Items {
		ux.ItemStatus(item.Intent.ItemKey, statusIcon(item.Status), itemResultDetail(item))
	}

	succeeded, transient, terminal := res.Counts()
	ux.Info(fmt.Sprintf("%d succeeded, %d transient failures, %d terminal failures",
		succeeded, transient, terminal))
	if merged := res.MergedEntries(); merged > 0 {
		ux.Info(fmt.Sprintf("%d entries merged into the cache", merged))
	}
	ux.Info(fmt.Sprintf("plan %s, took %s", res.PlanFingerprint, res.Duration.Round(time.Millisecond)))
}

// statusIcon maps a window or item status onto a display icon.
func statusIcon(s executor.Status) ux.Icon {
	switch s {
	case executor.StatusSucceeded:
		return ux.IconSuccess
	case executor.StatusFailedTransient:
		return ux.IconWarning
	case executor.StatusFailedTerminal:
		return ux.IconError
	default:
		return ux.IconPending
	}
}

// itemResultDetail summarizes one item's window outcomes.
func itemResultDetail(item executor.ItemResult) string {
	merged := 0
	failed := 0
	for _, w := range item.Windows {
		merged += w.Merged
		if w.Status == executor.StatusFailedTransient || w.Status == executor.StatusFailedTerminal {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Sprintf("%d windows, %d failed, %d entries merged",
			len(item.Windows), failed, merged)
	}
	return fmt.Sprintf("%d windows, %d entries merged", len(item.Windows), merged)
}
