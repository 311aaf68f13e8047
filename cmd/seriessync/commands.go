// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	queryMode        string // query mode override (window/cohort)
	queryFilter      string // category filter expression
	queryRange       string // date range expression
	queryFile        string // YAML file of queries, replaces positional args
	referenceNow     string // pinned evaluation instant (date or RFC3339)
	jsonOutput       bool   // raw JSON output for scripting
	planExplain      bool   // include per-item reasoning in plan output
	planOutput       string // write the compiled plan document to a file
	executePlanFile  string // plan document to execute ("-" for stdin)
	executeDryRun    bool   // preview execution without fetching
	executeConc      int    // concurrent item fetches during execute
	convMaxIter      int    // plan/execute rounds before giving up
	convBudget       string // wall-clock budget for the run (e.g. "5m")
	convDryRun       bool   // stop after the first plan, fetch nothing
	convWatch        bool   // stream live progress over the WebSocket
	convConc         int    // concurrent item fetches per iteration
	versionCheck     bool   // compare CLI version against the service
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "seriessync",
		Short: "A cli for the Graphsheet seriessync planner",
		Long: `seriessync plans and executes time-series cache fills against a
				running planner service. Queries name an item key and a date
				range; the planner works out which dates are missing or stale
				and fetches only those.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Planning ---
	planCmd = &cobra.Command{
		Use:   "plan [item-key]",
		Short: "Compile a fetch plan showing which date windows need data",
		Long: `plan asks the service which dates of the requested range are
				already covered and which need fetching. The plan itself is a
				reproducible document: save it with --output and execute it
				later with 'seriessync execute'.`,
		Run: runPlan, // Defined in cmd_plan.go
	}
	explainCmd = &cobra.Command{
		Use:   "explain [item-key]",
		Short: "Show the per-date coverage reasoning behind a plan",
		Run:   runExplain, // Defined in cmd_plan.go
	}

	// --- Execution ---
	executeCmd = &cobra.Command{
		Use:   "execute",
		Short: "Execute a previously compiled plan document",
		Run:   runExecute, // Defined in cmd_execute.go
	}
	convergeCmd = &cobra.Command{
		Use:   "converge [item-key]",
		Short: "Plan and fetch repeatedly until the range is fully covered",
		Long: `converge runs the plan/execute loop server-side until every
				requested date is covered or nothing further can change.
				Transient fetch failures are retried on the next round;
				terminal ones are reported for attention.`,
		Run: runConverge, // Defined in cmd_converge.go
	}

	// --- Registry ---
	registryCmd = &cobra.Command{
		Use:   "registry",
		Short: "Inspect the partition registry the planner filters against",
	}
	registryShowCmd = &cobra.Command{
		Use:   "show",
		Short: "List partition keys and their allowed category values",
		Run:   runRegistryShow, // Defined in cmd_registry.go
	}

	// --- Version ---
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version, optionally checking the service",
		Run:   runVersion, // Defined in cmd_registry.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&queryRange, "range", "r", "",
		"Date range: '2025-01-01..2025-03-31', 'last-90d', or 'since-2025-01-01'")
	planCmd.Flags().StringVarP(&queryMode, "mode", "m", "",
		"Query mode: 'window' (default) or 'cohort'")
	planCmd.Flags().StringVarP(&queryFilter, "filter", "f", "",
		"Category filter, e.g. 'channel=email' or 'channel in (email,social)'")
	planCmd.Flags().StringVar(&queryFile, "file", "",
		"YAML file of queries; replaces the positional item key")
	planCmd.Flags().StringVar(&referenceNow, "now", "",
		"Pin the evaluation instant (YYYY-MM-DD or RFC3339) for reproducible plans")
	planCmd.Flags().BoolVar(&planExplain, "explain", false,
		"Include per-item coverage reasoning in the output")
	planCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Print the raw JSON response for scripting")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "",
		"Write the compiled plan document to a file for later execution")

	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVarP(&queryRange, "range", "r", "", "Date range expression")
	explainCmd.Flags().StringVarP(&queryMode, "mode", "m", "", "Query mode: 'window' or 'cohort'")
	explainCmd.Flags().StringVarP(&queryFilter, "filter", "f", "", "Category filter expression")
	explainCmd.Flags().StringVar(&queryFile, "file", "", "YAML file of queries")
	explainCmd.Flags().StringVar(&referenceNow, "now", "", "Pin the evaluation instant")
	explainCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")

	rootCmd.AddCommand(executeCmd)
	executeCmd.Flags().StringVarP(&executePlanFile, "plan", "p", "",
		"Plan document to execute (a file written by 'plan --output', or '-' for stdin)")
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false,
		"Preview the work without fetching or writing anything")
	executeCmd.Flags().IntVar(&executeConc, "concurrency", 0,
		"Concurrent item fetches (default: service configuration)")
	executeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")

	rootCmd.AddCommand(convergeCmd)
	convergeCmd.Flags().StringVarP(&queryRange, "range", "r", "", "Date range expression")
	convergeCmd.Flags().StringVarP(&queryMode, "mode", "m", "", "Query mode: 'window' or 'cohort'")
	convergeCmd.Flags().StringVarP(&queryFilter, "filter", "f", "", "Category filter expression")
	convergeCmd.Flags().StringVar(&queryFile, "file", "", "YAML file of queries")
	convergeCmd.Flags().StringVar(&referenceNow, "now", "", "Pin the evaluation instant")
	convergeCmd.Flags().IntVar(&convMaxIter, "max-iterations", 0,
		"Plan/execute rounds before giving up (default: service configuration)")
	convergeCmd.Flags().StringVar(&convBudget, "budget", "",
		"Wall-clock budget for the whole run, e.g. '90s' or '5m'")
	convergeCmd.Flags().BoolVar(&convDryRun, "dry-run", false,
		"Compile the first plan and stop; nothing is fetched")
	convergeCmd.Flags().BoolVar(&convWatch, "watch", false,
		"Stream window-by-window progress while the run executes")
	convergeCmd.Flags().IntVar(&convConc, "concurrency", 0,
		"Concurrent item fetches per iteration (default: service configuration)")
	convergeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON report")

	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryShowCmd)
	registryShowCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")

	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionCheck, "check", false,
		"Also query the service and compare versions")
}
