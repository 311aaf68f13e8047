// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main implements the seriessync CLI, the terminal client for the
// planner service started by cmd/plannerd.
//
// The CLI is a thin wrapper over the /v1/planner HTTP API:
//
//	seriessync plan      — compile a fetch plan for one or more queries
//	seriessync explain   — show per-query coverage decisions
//	seriessync execute   — run a previously compiled plan
//	seriessync converge  — plan/execute rounds until coverage is complete
//	seriessync registry  — inspect the partition registry
//	seriessync version   — report CLI and service versions
//
// The service address comes from SERIESSYNC_SERVICE_URL, defaulting to
// http://localhost:8095. Output styling follows the personality level
// (--personality or SERIESSYNC_PERSONALITY); piped output degrades to
// machine-readable lines automatically.
package main

import (
	"fmt"
	"os"
)

// cliVersion is stamped by release builds via
// -ldflags "-X main.cliVersion=1.2.3". Dev builds report "dev".
var cliVersion = "dev"

func main() {
	rootCmd.Version = cliVersion
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
