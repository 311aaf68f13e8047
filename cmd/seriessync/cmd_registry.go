// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
)

func runRegistryShow(cmd *cobra.Command, args []string) {
	var resp planner.RegistryResponse
	if err := getJSON("/v1/planner/registry", &resp); err != nil {
		fail("registry request failed", err)
	}

	if jsonOutput {
		printJSON(resp)
		return
	}

	ux.Title(fmt.Sprintf("Partition registry (%d keys)", resp.Count))
	for _, p := range resp.Partitions {
		detail := strings.Join(p.Values, ", ")
		if p.Residual != "" {
			detail += fmt.Sprintf(" (residual: %s)", p.Residual)
		}
		if p.AllowUncategorized {
			detail += " [allows uncategorized]"
		}
		ux.ItemStatus(p.Key, ux.IconGrid, detail)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("seriessync %s\n", cliVersion)
	if !versionCheck {
		return
	}

	var health planner.HealthResponse
	if err := getJSON("/v1/planner/health", &health); err != nil {
		fail("service unreachable", err)
	}
	fmt.Printf("service    %s (%s)\n", health.Version, serviceBaseURL())

	// Dev builds carry no comparable version.
	if cliVersion == "dev" {
		return
	}

	switch semver.Compare("v"+cliVersion, "v"+health.Version) {
	case 0:
		ux.Success("CLI and service versions match")
	case -1:
		ux.Warning("CLI is older than the service; consider upgrading the CLI")
	default:
		ux.Warning("CLI is newer than the service; consider upgrading the service")
	}
}
