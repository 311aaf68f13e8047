// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var archivePutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "planner_report_archives_total",
		Help: "Report uploads to the archive bucket by outcome (ok, error).",
	},
	[]string{"outcome"},
)
