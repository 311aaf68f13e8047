// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coverage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datesClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_coverage_dates_total",
			Help: "Dates classified, by resulting state (fresh, stale, missing).",
		},
		[]string{"state"},
	)

	partitionProofsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_partition_proofs_total",
			Help: "Partition completeness proofs attempted, by outcome.",
		},
		[]string{"outcome"},
	)

	fetchWindowsCompiledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_fetch_windows_compiled_total",
			Help: "Fetch windows emitted by the compiler, by reason.",
		},
		[]string{"reason"},
	)

	classifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_coverage_classify_duration_seconds",
			Help:    "Wall time to classify one intent against its cache entries.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)
