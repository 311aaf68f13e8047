// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package converge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	convergeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_converge_runs_total",
			Help: "Convergence runs by stop reason.",
		},
		[]string{"stop_reason"},
	)

	convergeIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_converge_iterations",
			Help:    "Plan/execute rounds per convergence run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)
)
