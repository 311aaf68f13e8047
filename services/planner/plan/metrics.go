// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	plansBuiltTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_plans_built_total",
			Help: "Fetch plans built.",
		},
	)

	planItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_plan_items_total",
			Help: "Plan items produced, by classification.",
		},
		[]string{"classification"},
	)

	planBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_plan_build_duration_seconds",
			Help:    "Wall time to build one plan.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15},
		},
	)
)
