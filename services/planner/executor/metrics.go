// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("graphsheet.planner.executor")

// Instruments for window execution. The meter provider exports through the
// prometheus registry, so these land on /metrics next to the planner_*
// collectors.
var (
	windowsExecuted metric.Int64Counter
	entriesMerged   metric.Int64Counter
	windowDuration  metric.Float64Histogram
	mergeBatchSize  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		windowsExecuted, err = meter.Int64Counter(
			"fetch_windows_total",
			metric.WithDescription("Plan windows by final outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entriesMerged, err = meter.Int64Counter(
			"entries_merged_total",
			metric.WithDescription("Cache entries written by succeeded windows"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		windowDuration, err = meter.Float64Histogram(
			"fetch_window_duration_seconds",
			metric.WithDescription("Fetch plus merge wall time of one succeeded window"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mergeBatchSize, err = meter.Int64Histogram(
			"merge_batch_size",
			metric.WithDescription("Entries written per window merge"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordWindow records one window reaching a final status.
func recordWindow(ctx context.Context, status Status) {
	if err := initMetrics(); err != nil {
		return
	}
	windowsExecuted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", string(status))),
	)
}

// recordMerge records a succeeded window's merge volume and wall time.
func recordMerge(ctx context.Context, merged int, elapsed time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	entriesMerged.Add(ctx, int64(merged))
	mergeBatchSize.Record(ctx, int64(merged))
	windowDuration.Record(ctx, elapsed.Seconds())
}
