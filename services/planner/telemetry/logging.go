// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TraceID returns the current trace ID as a hex string, or "" when the
// context carries no recording span. Useful for echoing trace IDs in
// error responses.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the current span ID as a hex string, or "" when the
// context carries no recording span.
func SpanID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// LoggerWithTrace returns a logger annotated with the active trace and span
// IDs so log lines can be joined with traces.
//
// Description:
//
//	Reads the span context from ctx and, when one is present, returns a
//	child logger carrying trace_id and span_id fields. Without an active
//	span the logger is returned unchanged.
//
// Inputs:
//
//	ctx - Context that may carry an active span. May be nil.
//	logger - Base logger. A nil logger falls back to slog.Default().
//
// Outputs:
//
//	*slog.Logger - Logger with trace correlation fields when available.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

// LoggerWithRun returns a logger annotated with a converge run ID, with
// trace correlation fields added when the context carries an active span.
func LoggerWithRun(ctx context.Context, logger *slog.Logger, runID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With("run_id", runID)
}
