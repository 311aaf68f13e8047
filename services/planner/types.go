// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"encoding/json"
	"time"

	"github.com/graphsheet/seriessync/services/planner/converge"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/plan"
	"github.com/graphsheet/seriessync/services/planner/registry"
)

// PlanRequest is the request body for POST /v1/planner/plan.
type PlanRequest struct {
	// Queries are the chart queries to plan coverage for. Required.
	Queries []intent.RawQuery `json:"queries" binding:"required,min=1"`

	// ReferenceNow pins the evaluation instant, making the plan
	// reproducible. Default: current UTC time.
	ReferenceNow *time.Time `json:"reference_now"`

	// Explain adds per-item reasoning to the response.
	Explain bool `json:"explain"`
}

// PlanResponse is the response for POST /v1/planner/plan.
type PlanResponse struct {
	// Plan is the canonical plan document. Its bytes are the fingerprint's
	// hash input, so clients can verify or diff plans offline.
	Plan json.RawMessage `json:"plan"`

	// Fingerprint identifies the plan's decisions; two plans with equal
	// fingerprints prescribe identical work.
	Fingerprint string `json:"fingerprint"`

	// Explanations carry per-item reasoning when requested.
	Explanations []plan.ItemExplanation `json:"explanations,omitempty"`
}

// ExplainResponse is the response for POST /v1/planner/plan/explain.
type ExplainResponse struct {
	// Fingerprint identifies the plan the explanations describe.
	Fingerprint string `json:"fingerprint"`

	// Items holds the per-query decision trail, in request order.
	Items []plan.ItemExplanation `json:"items"`
}

// ExecuteRequest is the request body for POST /v1/planner/execute.
type ExecuteRequest struct {
	// Plan is the compiled plan to execute. Required.
	Plan *plan.Plan `json:"plan" binding:"required"`

	// DryRun previews the work without fetching or writing.
	DryRun bool `json:"dry_run"`

	// Concurrency caps concurrent item fetches. Default: the configured
	// executor concurrency.
	Concurrency int `json:"concurrency"`
}

// ConvergeRequest is the request body for POST /v1/planner/converge and the
// opening frame on GET /v1/planner/converge/ws.
type ConvergeRequest struct {
	// Queries are the chart queries to drive to full coverage. Required.
	Queries []intent.RawQuery `json:"queries" binding:"required,min=1"`

	// ReferenceNow pins the evaluation instant for the whole run.
	// Default: current UTC time.
	ReferenceNow *time.Time `json:"reference_now"`

	// MaxIterations caps plan/execute rounds. Default: 5.
	MaxIterations int `json:"max_iterations"`

	// BudgetSeconds bounds the run's wall time. Default: unbounded.
	BudgetSeconds int `json:"budget_seconds"`

	// DryRun previews the first plan without fetching or writing.
	DryRun bool `json:"dry_run"`

	// Concurrency caps concurrent item fetches per iteration.
	Concurrency int `json:"concurrency"`
}

// options maps the request knobs onto driver options.
func (r ConvergeRequest) options() converge.Options {
	return converge.Options{
		MaxIterations: r.MaxIterations,
		Budget:        time.Duration(r.BudgetSeconds) * time.Second,
		DryRun:        r.DryRun,
		Concurrency:   r.Concurrency,
	}
}

// RegistryResponse is the response for GET /v1/planner/registry.
type RegistryResponse struct {
	// Partitions are the authoritative category definitions.
	Partitions []registry.Partition `json:"partitions"`

	// Count is the number of partition keys.
	Count int `json:"count"`
}

// HealthResponse is the response for GET /v1/planner/health.
type HealthResponse struct {
	// Status is "healthy" when the service is operational.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}
