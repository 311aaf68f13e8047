// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/plan"
)

// ServiceVersion is the planner service version.
const ServiceVersion = "1.0.0"

// Handlers contains the HTTP handlers for the planner.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound request ID or mints one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// referenceNow pins the evaluation instant: explicit in the request for
// reproducible plans, wall clock otherwise. Handlers are the only place
// the service reads the clock for planning decisions.
func referenceNow(t *time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// HandleHealth handles GET /v1/planner/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleRegistry handles GET /v1/planner/registry.
//
// Description:
//
//	Lists the partition definitions currently loaded, after any hot
//	reloads. Useful for checking what the completeness prover will
//	hold cohort caches against.
func (h *Handlers) HandleRegistry(c *gin.Context) {
	parts := h.svc.Partitions()
	c.JSON(http.StatusOK, RegistryResponse{
		Partitions: parts,
		Count:      len(parts),
	})
}

// HandlePlan handles POST /v1/planner/plan.
//
// Description:
//
//	Normalizes the submitted queries and compiles a fetch plan against
//	the current cache snapshot. Nothing is fetched or written; the plan
//	can be inspected, diffed, or submitted to /execute later.
//
// Request Body:
//
//	PlanRequest
//
// Response:
//
//	200 OK: PlanResponse
//	400 Bad Request: Malformed body or invalid query
//	503 Service Unavailable: Cache backend unreachable
func (h *Handlers) HandlePlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePlan")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	now := referenceNow(req.ReferenceNow)
	logger.Info("Building plan", "queries", len(req.Queries), "reference_now", now)

	p, err := h.svc.BuildPlan(c.Request.Context(), req.Queries, now)
	if err != nil {
		statusCode, errCode := statusFor(err, "PLAN_FAILED")
		logger.Error("Plan build failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	resp, err := planResponse(p, req.Explain)
	if err != nil {
		logger.Error("Plan encoding failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "PLAN_FAILED",
		})
		return
	}

	fetch, covered, unfetchable := p.Counts()
	logger.Info("Plan built",
		"fingerprint", resp.Fingerprint,
		"fetch", fetch,
		"covered", covered,
		"unfetchable", unfetchable)

	c.JSON(http.StatusOK, resp)
}

// planResponse renders a plan in its canonical byte form so the response
// body hashes to the reported fingerprint.
func planResponse(p *plan.Plan, explain bool) (*PlanResponse, error) {
	canonical, err := p.Canonical()
	if err != nil {
		return nil, err
	}
	fingerprint, err := p.Fingerprint()
	if err != nil {
		return nil, err
	}
	resp := &PlanResponse{Plan: canonical, Fingerprint: fingerprint}
	if explain {
		resp.Explanations = plan.Explain(p)
	}
	return resp, nil
}

// HandleExplain handles POST /v1/planner/plan/explain.
//
// Description:
//
//	Compiles a plan exactly as /plan would and returns only the per-item
//	decision trail: what each query needs, what the cache already holds,
//	and why each fetch window exists.
//
// Request Body:
//
//	PlanRequest
//
// Response:
//
//	200 OK: ExplainResponse
//	400 Bad Request: Malformed body or invalid query
//	503 Service Unavailable: Cache backend unreachable
func (h *Handlers) HandleExplain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExplain")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	now := referenceNow(req.ReferenceNow)
	p, err := h.svc.BuildPlan(c.Request.Context(), req.Queries, now)
	if err != nil {
		statusCode, errCode := statusFor(err, "PLAN_FAILED")
		logger.Error("Plan build failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	fingerprint, err := p.Fingerprint()
	if err != nil {
		logger.Error("Plan encoding failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "PLAN_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, ExplainResponse{
		Fingerprint: fingerprint,
		Items:       plan.Explain(p),
	})
}

// HandleExecute handles POST /v1/planner/execute.
//
// Description:
//
//	Executes a compiled plan: fetches every planned window through the
//	gateway and merges the rows into the cache. In dry-run mode it walks
//	the identical state machine without fetching or writing.
//
// Request Body:
//
//	ExecuteRequest
//
// Response:
//
//	200 OK: executor result with per-item, per-window outcomes
//	400 Bad Request: Malformed body
//	503 Service Unavailable: Cache backend unreachable
func (h *Handlers) HandleExecute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExecute")

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	logger.Info("Executing plan", "items", len(req.Plan.Items), "dry_run", req.DryRun)

	res, err := h.svc.Execute(c.Request.Context(), req.Plan, executor.Options{
		DryRun:      req.DryRun,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		statusCode, errCode := statusFor(err, "EXECUTE_FAILED")
		logger.Error("Execute failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	succeeded, transient, terminal := res.Counts()
	logger.Info("Plan executed",
		"fingerprint", res.PlanFingerprint,
		"succeeded", succeeded,
		"transient", transient,
		"terminal", terminal,
		"merged_entries", res.MergedEntries())

	c.JSON(http.StatusOK, res)
}

// HandleConverge handles POST /v1/planner/converge.
//
// Description:
//
//	Runs plan/execute rounds until the queries are fully covered or a
//	bound stops the run. The report is returned with 200 even when the
//	run stopped on its iteration cap, its budget, or client cancellation;
//	the stop reason inside the report says which. Only failures that
//	prevented the loop from running at all are mapped to error statuses.
//
// Request Body:
//
//	ConvergeRequest
//
// Response:
//
//	200 OK: converge report
//	400 Bad Request: Malformed body or invalid query
//	503 Service Unavailable: Cache backend unreachable
func (h *Handlers) HandleConverge(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConverge")

	var req ConvergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	now := referenceNow(req.ReferenceNow)
	logger.Info("Converge run starting",
		"queries", len(req.Queries),
		"max_iterations", req.MaxIterations,
		"budget_seconds", req.BudgetSeconds,
		"dry_run", req.DryRun)

	report, err := h.svc.Converge(c.Request.Context(), req.Queries, now, req.options())
	if err != nil {
		budgetStop := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		if report == nil || !budgetStop {
			statusCode, errCode := statusFor(err, "CONVERGE_FAILED")
			logger.Error("Converge run failed", "error", err)
			c.JSON(statusCode, ErrorResponse{
				Error: err.Error(),
				Code:  errCode,
			})
			return
		}
		logger.Warn("Converge run stopped early",
			"run_id", report.RunID,
			"stop_reason", report.StopReason)
	}

	c.JSON(http.StatusOK, report)
}
