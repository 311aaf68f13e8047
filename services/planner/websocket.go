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

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/graphsheet/seriessync/services/planner/converge"
	"github.com/graphsheet/seriessync/services/planner/executor"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// wsFrame is one message on the converge stream. Exactly one of the
// payload fields is set, named by Type.
type wsFrame struct {
	Type   string           `json:"type"` // "event", "report", or "error"
	Event  *executor.Event  `json:"event,omitempty"`
	Report *converge.Report `json:"report,omitempty"`
	Error  *ErrorResponse   `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleConvergeWS handles GET /v1/planner/converge/ws.
//
// Description:
//
//	Runs a converge with live progress. The client sends one
//	ConvergeRequest frame after the upgrade, then receives an "event"
//	frame per executor notification and a final "report" frame when the
//	run ends. Closing the socket cancels the run.
//
//	Event frames are written from the run itself and the executor
//	serializes its callbacks, so frames never interleave; the report
//	frame is written only after the run has returned.
func (h *Handlers) HandleConvergeWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConvergeWS")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var req ConvergeRequest
	if err := ws.ReadJSON(&req); err != nil {
		logger.Warn("Invalid converge frame", "error", err)
		_ = sendJSON(ws, wsFrame{Type: "error", Error: &ErrorResponse{
			Error:   "Invalid converge request",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		}})
		return
	}
	// ReadJSON does not run binding validation.
	if len(req.Queries) == 0 {
		_ = sendJSON(ws, wsFrame{Type: "error", Error: &ErrorResponse{
			Error: "queries must not be empty",
			Code:  "INVALID_REQUEST",
		}})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The only reads left are pings and the close frame; an error here
	// means the client went away, which cancels the run.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	opts := req.options()
	opts.OnEvent = func(ev executor.Event) {
		if err := sendJSON(ws, wsFrame{Type: "event", Event: &ev}); err != nil {
			cancel()
		}
	}

	now := referenceNow(req.ReferenceNow)
	logger.Info("Converge stream started",
		"queries", len(req.Queries),
		"dry_run", req.DryRun)

	report, err := h.svc.Converge(ctx, req.Queries, now, opts)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		logger.Error("Converge run failed", "error", err)
		_ = sendJSON(ws, wsFrame{Type: "error", Error: &ErrorResponse{
			Error: err.Error(),
			Code:  "CONVERGE_FAILED",
		}})
	}
	if report != nil {
		_ = sendJSON(ws, wsFrame{Type: "report", Report: report})
		logger.Info("Converge stream finished",
			"run_id", report.RunID,
			"converged", report.Converged,
			"stop_reason", report.StopReason)
	}
}
