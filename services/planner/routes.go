// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all planner routes with the router.
//
// Description:
//
//	Registers all /v1/planner/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/planner/health - Health check
//	GET  /v1/planner/registry - List partition definitions
//	POST /v1/planner/plan - Compile a fetch plan
//	POST /v1/planner/plan/explain - Explain per-item coverage decisions
//	POST /v1/planner/execute - Execute a compiled plan
//	POST /v1/planner/converge - Run plan/execute rounds to convergence
//	GET  /v1/planner/converge/ws - Converge with live progress (WebSocket)
//
// Example:
//
//	svc, err := planner.NewService(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	handlers := planner.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	planner.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	planner := rg.Group("/planner")
	{
		// Introspection
		planner.GET("/health", handlers.HandleHealth)
		planner.GET("/registry", handlers.HandleRegistry)

		// Planning
		planner.POST("/plan", handlers.HandlePlan)
		planner.POST("/plan/explain", handlers.HandleExplain)

		// Execution
		planner.POST("/execute", handlers.HandleExecute)
		planner.POST("/converge", handlers.HandleConverge)
		planner.GET("/converge/ws", handlers.HandleConvergeWS)
	}
}
