// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// Readiness is the wiring-time snapshot the health probe reports.
type Readiness struct {
	ModelName     string
	RAGReady      bool
	WorkflowReady bool
}

// HealthCheck answers GET /healthz. Liveness only: it reflects what was
// wired at startup, not live backend reachability.
func HealthCheck(r Readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			ModelLoaded:      r.ModelName != "",
			RAGReady:         r.RAGReady,
			WorkflowReady:    r.WorkflowReady,
			CurrentModelPath: r.ModelName,
		})
	}
}
