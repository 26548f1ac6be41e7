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

	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/observability"
	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

// AdminDeps is the operator surface: typo tuner state, shadow dictionary
// promotion, schema reload, and health indicators. Fields may be nil when
// the corresponding subsystem is not wired; the handlers answer 503 then.
type AdminDeps struct {
	Tuner  *normalizer.TypoTuner
	Shadow *normalizer.ShadowDict
	Schema *schema.Service
	Health *observability.HealthEvaluator
}

// NormalizationStats answers GET /v1/admin/normalization/stats.
func NormalizationStats(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Tuner == nil || deps.Shadow == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "typo tuner not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tuner":  deps.Tuner.Stats(),
			"shadow": deps.Shadow.Stats(),
		})
	}
}

// NormalizationCandidates answers GET /v1/admin/normalization/candidates:
// the corrections the tuner recommends and the shadow entries awaiting
// promotion.
func NormalizationCandidates(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Tuner == nil || deps.Shadow == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "typo tuner not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recommendations": deps.Tuner.Recommendations(),
			"candidates":      deps.Shadow.Candidates(),
		})
	}
}

// ShadowDictionary answers GET /v1/admin/normalization/shadow-dict: the
// promoted correction set plus the candidates awaiting promotion.
func ShadowDictionary(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Shadow == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow dictionary not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"promoted":   deps.Shadow.PromotedEntries(),
			"candidates": deps.Shadow.Candidates(),
			"stats":      deps.Shadow.Stats(),
		})
	}
}

type promoteRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// PromoteCorrection answers POST /v1/admin/normalization/shadow-dict/promote:
// moves a shadow candidate into the live correction set.
func PromoteCorrection(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Shadow == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow dictionary not configured"})
			return
		}
		var req promoteRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := deps.Shadow.Promote(req.From, req.To); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"promoted": req.From, "to": req.To})
	}
}

// ReloadSchema answers POST /v1/admin/schema/reload: re-reads the MDL file
// and swaps the schema graph in place.
func ReloadSchema(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Schema == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schema service not configured"})
			return
		}
		if err := deps.Schema.Reload(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reloaded": true, "stale": deps.Schema.Stale()})
	}
}

// HealthIndicators answers GET /v1/admin/health/indicators.
func HealthIndicators(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health evaluator not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"indicators": deps.Health.Evaluate()})
	}
}

// ResetHealthCounters answers POST /v1/admin/health/reset. Operators call
// it after acting on an alert so the rolling window starts fresh.
func ResetHealthCounters(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health evaluator not configured"})
			return
		}
		deps.Health.Reset()
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}
