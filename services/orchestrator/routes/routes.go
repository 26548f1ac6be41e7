// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osoriai/pms-copilot/services/orchestrator/handlers"
	"github.com/osoriai/pms-copilot/services/orchestrator/intent"
	"github.com/osoriai/pms-copilot/services/orchestrator/middleware"
)

// Deps carries the wired handler dependencies from the container.
type Deps struct {
	Chat       handlers.ChatDeps
	Admin      handlers.AdminDeps
	Query      handlers.QueryRunner
	Classifier *intent.Classifier
	Readiness  handlers.Readiness
}

// SetupRoutes mounts the copilot API on the router.
//
// Public surface: /healthz, /metrics, /v1/chat, /v1/text2query. The admin
// group additionally requires gateway identity headers and an admin role.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", handlers.HealthCheck(deps.Readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat", handlers.HandleChat(deps.Chat))
		if deps.Query != nil {
			v1.POST("/text2query", handlers.HandleText2Query(deps.Query, deps.Classifier))
		}

		admin := v1.Group("/admin", middleware.CallerFromHeaders(), middleware.RequireAdmin())
		{
			admin.GET("/normalization/stats", handlers.NormalizationStats(deps.Admin))
			admin.GET("/normalization/candidates", handlers.NormalizationCandidates(deps.Admin))
			admin.GET("/normalization/shadow-dict", handlers.ShadowDictionary(deps.Admin))
			admin.POST("/normalization/shadow-dict/promote", handlers.PromoteCorrection(deps.Admin))
			admin.POST("/schema/reload", handlers.ReloadSchema(deps.Admin))
			admin.GET("/health/indicators", handlers.HealthIndicators(deps.Admin))
			admin.POST("/health/reset", handlers.ResetHealthCounters(deps.Admin))
		}
	}
}
