// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the copilot: the chat
// endpoint, the direct NL-to-query endpoint, the health probe, and the
// operator admin endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/graph"
	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/observability"
)

var tracer = otel.Tracer("pms.handlers")

// ChatDeps is everything the chat handler closes over.
type ChatDeps struct {
	Pipeline *graph.Pipeline
	Recorder *observability.Recorder
	Health   *observability.HealthEvaluator
	// Normalizer receives outcome signals that tune typo corrections.
	Normalizer *normalizer.Normalizer
	// ModelName labels response metadata with the composing model.
	ModelName string
}

// HandleChat answers POST /v1/chat.
//
// # Description
//
// Parses and validates the request, derives the caller context (the access
// level is capped by the role, never trusted from the wire), runs the
// answering pipeline, and returns the rendered text plus the structured
// contract. Contract-level failures still return HTTP 200: the failure is
// part of the answer, shaped by the failure taxonomy. Non-200 statuses are
// reserved for malformed requests and wiring faults.
func HandleChat(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		caller := datatypes.NewCallerContext(req.UserID, req.UserRole, req.AccessLevel, req.ProjectID)
		caller.SessionID = req.SessionID
		span.SetAttributes(attribute.String("trace_id", caller.TraceID))

		start := time.Now()
		state, err := deps.Pipeline.Run(ctx, caller, req.Message)
		elapsed := time.Since(start)
		if err != nil || state.Contract == nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				slog.Error("pipeline run failed", "trace_id", caller.TraceID, "error", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "trace_id": caller.TraceID})
			return
		}

		recordOutcome(deps, state, elapsed)

		c.JSON(http.StatusOK, datatypes.ChatResponse{
			Response: state.Rendered,
			Contract: *state.Contract,
			Metadata: datatypes.ResponseMetadata{
				TraceID:          caller.TraceID,
				Timestamp:        time.Now().Unix(),
				ProcessingTimeMs: elapsed.Milliseconds(),
				ModelUsed:        deps.ModelName,
				Track:            string(state.Track),
			},
		})
	}
}

// recordOutcome feeds the metrics recorder and the health evaluator. Both
// are optional so tests can wire a bare pipeline.
func recordOutcome(deps ChatDeps, s *graph.State, elapsed time.Duration) {
	intentName := string(s.Classification.Intent)
	family := datatypes.FamilyOf(s.Classification.Intent)
	failed := s.Failed()

	if deps.Recorder != nil {
		obs := observability.RequestObservation{
			Intent:             intentName,
			Track:              string(s.Track),
			SessionID:          s.Caller.SessionID,
			Failed:             failed,
			Duration:           elapsed,
			NodeDurations:      make(map[string]time.Duration, len(s.Timings)),
			AskedClarification: !failed && s.Classification.Intent == datatypes.IntentClarificationNeeded,
		}
		if failed {
			obs.Code = string(s.Failure.Code)
		}
		for _, t := range s.Timings {
			obs.NodeDurations[t.Node] += t.Duration
		}
		deps.Recorder.Observe(obs)
	}

	if deps.Health != nil {
		deps.Health.Record(intentName,
			family == datatypes.FamilyStatus,
			family == datatypes.FamilyList,
			!failed && emptyAnswer(s),
			failed,
		)
	}

	if deps.Normalizer != nil {
		deps.Normalizer.RecordOutcome(s.Caller.SessionID, s.Normalization, emptyAnswer(s), failed)
	}
}

// emptyAnswer reports whether a successful answer carried no data, per the
// intent family's notion of data.
func emptyAnswer(s *graph.State) bool {
	switch datatypes.FamilyOf(s.Classification.Intent) {
	case datatypes.FamilyStatus:
		return s.StatusResult == nil || len(s.StatusResult.Values) == 0
	case datatypes.FamilyList:
		return s.QueryResult == nil || s.QueryResult.Execution == nil || len(s.QueryResult.Execution.Rows) == 0
	case datatypes.FamilyKnowledge, datatypes.FamilyAnalysis, datatypes.FamilyGovernance:
		return s.Composed == "" && (s.Retrieval == nil || len(s.Retrieval.Chunks) == 0)
	default:
		return false
	}
}
