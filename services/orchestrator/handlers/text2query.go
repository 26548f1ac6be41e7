// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/intent"
	"github.com/osoriai/pms-copilot/services/orchestrator/text2query"
)

// QueryRunner is the NL-to-query surface this handler binds.
type QueryRunner interface {
	Run(ctx context.Context, req text2query.Request) (*text2query.Result, error)
}

// HandleText2Query answers POST /v1/text2query: the direct query surface
// used by the frontend's query builder, bypassing the full answer graph.
// The same validation layers apply; a query rejected on a security layer
// comes back as 403, not as a retryable error.
func HandleText2Query(runner QueryRunner, classifier *intent.Classifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleText2Query")
		defer span.End()

		var req datatypes.Text2QueryRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cls := classifier.Classify(req.Question, false)
		result, err := runner.Run(ctx, text2query.Request{
			Question:  req.Question,
			Intent:    cls.Intent,
			ProjectID: req.ProjectID,
			Dialect:   text2query.DialectFor(cls.Intent),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if strings.Contains(err.Error(), "FORBIDDEN") || strings.Contains(err.Error(), "SECURITY") {
				c.JSON(http.StatusForbidden, gin.H{"error": "query rejected by validation"})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		resp := datatypes.Text2QueryResponse{
			Confidence: cls.Confidence,
			QueryType:  string(cls.Intent),
			QueryUsed:  result.Query,
			Metrics: map[string]any{
				"attempts": result.Attempts,
			},
		}
		if result.Execution != nil {
			resp.ExecutionSuccess = result.Execution.Success
			resp.RowCount = result.Execution.RowCount
			resp.Metrics["exec_time_ms"] = result.Execution.ExecTimeMS
		}
		if resp.ExecutionSuccess {
			resp.Response = fmt.Sprintf("쿼리 실행 완료: 총 %d건", resp.RowCount)
		} else {
			resp.Response = "쿼리를 실행하지 못했습니다."
		}
		c.JSON(http.StatusOK, resp)
	}
}
