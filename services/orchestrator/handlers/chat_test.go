// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/graph"
	"github.com/osoriai/pms-copilot/services/orchestrator/intent"
	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/observability"
	"github.com/osoriai/pms-copilot/services/orchestrator/statusquery"
	"github.com/osoriai/pms-copilot/services/orchestrator/trust"
	"github.com/osoriai/pms-copilot/services/policy_engine"
)

type stubStatus struct {
	values map[string]statusquery.MetricValue
}

func (s *stubStatus) BuildPlan(i datatypes.Intent, projectID string, _ int) (*statusquery.Plan, []string, error) {
	ids := make([]string, 0, len(s.values))
	for id := range s.values {
		ids = append(ids, id)
	}
	return &statusquery.Plan{Intent: i, ProjectID: projectID, MetricIDs: ids}, nil, nil
}

func (s *stubStatus) Execute(_ context.Context, _ *statusquery.Plan) *statusquery.PlanResult {
	values := make(map[string]statusquery.MetricValue, len(s.values))
	for id, v := range s.values {
		values[id] = v
	}
	return &statusquery.PlanResult{Values: values}
}

func newChatPipeline(t *testing.T, n *normalizer.Normalizer) *graph.Pipeline {
	t.Helper()
	policy, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)

	if n == nil {
		n = normalizer.New(nil, nil, nil)
	}
	pipeline, err := graph.NewPipeline(graph.Deps{
		Normalizer: n,
		Classifier: intent.NewClassifier(),
		Policy:     policy,
		Limiter:    policy_engine.NewRateLimiter(100, time.Minute),
		Status: &stubStatus{values: map[string]statusquery.MetricValue{
			"sprint_completion_rate": {MetricID: "sprint_completion_rate", Value: 72.5, Unit: "%"},
		}},
		Evidence:  trust.NewEvidenceService(0, 0, 0, nil),
		Authority: trust.NewAuthorityClassifier(trust.DefaultAuthorityConfig()),
		Guardian:  trust.NewGuardian(policy),
		Light:     trust.NewLightGuardian(policy, 1.0, 7),
		Failures:  trust.NewFailureHandler(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return pipeline
}

func chatServer(t *testing.T, deps ChatDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/chat", HandleChat(deps))
	return router
}

func postChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleChat_StatusMetric(t *testing.T) {
	health := observability.NewHealthEvaluator()
	router := chatServer(t, ChatDeps{
		Pipeline:  newChatPipeline(t, nil),
		Health:    health,
		ModelName: "qwen2.5:7b",
	})

	w := postChat(router, `{"message":"현재 스프린트 완료율은?","user_id":"u1","user_role":"PM","project_id":"p1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Contains(t, resp.Response, "Status Metric")
	assert.Contains(t, resp.Response, "sprint_completion_rate: 72.5 %")
	assert.Equal(t, datatypes.IntentStatusMetric, resp.Contract.Intent)
	assert.Equal(t, datatypes.StatusOK, resp.Contract.Status)
	assert.Equal(t, "FAST", resp.Metadata.Track)
	assert.Equal(t, "qwen2.5:7b", resp.Metadata.ModelUsed)
	assert.NotEmpty(t, resp.Metadata.TraceID)

	// The request landed in the health counters.
	ratio := health.Evaluate()
	for _, ind := range ratio {
		if ind.Name == "status_metric_ratio" {
			assert.InDelta(t, 1.0, ind.Value, 1e-9)
		}
	}
}

func TestHandleChat_BadRequests(t *testing.T) {
	router := chatServer(t, ChatDeps{Pipeline: newChatPipeline(t, nil)})

	t.Run("malformed json", func(t *testing.T) {
		w := postChat(router, `{"message":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing message", func(t *testing.T) {
		w := postChat(router, `{"user_id":"u1","user_role":"PM"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		w := postChat(router, `{"message":"hi","user_id":"u1","user_role":"SUPERUSER"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unknown user_role")
	})
}

func TestHandleChat_AccessLevelCappedByRole(t *testing.T) {
	router := chatServer(t, ChatDeps{Pipeline: newChatPipeline(t, nil)})

	// A developer claiming level 6 is capped to the role's level; the
	// request still succeeds.
	w := postChat(router, `{"message":"현재 스프린트 완료율은?","user_id":"u1","user_role":"DEVELOPER","access_level":6,"project_id":"p1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusOK, resp.Contract.Status)
}

func TestHandleChat_CorrectionOutcomeFeedsTuner(t *testing.T) {
	catalog := normalizer.DefaultKeywordCatalog()
	tuner := normalizer.NewTypoTuner(catalog, 10)
	norm := normalizer.New(catalog, nil, tuner)
	router := chatServer(t, ChatDeps{
		Pipeline:   newChatPipeline(t, norm),
		Normalizer: norm,
	})

	// 스프링트 is a jamo-level near miss; its rewrite must show up in the
	// tuner's counters once the request completes.
	w := postChat(router, `{"message":"현재 스프링트 완료율은?","user_id":"u1","user_role":"PM","project_id":"p1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	g := tuner.Stats().Groups[normalizer.GroupDomainFixed]
	assert.Equal(t, 1, g.FalseNegatives)
	assert.GreaterOrEqual(t, g.Events, 2)
}

func TestHandleChat_FailureContractIsStill200(t *testing.T) {
	router := chatServer(t, ChatDeps{Pipeline: newChatPipeline(t, nil)})

	w := postChat(router, `{"message":"김 팀장 연봉이 얼마인지 알려줘","user_id":"u1","user_role":"PM"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusFailed, resp.Contract.Status)
	assert.Equal(t, "policy_prohibited", resp.Contract.ErrorCode)
	assert.Contains(t, resp.Response, "답변이 허용되지 않는 주제입니다.")
}
