// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/llm"
	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

// scriptedLLM replays canned outputs in order; the last output repeats.
type scriptedLLM struct {
	outputs []string
	calls   int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	idx := s.calls
	if idx >= len(s.outputs) {
		idx = len(s.outputs) - 1
	}
	s.calls++
	return s.outputs[idx], nil
}

func (s *scriptedLLM) ModelName() string { return "scripted" }

// fakeExecutor returns a fixed result without touching a database.
type fakeExecutor struct {
	result *ExecutionResult
	gotQ   string
	gotPID string
}

func (f *fakeExecutor) Execute(_ context.Context, query, projectID string) *ExecutionResult {
	f.gotQ, f.gotPID = query, projectID
	return f.result
}

func testSchemaService(t *testing.T) *schema.Service {
	t.Helper()
	mdl := &schema.MDL{
		Models: []schema.Model{
			{
				Name:           "tasks",
				TableReference: schema.TableReference{Schema: "task", Table: "tasks"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "status", Type: "text"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "backlog_items",
				TableReference: schema.TableReference{Schema: "task", Table: "backlog_items"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "priority", Type: "int"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "meetings",
				TableReference: schema.TableReference{Schema: "doc", Table: "meetings"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "decisions",
				TableReference: schema.TableReference{Schema: "doc", Table: "decisions"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "task_assignees",
				TableReference: schema.TableReference{Schema: "task", Table: "task_assignees"},
				Columns: []schema.Column{
					{Name: "task_id", Type: "uuid"},
					{Name: "user_id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
				},
				ProjectScoped: true,
			},
		},
	}
	raw, err := json.Marshal(mdl)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mdl.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	svc, err := schema.NewService(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_Run_SuccessFirstDraft(t *testing.T) {
	schemaSvc := testSchemaService(t)
	client := &scriptedLLM{outputs: []string{
		"SELECT t1.title, t1.status FROM task.tasks t1 WHERE t1.status = 'testing' AND t1.project_id = :project_id LIMIT 100",
	}}
	exec := &fakeExecutor{result: &ExecutionResult{
		Success:  true,
		Columns:  []string{"title", "status"},
		Rows:     []map[string]any{{"title": "로그인 개선", "status": "testing"}},
		RowCount: 1,
	}}
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)

	svc := NewService(schemaSvc,
		NewGenerator(client, nil, store),
		NewCorrector(client, nil),
		exec, store)

	res, err := svc.Run(context.Background(), Request{
		Question:  "테스트 중인 task는?",
		Intent:    datatypes.IntentTasksByStatus,
		ProjectID: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Execution)
	assert.True(t, res.Execution.Success)
	assert.Equal(t, "p1", exec.gotPID)
	assert.Equal(t, 1, store.Count(), "successful execution must grow the few-shot store")
}

// First draft omits project scope; the validator reports SCOPE_MISSING, the
// corrector adds the predicate, the second validation passes, execution
// succeeds, and the few-shot store grows by one.
func TestService_Run_CorrectorRepairsScope(t *testing.T) {
	schemaSvc := testSchemaService(t)
	client := &scriptedLLM{outputs: []string{
		"SELECT t1.title FROM task.tasks t1 LIMIT 100",
		"SELECT t1.title FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 100",
	}}
	exec := &fakeExecutor{result: &ExecutionResult{Success: true, RowCount: 2,
		Columns: []string{"title"},
		Rows:    []map[string]any{{"title": "a"}, {"title": "b"}}}}
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)

	svc := NewService(schemaSvc,
		NewGenerator(client, nil, store),
		NewCorrector(client, nil),
		exec, store)

	res, err := svc.Run(context.Background(), Request{
		Question:  "태스크 제목 보여줘",
		Intent:    datatypes.IntentTasksByStatus,
		ProjectID: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.Query, ":project_id")
	assert.Empty(t, res.ValidationErrors)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 2, client.calls, "one generation plus one correction")
}

func TestService_Run_FatalValidationStopsImmediately(t *testing.T) {
	schemaSvc := testSchemaService(t)
	client := &scriptedLLM{outputs: []string{
		"SELECT id FROM task.tasks WHERE project_id = '1' OR 1=1",
	}}
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)
	exec := &fakeExecutor{result: &ExecutionResult{Success: true}}

	svc := NewService(schemaSvc,
		NewGenerator(client, nil, store),
		NewCorrector(client, nil),
		exec, store)

	_, err = svc.Run(context.Background(), Request{
		Question:  "태스크",
		Intent:    datatypes.IntentTasksByStatus,
		ProjectID: "p1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECURITY_VIOLATION")
	assert.Equal(t, 1, client.calls, "no correction for fatal findings")
	assert.Equal(t, 0, store.Count())
}

func TestService_Run_RetryBudgetExhausted(t *testing.T) {
	schemaSvc := testSchemaService(t)
	// Every draft keeps missing the LIMIT clause.
	client := &scriptedLLM{outputs: []string{
		"SELECT t1.title FROM task.tasks t1 WHERE t1.project_id = :project_id",
	}}
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)
	exec := &fakeExecutor{result: &ExecutionResult{Success: true}}

	svc := NewService(schemaSvc,
		NewGenerator(client, nil, store),
		NewCorrector(client, nil),
		exec, store)

	res, err := svc.Run(context.Background(), Request{
		Question:  "태스크",
		Intent:    datatypes.IntentTasksByStatus,
		ProjectID: "p1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_LIMIT")
	assert.Equal(t, MaxCorrectionRetries+1, res.Attempts)
	assert.Equal(t, 0, store.Count())
}

func TestService_Run_FailedExecutionDoesNotLearn(t *testing.T) {
	schemaSvc := testSchemaService(t)
	client := &scriptedLLM{outputs: []string{
		"SELECT t1.title FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 10",
	}}
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)
	exec := &fakeExecutor{result: &ExecutionResult{Success: false, Error: "connection refused"}}

	svc := NewService(schemaSvc,
		NewGenerator(client, nil, store),
		NewCorrector(client, nil),
		exec, store)

	res, err := svc.Run(context.Background(), Request{
		Question:  "태스크",
		Intent:    datatypes.IntentTasksByStatus,
		ProjectID: "p1",
	})
	require.NoError(t, err)
	assert.False(t, res.Execution.Success)
	assert.Equal(t, 0, store.Count())
}
