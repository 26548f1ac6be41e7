// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statusquery

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// fakeRunner returns canned values per SQL fragment and can fail on demand.
type fakeRunner struct {
	values  map[string]any // keyed by a distinctive SQL substring
	failOn  string
	calls   int
	gotPIDs []string
}

func (f *fakeRunner) RunMetric(_ context.Context, sql, projectID string) (any, error) {
	f.calls++
	f.gotPIDs = append(f.gotPIDs, projectID)
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return nil, fmt.Errorf("relation does not exist")
	}
	for frag, v := range f.values {
		if strings.Contains(sql, frag) {
			return v, nil
		}
	}
	return 0, nil
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	t.Run("known metric resolves", func(t *testing.T) {
		m, ok := c.Metric("sprint_completion_rate")
		require.True(t, ok)
		assert.Equal(t, "percent", m.Unit)
		assert.True(t, m.ProjectScoped)
		assert.Contains(t, m.SQL, "@project_id")
	})

	t.Run("every intent mapping resolves", func(t *testing.T) {
		for intentName, ids := range c.IntentMetrics {
			assert.NotEmpty(t, ids, "intent %s maps to no metrics", intentName)
			for _, id := range ids {
				_, ok := c.Metric(id)
				assert.True(t, ok, "intent %s references unknown metric %s", intentName, id)
			}
		}
	})

	t.Run("project scoped metrics bind project_id", func(t *testing.T) {
		for _, m := range c.Metrics {
			if m.ProjectScoped {
				assert.Contains(t, m.SQL, "@project_id", "metric %s", m.ID)
			} else {
				assert.NotContains(t, m.SQL, "@project_id", "metric %s", m.ID)
			}
		}
	})
}

func TestParseCatalog_Rejections(t *testing.T) {
	t.Run("duplicate id", func(t *testing.T) {
		_, err := parseCatalog([]byte(`
metrics:
  - id: a
    sql: SELECT 1
  - id: a
    sql: SELECT 2
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("intent referencing unknown metric", func(t *testing.T) {
		_, err := parseCatalog([]byte(`
metrics:
  - id: a
    sql: SELECT 1
intent_metrics:
  STATUS_METRIC: [a, ghost]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("empty catalog", func(t *testing.T) {
		_, err := parseCatalog([]byte(`metrics: []`))
		require.Error(t, err)
	})
}

func TestBuildPlan(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)
	e := NewEngine(c, &fakeRunner{})

	t.Run("access filter drops locked metrics", func(t *testing.T) {
		// open_risk_count needs level 2; a level-1 caller loses it.
		plan, dropped, err := e.BuildPlan(datatypes.IntentProjectOverview, "p1", 1)
		require.NoError(t, err)
		assert.NotContains(t, plan.MetricIDs, "open_risk_count")
		assert.Contains(t, dropped, "open_risk_count")
		assert.Contains(t, plan.MetricIDs, "project_progress_rate")
	})

	t.Run("catalog order preserved", func(t *testing.T) {
		plan, _, err := e.BuildPlan(datatypes.IntentSprintProgress, "p1", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"sprint_completion_rate", "sprint_task_total", "sprint_days_remaining"}, plan.MetricIDs)
	})

	t.Run("project binding required", func(t *testing.T) {
		_, _, err := e.BuildPlan(datatypes.IntentSprintProgress, "", 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project")
	})

	t.Run("portfolio metrics need no project", func(t *testing.T) {
		plan, _, err := e.BuildPlan(datatypes.IntentPortfolioSummary, "", 3)
		require.NoError(t, err)
		assert.Len(t, plan.MetricIDs, 2)
	})

	t.Run("insufficient access for all metrics", func(t *testing.T) {
		_, _, err := e.BuildPlan(datatypes.IntentPortfolioSummary, "", 1)
		require.Error(t, err)
	})

	t.Run("non status intent", func(t *testing.T) {
		_, _, err := e.BuildPlan(datatypes.IntentBacklogList, "p1", 3)
		require.Error(t, err)
	})
}

func TestExecute_PerMetricIsolation(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	runner := &fakeRunner{
		values: map[string]any{
			"FILTER (WHERE t.status = 'done')": 62.5,
			"s.end_date":                       4,
		},
		failOn: "COUNT(*)\nFROM task.tasks t\nJOIN task.sprints",
	}
	e := NewEngine(c, runner)

	plan, _, err := e.BuildPlan(datatypes.IntentSprintProgress, "p1", 2)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)

	// sprint_task_total failed; the other two still report.
	assert.Contains(t, res.DataGaps, "sprint_task_total")
	require.Contains(t, res.Values, "sprint_completion_rate")
	assert.Equal(t, 62.5, res.Values["sprint_completion_rate"].Value)
	assert.Equal(t, "percent", res.Values["sprint_completion_rate"].Unit)
	require.Contains(t, res.Values, "sprint_days_remaining")
	assert.Equal(t, 3, runner.calls)
	for _, pid := range runner.gotPIDs {
		assert.Equal(t, "p1", pid)
	}
}
