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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("pms.statusquery")

// DefaultMetricTimeout bounds each metric's execution.
const DefaultMetricTimeout = 5 * time.Second

// MetricRunner executes one metric template. Abstracted so plans can be
// exercised without a database.
type MetricRunner interface {
	RunMetric(ctx context.Context, sql, projectID string) (any, error)
}

// PgxMetricRunner runs metric templates on a pgx pool.
type PgxMetricRunner struct {
	Pool *pgxpool.Pool
}

var _ MetricRunner = (*PgxMetricRunner)(nil)

// RunMetric executes the template with project_id bound server-side and
// scans the single scalar result.
func (r *PgxMetricRunner) RunMetric(ctx context.Context, sql, projectID string) (any, error) {
	var value any
	err := r.Pool.QueryRow(ctx, sql, pgx.NamedArgs{"project_id": projectID}).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Plan is a validated set of metrics to execute for one request.
type Plan struct {
	Intent    datatypes.Intent
	ProjectID string
	MetricIDs []string
}

// MetricValue is one executed metric.
type MetricValue struct {
	MetricID string `json:"metric_id"`
	Value    any    `json:"value"`
	Unit     string `json:"unit"`
}

// PlanResult is the typed outcome of a plan execution.
type PlanResult struct {
	// Values holds successful metrics keyed by id.
	Values map[string]MetricValue `json:"values"`

	// DataGaps lists metric ids that were planned but produced no value,
	// either dropped at validation or failed at execution.
	DataGaps []string `json:"data_gaps"`
}

// Engine builds and executes status query plans.
type Engine struct {
	catalog *Catalog
	runner  MetricRunner
	timeout time.Duration
}

// NewEngine wires the engine over the catalog and a runner.
func NewEngine(catalog *Catalog, runner MetricRunner) *Engine {
	return &Engine{catalog: catalog, runner: runner, timeout: DefaultMetricTimeout}
}

// BuildPlan computes the metric selection for the intent, filtered by the
// caller's access level.
//
// # Outputs
//
//	*Plan - The metrics the caller may execute, catalog order preserved.
//	[]string - Metric ids dropped by the access filter (reported as gaps).
//	error - Unknown intent for this engine, or missing project binding for
//	    a plan containing project-scoped metrics.
func (e *Engine) BuildPlan(intent datatypes.Intent, projectID string, accessLevel int) (*Plan, []string, error) {
	ids := e.catalog.MetricsForIntent(intent)
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("intent %s has no status metrics", intent)
	}

	var allowed []string
	var dropped []string
	needsProject := false
	for _, id := range ids {
		m, ok := e.catalog.Metric(id)
		if !ok {
			dropped = append(dropped, id)
			continue
		}
		if accessLevel < m.RequiredAccessLevel {
			dropped = append(dropped, id)
			continue
		}
		if m.ProjectScoped {
			needsProject = true
		}
		allowed = append(allowed, id)
	}
	if len(allowed) == 0 {
		return nil, dropped, fmt.Errorf("access level %d unlocks no metrics for %s", accessLevel, intent)
	}
	if needsProject && projectID == "" {
		return nil, dropped, fmt.Errorf("intent %s requires a project binding", intent)
	}

	return &Plan{Intent: intent, ProjectID: projectID, MetricIDs: allowed}, dropped, nil
}

// Execute runs every metric in the plan with per-metric error isolation:
// one failing metric becomes a data gap, the rest still report.
func (e *Engine) Execute(ctx context.Context, plan *Plan) *PlanResult {
	ctx, span := tracer.Start(ctx, "statusquery.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("intent", string(plan.Intent)),
		attribute.Int("metrics", len(plan.MetricIDs)),
	)

	result := &PlanResult{Values: make(map[string]MetricValue, len(plan.MetricIDs))}
	for _, id := range plan.MetricIDs {
		m, ok := e.catalog.Metric(id)
		if !ok {
			result.DataGaps = append(result.DataGaps, id)
			continue
		}

		metricCtx, cancel := context.WithTimeout(ctx, e.timeout)
		value, err := e.runner.RunMetric(metricCtx, m.SQL, plan.ProjectID)
		cancel()
		if err != nil {
			span.AddEvent("metric failed", trace.WithAttributes(
				attribute.String("metric_id", id),
				attribute.String("error", err.Error()),
			))
			result.DataGaps = append(result.DataGaps, id)
			continue
		}
		result.Values[id] = MetricValue{MetricID: id, Value: value, Unit: m.Unit}
	}
	return result
}
