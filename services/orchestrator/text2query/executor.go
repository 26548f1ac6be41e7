// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SafeExecutionConfig bounds every query execution.
type SafeExecutionConfig struct {
	TimeoutMS   int
	MaxRows     int
	MaxMemoryMB int
}

// DefaultSafeExecutionConfig returns the shipped execution limits.
func DefaultSafeExecutionConfig() SafeExecutionConfig {
	return SafeExecutionConfig{TimeoutMS: 5000, MaxRows: 100, MaxMemoryMB: 256}
}

// ExecutionResult is the executor's typed outcome. Driver errors are folded
// into Error; the struct itself is always well-formed.
type ExecutionResult struct {
	Success    bool             `json:"success"`
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	Error      string           `json:"error,omitempty"`
	ExecTimeMS int64            `json:"exec_time_ms"`
}

// Executor runs validated queries read-only against PostgreSQL.
//
// Parameters are always bound server-side. The :project_id placeholder the
// generator and validator work with is rewritten to pgx named-argument form
// just before execution; the value never touches the query text.
type Executor struct {
	pool *pgxpool.Pool
	cfg  SafeExecutionConfig
}

// NewExecutor wires the executor over a pgx pool.
func NewExecutor(pool *pgxpool.Pool, cfg SafeExecutionConfig) *Executor {
	if cfg.TimeoutMS <= 0 {
		cfg = DefaultSafeExecutionConfig()
	}
	return &Executor{pool: pool, cfg: cfg}
}

// Execute runs the query with projectID bound. Never returns a non-nil
// error for query-level failures; those land in ExecutionResult.Error so
// the caller can fold them into the failure taxonomy.
func (e *Executor) Execute(ctx context.Context, query, projectID string) *ExecutionResult {
	ctx, span := tracer.Start(ctx, "text2query.Execute")
	defer span.End()

	start := time.Now()
	fail := func(err error) *ExecutionResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return &ExecutionResult{
			Success:    false,
			Columns:    []string{},
			Rows:       []map[string]any{},
			Error:      err.Error(),
			ExecTimeMS: time.Since(start).Milliseconds(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fail(fmt.Errorf("beginning read-only transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.cfg.TimeoutMS)); err != nil {
		return fail(fmt.Errorf("setting statement timeout: %w", err))
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL work_mem = '%dMB'", e.cfg.MaxMemoryMB)); err != nil {
		return fail(fmt.Errorf("setting work_mem: %w", err))
	}

	bound := strings.ReplaceAll(query, ":project_id", "@project_id")
	rows, err := tx.Query(ctx, bound, pgx.NamedArgs{"project_id": projectID})
	if err != nil {
		return fail(err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, d := range descs {
		columns[i] = d.Name
	}

	out := make([]map[string]any, 0, e.cfg.MaxRows)
	for rows.Next() {
		if len(out) >= e.cfg.MaxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return fail(err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return fail(err)
	}

	span.SetAttributes(attribute.Int("row_count", len(out)))
	return &ExecutionResult{
		Success:    true,
		Columns:    columns,
		Rows:       out,
		RowCount:   len(out),
		ExecTimeMS: time.Since(start).Milliseconds(),
	}
}
