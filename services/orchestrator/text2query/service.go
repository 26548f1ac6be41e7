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

	"go.opentelemetry.io/otel/attribute"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

// QueryExecutor abstracts execution so the pipeline can be exercised
// without a database.
type QueryExecutor interface {
	Execute(ctx context.Context, query, projectID string) *ExecutionResult
}

var _ QueryExecutor = (*Executor)(nil)

// Request is one text-to-query invocation.
type Request struct {
	Question  string
	Intent    datatypes.Intent
	ProjectID string
	Dialect   Dialect
}

// DialectFor selects the query dialect for an intent: intents that read
// the document graph generate Cypher, everything else generates SQL over
// the relational schema.
func DialectFor(i datatypes.Intent) Dialect {
	if schema.ShouldRetrieveGraphSchema(i) {
		return DialectCypher
	}
	return DialectSQL
}

// Result is the pipeline outcome. Exactly one of Execution (success path)
// or ValidationErrors/Err describes what happened; Query always holds the
// last draft for observability.
type Result struct {
	Query            string
	Tables           []string
	Attempts         int
	Execution        *ExecutionResult
	ValidationErrors []ValidationError
}

// Service runs the generate → validate → correct → execute → learn path.
type Service struct {
	schemaSvc *schema.Service
	generator *Generator
	corrector *Corrector
	executor  QueryExecutor
	store     *FewShotStore
}

// NewService wires the pipeline. store may be nil to disable learning.
func NewService(schemaSvc *schema.Service, gen *Generator, corr *Corrector, exec QueryExecutor, store *FewShotStore) *Service {
	return &Service{
		schemaSvc: schemaSvc,
		generator: gen,
		corrector: corr,
		executor:  exec,
		store:     store,
	}
}

// Run executes the full path for one question.
//
// # Description
//
//	Generates a draft, validates through the four layers, lets the
//	corrector repair non-fatal findings up to MaxCorrectionRetries times,
//	executes the accepted query, and on success feeds the few-shot store.
//
// # Outputs
//
//	*Result - Always non-nil; carries the last draft and attempt count.
//	error - Fatal validation, retry exhaustion, or generation transport
//	    failure. Execution-level failures live in Result.Execution.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "text2query.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("intent", string(req.Intent)),
		attribute.String("dialect", string(req.Dialect)),
	)

	graph := s.schemaSvc.Graph()
	res := &Result{}

	tables := schema.TablesForIntent(req.Intent)
	if req.Dialect != DialectCypher {
		if len(tables) == 0 {
			return res, fmt.Errorf("intent %s has no tables to query", req.Intent)
		}
		augmented, _, err := graph.EnsureProjectScope(tables)
		if err != nil {
			return res, fmt.Errorf("scoping tables for %s: %w", req.Intent, err)
		}
		tables = augmented
	}
	res.Tables = tables

	validator := NewValidator(graph)

	query, err := s.generator.Generate(ctx, graph, req.Question, tables, req.Dialect)
	if err != nil {
		return res, err
	}
	res.Query = query

	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1
		errs := validator.Validate(query, req.Dialect)
		if len(errs) == 0 {
			break
		}
		res.ValidationErrors = errs

		if IsFatal(errs) {
			span.SetAttributes(attribute.Bool("fatal_validation", true))
			return res, fmt.Errorf("query rejected: %s", errs[0].Error())
		}
		if attempt >= MaxCorrectionRetries {
			return res, fmt.Errorf("validation still failing after %d corrections: %s",
				MaxCorrectionRetries, errs[0].Error())
		}

		query, err = s.corrector.Correct(ctx, req.Question, query, errs, req.Dialect)
		if err != nil {
			return res, err
		}
		res.Query = query
	}
	res.ValidationErrors = nil

	res.Execution = s.executor.Execute(ctx, query, req.ProjectID)
	if res.Execution.Success && s.store != nil {
		s.store.Add(Example{Question: req.Question, Query: query, Tables: tables})
	}
	return res, nil
}
