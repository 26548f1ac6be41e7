// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package text2query turns a natural-language question into a validated,
// scoped, read-only query: generate, validate through four layers, correct
// within a bounded loop, execute under safety limits, and learn from
// successful executions.
package text2query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/osoriai/pms-copilot/services/llm"
	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

var tracer = otel.Tracer("pms.text2query")

// FewShotK is how many learned examples the prompt carries.
const FewShotK = 3

// Generator drafts queries from questions.
type Generator struct {
	client llm.LLMClient
	policy *llm.CallPolicy
	store  *FewShotStore
}

// NewGenerator wires the generator. store may be nil; prompts then carry no
// examples.
func NewGenerator(client llm.LLMClient, policy *llm.CallPolicy, store *FewShotStore) *Generator {
	if policy == nil {
		policy = llm.DefaultCallPolicy()
	}
	return &Generator{client: client, policy: policy, store: store}
}

// Generate drafts a query for the question over the given tables.
//
// # Outputs
//
//	string - The cleaned query text. Not yet validated.
//	error - LLM transport or policy exhaustion.
func (g *Generator) Generate(ctx context.Context, graph *schema.Graph, question string, tables []string, dialect Dialect) (string, error) {
	ctx, span := tracer.Start(ctx, "text2query.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("dialect", string(dialect)),
		attribute.Int("tables", len(tables)),
	)

	prompt := g.buildPrompt(graph, question, tables, dialect)
	raw, err := g.policy.Generate(ctx, g.client, prompt, llm.GenerationParams{
		Temperature: llm.FloatPtr(0.1),
		MaxTokens:   llm.IntPtr(512),
		Stop:        []string{"```\n\n", ";"},
	})
	if err != nil {
		return "", fmt.Errorf("query generation: %w", err)
	}
	return CleanQueryOutput(raw), nil
}

func (g *Generator) buildPrompt(graph *schema.Graph, question string, tables []string, dialect Dialect) string {
	var b strings.Builder

	switch dialect {
	case DialectCypher:
		b.WriteString("Write one read-only Cypher query answering the question.\n")
	default:
		b.WriteString("Write one read-only PostgreSQL SELECT statement answering the question.\n")
	}
	b.WriteString("Rules:\n")
	b.WriteString("- Project explicit columns, never *.\n")
	fmt.Fprintf(&b, "- End with LIMIT %d or less.\n", MaxResultRows)
	b.WriteString("- Filter project-scoped tables with project_id = :project_id at the top level.\n")
	b.WriteString("- Output only the query, no explanation, no code fences.\n\n")

	if schemaCtx := graph.SchemaContext(tables); schemaCtx != "" {
		b.WriteString("Schema:\n")
		b.WriteString(schemaCtx)
		b.WriteString("\n")
	}

	if g.store != nil {
		examples := g.store.Select(question, FewShotK)
		if len(examples) > 0 {
			b.WriteString("Examples:\n")
			for _, ex := range examples {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", ex.Question, ex.Query)
			}
		}
	}

	fmt.Fprintf(&b, "Q: %s\nA:", question)
	return b.String()
}

var (
	reCodeFence = regexp.MustCompile("(?s)```(?:sql|cypher)?\\s*(.*?)\\s*```")
	reQueryHead = regexp.MustCompile(`(?is)\b(SELECT|WITH|MATCH|CALL)\b`)
)

// CleanQueryOutput strips code fences, surrounding prose, and a trailing
// semicolon from raw model output.
func CleanQueryOutput(raw string) string {
	text := strings.TrimSpace(raw)

	if m := reCodeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		// Unterminated fence: drop everything before it plus the marker.
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "sql")
		text = strings.TrimPrefix(text, "cypher")
	}

	// Drop leading prose: the query starts at the first query keyword.
	if loc := reQueryHead.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}

	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ";")
	return strings.TrimSpace(text)
}
