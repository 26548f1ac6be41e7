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

	"go.opentelemetry.io/otel/attribute"

	"github.com/osoriai/pms-copilot/services/llm"
)

// MaxCorrectionRetries bounds the correct→validate loop. After this many
// correction rounds the path fails with the remaining errors.
const MaxCorrectionRetries = 2

// Corrector asks the model to repair a query given the validator's typed
// findings.
type Corrector struct {
	client llm.LLMClient
	policy *llm.CallPolicy
}

// NewCorrector wires the corrector.
func NewCorrector(client llm.LLMClient, policy *llm.CallPolicy) *Corrector {
	if policy == nil {
		policy = llm.DefaultCallPolicy()
	}
	return &Corrector{client: client, policy: policy}
}

// Correct returns a repaired query draft. The caller re-validates; the
// corrector itself makes no promises.
func (c *Corrector) Correct(ctx context.Context, question, query string, errs []ValidationError, dialect Dialect) (string, error) {
	ctx, span := tracer.Start(ctx, "text2query.Correct")
	defer span.End()
	span.SetAttributes(attribute.Int("validation_errors", len(errs)))

	lang := "PostgreSQL"
	if dialect == DialectCypher {
		lang = "Cypher"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The following %s query failed validation. Rewrite it so every finding is fixed.\n", lang)
	b.WriteString("Keep the query read-only, keep explicit columns, keep LIMIT, and keep\n")
	b.WriteString("project_id = :project_id filtering at the top level.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nQuery:\n%s\n\nFindings:\n%s\n", question, query, FormatErrors(errs))
	b.WriteString("Output only the corrected query, no explanation, no code fences.\n")

	raw, err := c.policy.Generate(ctx, c.client, b.String(), llm.GenerationParams{
		Temperature: llm.FloatPtr(0.0),
		MaxTokens:   llm.IntPtr(512),
		Stop:        []string{";"},
	})
	if err != nil {
		return "", fmt.Errorf("query correction: %w", err)
	}
	return CleanQueryOutput(raw), nil
}
