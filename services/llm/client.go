// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the LLM client abstraction for the PMS AI backend.
//
// Every generation stage in the answering pipeline (query generation,
// correction, composition) goes through the LLMClient interface. Where the
// weights live is not this package's concern: backends cover a local
// llama.cpp server, an Ollama server, and OpenAI.
package llm

import "context"

// GenerationParams carries per-call sampling parameters.
//
// Nil pointer fields mean "backend default". Stop sequences are passed
// through verbatim.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for the prompt. Implementations must
	// honor ctx cancellation and return the raw model text without
	// post-processing.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ModelName returns the identifier of the model answering requests,
	// used in response metadata and metrics labels.
	ModelName() string
}

// FloatPtr returns a pointer to v. Convenience for GenerationParams literals.
func FloatPtr(v float32) *float32 { return &v }

// IntPtr returns a pointer to v. Convenience for GenerationParams literals.
func IntPtr(v int) *int { return &v }
