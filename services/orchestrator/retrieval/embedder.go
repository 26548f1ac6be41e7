// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaEmbedder embeds queries with a local multilingual encoder served by
// Ollama. The model must match the one the chunk index was built with; a
// dimension mismatch surfaces as a vector index error at query time.
type OllamaEmbedder struct {
	llm *ollama.LLM
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to the Ollama server.
func NewOllamaEmbedder(serverURL, model string) (*OllamaEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama embedder: %w", err)
	}
	return &OllamaEmbedder{llm: llm}, nil
}

// Embed returns the query embedding.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding model returned an empty vector")
	}
	return vecs[0], nil
}
