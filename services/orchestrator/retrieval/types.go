// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval answers knowledge intents with hybrid recall over the
// document graph: vector and fulltext passes, configurable merge, bounded
// graph expansion, and a two-pass scope fallback. The access-level filter
// is absolute: no chunk above the caller's level survives any stage.
package retrieval

import "context"

// Chunk is one retrieved piece of a document.
type Chunk struct {
	ChunkID     string  `json:"chunk_id"`
	DocID       string  `json:"doc_id"`
	DocTitle    string  `json:"doc_title"`
	Content     string  `json:"content"`
	ProjectID   string  `json:"project_id,omitempty"`
	AccessLevel int     `json:"access_level"`
	Score       float64 `json:"score"`
	VecScore    float64 `json:"vec_score,omitempty"`
	LexScore    float64 `json:"lex_score,omitempty"`
	// Source marks which pass produced the chunk: vector, fulltext,
	// expansion.
	Source string `json:"source"`
}

// Embedder turns text into the vector the chunk index was built with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher is the store-facing surface of the retriever, implemented
// by the Neo4j client and by fakes in tests.
type ChunkSearcher interface {
	// VectorSearch queries the chunk embedding index.
	VectorSearch(ctx context.Context, embedding []float32, k int, projectID string) ([]Chunk, error)

	// FulltextSearch queries the chunk fulltext index.
	FulltextSearch(ctx context.Context, query string, k int, projectID string) ([]Chunk, error)

	// ExpandNeighbors hops one relationship from the seed chunks and
	// returns neighbor chunks carrying the best seed score they were
	// reached from. The caller applies decay and the score floor.
	ExpandNeighbors(ctx context.Context, seeds []Chunk, limit int) ([]Chunk, error)
}

// Reranker reorders the merged head of the result list. Optional.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error)
}

// MergeStrategy selects how the two recall passes combine.
type MergeStrategy string

const (
	MergeWeighted  MergeStrategy = "weighted"
	MergeRRF       MergeStrategy = "rrf"
	MergeRRFRerank MergeStrategy = "rrf_rerank"
)

// Scope is where a retrieval pass looks.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Result is the retriever's outcome.
type Result struct {
	Chunks []Chunk `json:"chunks"`
	// Scope is the primary pass scope that was chosen.
	Scope Scope `json:"scope"`
	// FallbackUsed reports whether the second pass ran.
	FallbackUsed bool `json:"fallback_used"`
	// MaxScore is the best merged score, used by sufficiency checks.
	MaxScore float64 `json:"max_score"`
}
