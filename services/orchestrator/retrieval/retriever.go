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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pms.retrieval")

// Config tunes the hybrid retriever.
type Config struct {
	// Strategy selects the merge: weighted, rrf, rrf_rerank.
	Strategy MergeStrategy

	// Alpha weights the vector pass in the weighted merge.
	Alpha float64

	// RRFK is the rank-smoothing constant for reciprocal rank fusion.
	RRFK int

	// KVec and KLex size the two recall passes. Both over-fetch relative
	// to TopK so the access filter cannot empty a recoverable result.
	KVec int
	KLex int

	// KRerank bounds how many merged chunks the reranker sees.
	KRerank int

	// TopK caps the final result.
	TopK int

	// MinMaxScore and MinResults trigger the fallback pass when the
	// primary pass looks insufficient.
	MinMaxScore float64
	MinResults  int

	// Graph expansion knobs. Neighbors inherit their best seed score
	// times ExpansionDecay and must clear ExpansionFloor to survive.
	ExpansionEnabled bool
	ExpansionLimit   int
	ExpansionDecay   float64
	ExpansionFloor   float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:         MergeWeighted,
		Alpha:            DefaultAlpha,
		RRFK:             DefaultRRFK,
		KVec:             20,
		KLex:             20,
		KRerank:          10,
		TopK:             5,
		MinMaxScore:      0.35,
		MinResults:       2,
		ExpansionEnabled: true,
		ExpansionLimit:   5,
		ExpansionDecay:   0.6,
		ExpansionFloor:   0.3,
	}
}

// Request is one retrieval call.
type Request struct {
	Query       string
	ProjectID   string
	AccessLevel int
	// TopK overrides Config.TopK when positive.
	TopK int
}

// Retriever runs the hybrid pipeline: scope decision, vector + lexical
// recall, access filter, merge, optional rerank and graph expansion, doc
// dedup, and a two-pass scope fallback.
type Retriever struct {
	embedder Embedder
	searcher ChunkSearcher
	reranker Reranker
	cfg      Config
	logger   *slog.Logger
}

// NewRetriever wires the pipeline. The reranker may be nil: rrf_rerank
// then degrades to plain rrf ordering.
func NewRetriever(embedder Embedder, searcher ChunkSearcher, reranker Reranker, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, searcher: searcher, reranker: reranker, cfg: cfg, logger: logger}
}

// Retrieve answers a knowledge query.
//
// # Outputs
//
//	*Result - Chunks sorted by relevance, capped at TopK, with the scope
//	    decision and fallback flag for downstream evidence checks.
//	error - Both recall passes failed, or the store is unreachable.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	scope := DecideScope(req.Query, req.ProjectID)
	span.SetAttributes(
		attribute.String("scope", string(scope)),
		attribute.String("strategy", string(r.cfg.Strategy)),
		attribute.Int("access_level", req.AccessLevel),
	)

	primary, err := r.pass(ctx, req, scope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	chunks := primary
	fallbackUsed := false
	if r.insufficient(primary) && r.canFallback(scope, req.ProjectID) {
		fallbackScope := OppositeScope(scope)
		span.AddEvent("fallback pass", trace.WithAttributes(
			attribute.String("fallback_scope", string(fallbackScope)),
			attribute.Int("primary_results", len(primary)),
		))
		secondary, err := r.pass(ctx, req, fallbackScope)
		if err != nil {
			// The primary pass already produced something usable.
			r.logger.Warn("retrieval fallback pass failed", "scope", fallbackScope, "error", err)
		} else {
			fallbackUsed = true
			if scope == ScopeProject {
				chunks = mergeScopes(primary, secondary)
			} else {
				chunks = mergeScopes(secondary, primary)
			}
		}
	}

	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	maxScore := 0.0
	if len(chunks) > 0 {
		maxScore = chunks[0].Score
		for _, c := range chunks[1:] {
			if c.Score > maxScore {
				maxScore = c.Score
			}
		}
	}
	span.SetAttributes(
		attribute.Int("results", len(chunks)),
		attribute.Bool("fallback_used", fallbackUsed),
		attribute.Float64("max_score", maxScore),
	)

	return &Result{Chunks: chunks, Scope: scope, FallbackUsed: fallbackUsed, MaxScore: maxScore}, nil
}

// pass runs one scoped recall-merge-expand cycle.
func (r *Retriever) pass(ctx context.Context, req Request, scope Scope) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.pass")
	defer span.End()
	span.SetAttributes(attribute.String("scope", string(scope)))

	projectFilter := ""
	if scope == ScopeProject {
		projectFilter = req.ProjectID
	}

	var vec []Chunk
	embedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		// Lexical recall still works when the embedding server is down.
		span.AddEvent("embedding unavailable", trace.WithAttributes(attribute.String("error", err.Error())))
		r.logger.Warn("embedding failed, lexical-only pass", "error", err)
	} else {
		vec, err = r.searcher.VectorSearch(ctx, embedding, r.cfg.KVec, projectFilter)
		if err != nil {
			return nil, fmt.Errorf("vector recall: %w", err)
		}
	}

	lex, err := r.searcher.FulltextSearch(ctx, req.Query, r.cfg.KLex, projectFilter)
	if err != nil {
		if len(vec) == 0 {
			return nil, fmt.Errorf("fulltext recall: %w", err)
		}
		span.AddEvent("fulltext unavailable", trace.WithAttributes(attribute.String("error", err.Error())))
		lex = nil
	}

	vec = r.filterAccess(vec, req.AccessLevel)
	lex = r.filterAccess(lex, req.AccessLevel)

	var merged []Chunk
	switch r.cfg.Strategy {
	case MergeWeighted:
		merged = mergeWeighted(vec, lex, r.cfg.Alpha)
	case MergeRRF:
		merged = mergeRRF(vec, lex, r.cfg.RRFK)
	case MergeRRFRerank:
		merged = mergeRRF(vec, lex, r.cfg.RRFK)
		merged = r.rerank(ctx, req.Query, merged)
	default:
		merged = mergeWeighted(vec, lex, DefaultAlpha)
	}

	if r.cfg.ExpansionEnabled && len(merged) > 0 {
		merged = r.expand(ctx, merged, req.AccessLevel)
	}

	merged = dedupByDoc(merged)
	sortByScore(merged)
	return merged, nil
}

// expand hops one edge from the merged head and admits neighbors that
// clear the decayed score floor. Neighbors pass the same access filter as
// recall results.
func (r *Retriever) expand(ctx context.Context, merged []Chunk, accessLevel int) []Chunk {
	seedCount := r.cfg.ExpansionLimit
	if seedCount > len(merged) {
		seedCount = len(merged)
	}
	neighbors, err := r.searcher.ExpandNeighbors(ctx, merged[:seedCount], r.cfg.ExpansionLimit)
	if err != nil {
		r.logger.Warn("graph expansion failed", "error", err)
		return merged
	}

	present := make(map[string]bool, len(merged))
	for _, c := range merged {
		present[c.ChunkID] = true
	}
	for _, n := range neighbors {
		if present[n.ChunkID] {
			continue
		}
		if n.AccessLevel > accessLevel {
			continue
		}
		n.Score *= r.cfg.ExpansionDecay
		if n.Score < r.cfg.ExpansionFloor {
			continue
		}
		n.Source = "expansion"
		present[n.ChunkID] = true
		merged = append(merged, n)
	}
	return merged
}

func (r *Retriever) rerank(ctx context.Context, query string, merged []Chunk) []Chunk {
	if r.reranker == nil {
		return merged
	}
	head := r.cfg.KRerank
	if head > len(merged) {
		head = len(merged)
	}
	reranked, err := r.reranker.Rerank(ctx, query, merged[:head])
	if err != nil {
		r.logger.Warn("rerank failed, keeping fusion order", "error", err)
		return merged
	}
	return append(reranked, merged[head:]...)
}

func (r *Retriever) filterAccess(chunks []Chunk, accessLevel int) []Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if c.AccessLevel <= accessLevel {
			out = append(out, c)
		}
	}
	return out
}

func (r *Retriever) insufficient(chunks []Chunk) bool {
	if len(chunks) == 0 || len(chunks) < r.cfg.MinResults {
		return true
	}
	return chunks[0].Score < r.cfg.MinMaxScore
}

func (r *Retriever) canFallback(primary Scope, projectID string) bool {
	// Falling back to project scope needs a bound project.
	return primary == ScopeProject || projectID != ""
}

// mergeScopes combines the project and global passes project-first: a
// global chunk never displaces a project result for the same document.
func mergeScopes(project, global []Chunk) []Chunk {
	seen := make(map[string]bool, len(project))
	out := make([]Chunk, 0, len(project)+len(global))
	for _, c := range project {
		seen[c.DocID] = true
		out = append(out, c)
	}
	for _, c := range global {
		if seen[c.DocID] {
			continue
		}
		seen[c.DocID] = true
		out = append(out, c)
	}
	return out
}
