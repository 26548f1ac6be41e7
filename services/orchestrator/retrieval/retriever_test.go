// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding server down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeSearcher serves canned chunks keyed by project filter ("" = global).
type fakeSearcher struct {
	vec         map[string][]Chunk
	lex         map[string][]Chunk
	neighbors   []Chunk
	seedsSeen   []Chunk
	vecCalls    int
	lexCalls    int
	expandCalls int
}

func (f *fakeSearcher) VectorSearch(_ context.Context, _ []float32, _ int, projectID string) ([]Chunk, error) {
	f.vecCalls++
	return cloneChunks(f.vec[projectID]), nil
}

func (f *fakeSearcher) FulltextSearch(_ context.Context, _ string, _ int, projectID string) ([]Chunk, error) {
	f.lexCalls++
	return cloneChunks(f.lex[projectID]), nil
}

func (f *fakeSearcher) ExpandNeighbors(_ context.Context, seeds []Chunk, _ int) ([]Chunk, error) {
	f.expandCalls++
	f.seedsSeen = append(f.seedsSeen, seeds...)
	return cloneChunks(f.neighbors), nil
}

func cloneChunks(in []Chunk) []Chunk {
	out := make([]Chunk, len(in))
	copy(out, in)
	return out
}

func chunk(id, doc string, level int, score float64) Chunk {
	return Chunk{ChunkID: id, DocID: doc, Content: "content " + id, AccessLevel: level, Score: score}
}

func TestMergeWeighted(t *testing.T) {
	vec := []Chunk{chunk("a", "d1", 1, 0.9), chunk("b", "d2", 1, 0.5)}
	lex := []Chunk{chunk("b", "d2", 1, 10), chunk("c", "d3", 1, 2)}

	merged := mergeWeighted(vec, lex, 0.6)
	require.Len(t, merged, 3)

	// Min-max per list: vec a=1 b=0, lex b=1 c=0.
	assert.Equal(t, "a", merged[0].ChunkID)
	assert.InDelta(t, 0.6, merged[0].Score, 1e-9)
	assert.Equal(t, "b", merged[1].ChunkID)
	assert.InDelta(t, 0.4, merged[1].Score, 1e-9)
	assert.Equal(t, "c", merged[2].ChunkID)
	assert.InDelta(t, 0.0, merged[2].Score, 1e-9)

	assert.InDelta(t, 1.0, merged[0].VecScore, 1e-9)
	assert.InDelta(t, 1.0, merged[1].LexScore, 1e-9)
}

func TestMergeRRF(t *testing.T) {
	vec := []Chunk{chunk("a", "d1", 1, 0.9), chunk("b", "d2", 1, 0.5)}
	lex := []Chunk{chunk("b", "d2", 1, 10), chunk("c", "d3", 1, 2)}

	merged := mergeRRF(vec, lex, 60)
	require.Len(t, merged, 3)

	// b appears in both lists: 1/62 + 1/61 beats a's single 1/61.
	assert.Equal(t, "b", merged[0].ChunkID)
	assert.InDelta(t, 1.0/62+1.0/61, merged[0].Score, 1e-9)
	assert.Equal(t, "a", merged[1].ChunkID)
	assert.InDelta(t, 1.0/61, merged[1].Score, 1e-9)
	assert.Equal(t, "c", merged[2].ChunkID)
	assert.InDelta(t, 1.0/62, merged[2].Score, 1e-9)
}

func TestNormalizeScores(t *testing.T) {
	assert.Empty(t, normalizeScores(nil))

	constant := normalizeScores([]Chunk{chunk("a", "d", 1, 3), chunk("b", "d", 1, 3)})
	assert.Equal(t, []float64{1, 1}, constant)

	spread := normalizeScores([]Chunk{chunk("a", "d", 1, 2), chunk("b", "d", 1, 4), chunk("c", "d", 1, 3)})
	assert.Equal(t, []float64{0, 1, 0.5}, spread)
}

func TestDedupByDoc(t *testing.T) {
	in := []Chunk{
		chunk("c1", "doc1", 1, 0.9),
		chunk("c2", "doc1", 1, 0.95),
		chunk("c3", "doc2", 1, 0.5),
	}
	out := dedupByDoc(in)
	require.Len(t, out, 2)
	assert.Equal(t, "c2", out[0].ChunkID)
	assert.Equal(t, "c3", out[1].ChunkID)
}

func TestDecideScope(t *testing.T) {
	cases := []struct {
		name      string
		query     string
		projectID string
		want      Scope
	}{
		{"general definition goes global", "플래닝 포커가 뭐야?", "p1", ScopeGlobal},
		{"howto beats doc seek", "문서 작성 방법 알려줘", "p1", ScopeGlobal},
		{"english howto goes global", "what is a burndown chart", "p1", ScopeGlobal},
		{"project force beats howto", "이 프로젝트 배포 방법 알려줘", "p1", ScopeProject},
		{"project force wins", "이 프로젝트 위험 관리 문서 찾아줘", "p1", ScopeProject},
		{"doc seek is project scoped", "위험 관리 문서 찾아줘", "p1", ScopeProject},
		{"english project force", "show this project's onboarding doc", "p1", ScopeProject},
		{"no bound project is always global", "이 프로젝트 문서 찾아줘", "", ScopeGlobal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideScope(tc.query, tc.projectID))
		})
	}
}

func TestRetrieve_AccessInvariant(t *testing.T) {
	searcher := &fakeSearcher{
		vec: map[string][]Chunk{
			"": {chunk("v1", "d1", 1, 0.9), chunk("v2", "d2", 3, 0.8)},
		},
		lex: map[string][]Chunk{
			"": {chunk("l1", "d3", 2, 5)},
		},
		neighbors: []Chunk{
			chunk("n1", "d4", 3, 0.9),
			chunk("n2", "d5", 1, 0.9),
		},
	}
	r := NewRetriever(&fakeEmbedder{}, searcher, nil, DefaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), Request{
		Query:       "플래닝 포커가 뭐야?",
		AccessLevel: 1,
	})
	require.NoError(t, err)

	// Level-3 recall hit and level-3 neighbor are both gone; the level-1
	// neighbor survives through expansion.
	require.Len(t, res.Chunks, 2)
	for _, c := range res.Chunks {
		assert.LessOrEqual(t, c.AccessLevel, 1, "chunk %s leaked above caller access", c.ChunkID)
	}
	assert.Equal(t, "v1", res.Chunks[0].ChunkID)
	assert.InDelta(t, 0.6, res.Chunks[0].Score, 1e-9)
	assert.Equal(t, "n2", res.Chunks[1].ChunkID)
	assert.Equal(t, "expansion", res.Chunks[1].Source)
	assert.InDelta(t, 0.54, res.Chunks[1].Score, 1e-9)

	assert.Equal(t, ScopeGlobal, res.Scope)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 1, searcher.expandCalls)
}

func TestRetrieve_FallbackKeepsProjectResultFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpansionEnabled = false

	searcher := &fakeSearcher{
		vec: map[string][]Chunk{
			"p1": {chunk("pc", "shared-doc", 1, 0.4)},
			"":   {chunk("g1", "shared-doc", 1, 0.95), chunk("g2", "other-doc", 1, 0.9)},
		},
		lex: map[string][]Chunk{},
	}
	r := NewRetriever(&fakeEmbedder{}, searcher, nil, cfg, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Query:       "이 프로젝트 개발 가이드 문서 찾아줘",
		ProjectID:   "p1",
		AccessLevel: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, ScopeProject, res.Scope)
	assert.True(t, res.FallbackUsed)

	// shared-doc keeps its project chunk; the global chunk for the same
	// document is dropped, the global-only document is appended after.
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "pc", res.Chunks[0].ChunkID)
	assert.Equal(t, "g2", res.Chunks[1].ChunkID)
}

func TestRetrieve_GlobalPrimaryFallsBackToProject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpansionEnabled = false

	searcher := &fakeSearcher{
		vec: map[string][]Chunk{
			"p1": {chunk("pc", "doc-x", 1, 0.9)},
		},
		lex: map[string][]Chunk{},
	}
	r := NewRetriever(&fakeEmbedder{}, searcher, nil, cfg, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Query:       "릴리즈 절차가 어떻게 되지?",
		ProjectID:   "p1",
		AccessLevel: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, ScopeGlobal, res.Scope)
	assert.True(t, res.FallbackUsed)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "pc", res.Chunks[0].ChunkID)
}

func TestRetrieve_NoFallbackWithoutProject(t *testing.T) {
	searcher := &fakeSearcher{vec: map[string][]Chunk{}, lex: map[string][]Chunk{}}
	r := NewRetriever(&fakeEmbedder{}, searcher, nil, DefaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), Request{Query: "뭐야", AccessLevel: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 1, searcher.vecCalls)
}

func TestRetrieve_LexicalOnlyWhenEmbeddingDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpansionEnabled = false
	cfg.MinResults = 1

	searcher := &fakeSearcher{
		vec: map[string][]Chunk{},
		lex: map[string][]Chunk{
			"": {chunk("l1", "d1", 1, 7)},
		},
	}
	r := NewRetriever(&fakeEmbedder{fail: true}, searcher, nil, cfg, nil)

	res, err := r.Retrieve(context.Background(), Request{Query: "스프린트 회고 방법", AccessLevel: 1})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "l1", res.Chunks[0].ChunkID)
	assert.Equal(t, 0, searcher.vecCalls)
}

func TestRetrieve_RRFRerankWithoutRerankerKeepsFusionOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = MergeRRFRerank
	cfg.ExpansionEnabled = false

	searcher := &fakeSearcher{
		vec: map[string][]Chunk{
			"": {chunk("a", "d1", 1, 0.9), chunk("b", "d2", 1, 0.5)},
		},
		lex: map[string][]Chunk{
			"": {chunk("b", "d2", 1, 10)},
		},
	}
	r := NewRetriever(&fakeEmbedder{}, searcher, nil, cfg, nil)

	res, err := r.Retrieve(context.Background(), Request{Query: "회의록 템플릿이 뭐야", AccessLevel: 1})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "b", res.Chunks[0].ChunkID)
	assert.Equal(t, "a", res.Chunks[1].ChunkID)
}
