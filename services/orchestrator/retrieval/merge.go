// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import "sort"

// DefaultAlpha weights the vector pass in the weighted merge.
const DefaultAlpha = 0.6

// DefaultRRFK is the rank-smoothing constant for reciprocal rank fusion.
const DefaultRRFK = 60

// mergeWeighted combines the two passes as alpha*vec + (1-alpha)*lex.
// Raw scores are min-max normalized per list first: cosine similarity and
// Lucene scores live on incomparable scales.
func mergeWeighted(vec, lex []Chunk, alpha float64) []Chunk {
	vecNorm := normalizeScores(vec)
	lexNorm := normalizeScores(lex)

	byID := make(map[string]*Chunk)
	var order []string
	for i := range vec {
		c := vec[i]
		c.VecScore = vecNorm[i]
		c.Score = alpha * vecNorm[i]
		byID[c.ChunkID] = &c
		order = append(order, c.ChunkID)
	}
	for i := range lex {
		if existing, ok := byID[lex[i].ChunkID]; ok {
			existing.LexScore = lexNorm[i]
			existing.Score += (1 - alpha) * lexNorm[i]
			continue
		}
		c := lex[i]
		c.LexScore = lexNorm[i]
		c.Score = (1 - alpha) * lexNorm[i]
		byID[c.ChunkID] = &c
		order = append(order, c.ChunkID)
	}

	merged := make([]Chunk, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}
	sortByScore(merged)
	return merged
}

// mergeRRF fuses the two passes by reciprocal rank: each list contributes
// 1/(k+rank) per chunk, ranks starting at 1.
func mergeRRF(vec, lex []Chunk, k int) []Chunk {
	byID := make(map[string]*Chunk)
	var order []string
	add := func(list []Chunk, setVec bool) {
		for rank, src := range list {
			contribution := 1.0 / float64(k+rank+1)
			if existing, ok := byID[src.ChunkID]; ok {
				existing.Score += contribution
				if setVec {
					existing.VecScore = src.Score
				} else {
					existing.LexScore = src.Score
				}
				continue
			}
			c := src
			if setVec {
				c.VecScore = src.Score
			} else {
				c.LexScore = src.Score
			}
			c.Score = contribution
			byID[c.ChunkID] = &c
			order = append(order, c.ChunkID)
		}
	}
	add(vec, true)
	add(lex, false)

	merged := make([]Chunk, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}
	sortByScore(merged)
	return merged
}

// normalizeScores min-max normalizes a list's scores into [0,1]. A
// single-element or constant list maps to 1.
func normalizeScores(chunks []Chunk) []float64 {
	norm := make([]float64, len(chunks))
	if len(chunks) == 0 {
		return norm
	}
	lo, hi := chunks[0].Score, chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	for i, c := range chunks {
		if hi == lo {
			norm[i] = 1
			continue
		}
		norm[i] = (c.Score - lo) / (hi - lo)
	}
	return norm
}

// sortByScore orders by score descending, chunk id ascending on ties so
// merge output is deterministic.
func sortByScore(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ChunkID < chunks[j].ChunkID
	})
}

// dedupByDoc keeps the highest-scored chunk per document, preserving the
// incoming order otherwise.
func dedupByDoc(chunks []Chunk) []Chunk {
	best := make(map[string]int, len(chunks))
	for i, c := range chunks {
		if j, ok := best[c.DocID]; !ok || c.Score > chunks[j].Score {
			best[c.DocID] = i
		}
	}
	out := make([]Chunk, 0, len(best))
	for i, c := range chunks {
		if best[c.DocID] == i {
			out = append(out, c)
		}
	}
	return out
}
