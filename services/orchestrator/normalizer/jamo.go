// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

// Hangul syllable decomposition. A precomposed syllable in U+AC00..U+D7A3
// factors into (lead, vowel, tail) jamo by pure arithmetic over the block.

const (
	hangulBase = 0xAC00
	hangulLast = 0xD7A3
	vowelCount = 21
	tailCount  = 28
)

// isHangulSyllable reports whether r is a precomposed Hangul syllable.
func isHangulSyllable(r rune) bool {
	return r >= hangulBase && r <= hangulLast
}

// decomposeJamo expands every Hangul syllable in s into its jamo triple
// (tail omitted when absent) and passes other runes through unchanged.
// The jamo are represented as small ints offset per slot so that lead,
// vowel, and tail jamo never collide.
func decomposeJamo(s string) []rune {
	out := make([]rune, 0, len(s)*2)
	for _, r := range s {
		if !isHangulSyllable(r) {
			out = append(out, r)
			continue
		}
		idx := r - hangulBase
		lead := idx / (vowelCount * tailCount)
		vowel := (idx % (vowelCount * tailCount)) / tailCount
		tail := idx % tailCount
		out = append(out, 0x1100+lead, 0x1161+vowel)
		if tail > 0 {
			out = append(out, 0x11A7+tail)
		}
	}
	return out
}

// jamoSimilarity returns 1 - editDistance/maxLen over the jamo expansions
// of a and b. 1.0 means identical, 0.0 means nothing shared.
func jamoSimilarity(a, b string) float64 {
	ja := decomposeJamo(a)
	jb := decomposeJamo(b)
	maxLen := len(ja)
	if len(jb) > maxLen {
		maxLen = len(jb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(editDistance(ja, jb))/float64(maxLen)
}

// editDistance is the Levenshtein distance over rune slices, two-row DP.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
