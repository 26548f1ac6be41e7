// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

import "sort"

// KeywordGroup partitions catalog keywords for threshold tuning. Each group
// carries its own jamo-similarity threshold.
type KeywordGroup string

const (
	// GroupDomainFixed holds PM vocabulary with one unambiguous spelling
	// (스프린트, 백로그). Aggressive correction is safe here.
	GroupDomainFixed KeywordGroup = "domain_fixed"

	// GroupAmbiguous holds keywords that collide with everyday words;
	// correction needs a high bar.
	GroupAmbiguous KeywordGroup = "ambiguous"

	// GroupGeneral holds the rest of the catalog.
	GroupGeneral KeywordGroup = "general"
)

// Threshold bounds mandated for every group.
const (
	MinGroupThreshold = 0.75
	MaxGroupThreshold = 0.92
)

// KeywordEntry is one catalog keyword with its group.
type KeywordEntry struct {
	Keyword string
	Group   KeywordGroup
}

// KeywordCatalog is the closed list of domain keywords the fuzzy rewriter
// may substitute toward, with per-group thresholds.
//
// The catalog is process-wide and read-only after construction; the tuner
// only recommends threshold changes, operators apply them by restarting
// with new configuration.
type KeywordCatalog struct {
	entries    []KeywordEntry
	thresholds map[KeywordGroup]float64
}

// DefaultKeywordCatalog returns the shipped PM vocabulary.
func DefaultKeywordCatalog() *KeywordCatalog {
	entries := []KeywordEntry{
		{"스프린트", GroupDomainFixed},
		{"백로그", GroupDomainFixed},
		{"마일스톤", GroupDomainFixed},
		{"간트차트", GroupDomainFixed},
		{"칸반", GroupDomainFixed},
		{"태스크", GroupDomainFixed},
		{"리스크", GroupDomainFixed},
		{"이슈", GroupAmbiguous},
		{"테스트", GroupAmbiguous},
		{"회의록", GroupGeneral},
		{"요구사항", GroupGeneral},
		{"산출물", GroupGeneral},
		{"완료율", GroupGeneral},
		{"담당자", GroupGeneral},
		{"일정", GroupAmbiguous},
		{"진척률", GroupGeneral},
		{"배포", GroupAmbiguous},
		{"형상관리", GroupGeneral},
	}
	return NewKeywordCatalog(entries, map[KeywordGroup]float64{
		GroupDomainFixed: 0.78,
		GroupAmbiguous:   0.90,
		GroupGeneral:     0.84,
	})
}

// NewKeywordCatalog builds a catalog, clamping thresholds into the mandated
// [0.75, 0.92] range.
func NewKeywordCatalog(entries []KeywordEntry, thresholds map[KeywordGroup]float64) *KeywordCatalog {
	clamped := make(map[KeywordGroup]float64, len(thresholds))
	for g, t := range thresholds {
		if t < MinGroupThreshold {
			t = MinGroupThreshold
		}
		if t > MaxGroupThreshold {
			t = MaxGroupThreshold
		}
		clamped[g] = t
	}
	return &KeywordCatalog{entries: entries, thresholds: clamped}
}

// Contains reports whether token is a catalog keyword (exact match).
func (c *KeywordCatalog) Contains(token string) bool {
	for _, e := range c.entries {
		if e.Keyword == token {
			return true
		}
	}
	return false
}

// GroupOf returns the group a catalog keyword belongs to, GroupGeneral for
// anything outside the catalog.
func (c *KeywordCatalog) GroupOf(keyword string) KeywordGroup {
	for _, e := range c.entries {
		if e.Keyword == keyword {
			return e.Group
		}
	}
	return GroupGeneral
}

// Threshold returns the group's threshold, defaulting to the general one.
func (c *KeywordCatalog) Threshold(g KeywordGroup) float64 {
	if t, ok := c.thresholds[g]; ok {
		return t
	}
	return c.thresholds[GroupGeneral]
}

// Groups lists the groups present in the catalog, sorted for determinism.
func (c *KeywordCatalog) Groups() []KeywordGroup {
	seen := map[KeywordGroup]bool{}
	for _, e := range c.entries {
		seen[e.Group] = true
	}
	out := make([]KeywordGroup, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Closest returns the catalog keyword most similar to token, its group, and
// the similarity. Only matches at or above the keyword's group threshold
// are returned. Ties break to the shorter keyword, then lexicographically.
func (c *KeywordCatalog) Closest(token string) (string, KeywordGroup, float64, bool) {
	bestKeyword := ""
	bestGroup := GroupGeneral
	bestScore := -1.0

	for _, e := range c.entries {
		score := jamoSimilarity(token, e.Keyword)
		if score < c.Threshold(e.Group) {
			continue
		}
		if score > bestScore {
			bestKeyword, bestGroup, bestScore = e.Keyword, e.Group, score
			continue
		}
		if score == bestScore {
			if len(e.Keyword) < len(bestKeyword) ||
				(len(e.Keyword) == len(bestKeyword) && e.Keyword < bestKeyword) {
				bestKeyword, bestGroup = e.Keyword, e.Group
			}
		}
	}

	if bestScore < 0 {
		return "", "", 0, false
	}
	return bestKeyword, bestGroup, bestScore, true
}
