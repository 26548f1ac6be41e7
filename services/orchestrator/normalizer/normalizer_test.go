// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_DictionaryCorrection(t *testing.T) {
	n := New(nil, nil, nil)

	res := n.Normalize("테트트 결과 보여줘")

	assert.Equal(t, "테스트 결과 보여줘", res.Canonical)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, "테트트", res.Corrections[0].From)
	assert.Equal(t, "테스트", res.Corrections[0].To)
	assert.Equal(t, "dictionary", res.Corrections[0].Source)
}

func TestNormalize_JamoFuzzyCorrection(t *testing.T) {
	n := New(nil, nil, nil)

	res := n.Normalize("스프링트 진행 상황")

	assert.Equal(t, "스프린트 진행 상황", res.Canonical)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, "jamo", res.Corrections[0].Source)
	assert.Greater(t, res.Corrections[0].Score, 0.78)
}

func TestNormalize_WhitespaceAndPassthrough(t *testing.T) {
	n := New(nil, nil, nil)

	t.Run("collapses whitespace", func(t *testing.T) {
		res := n.Normalize("  백로그   정리  ")
		assert.Equal(t, "백로그 정리", res.Canonical)
		assert.False(t, res.Corrected())
	})

	t.Run("leaves non-hangul tokens alone", func(t *testing.T) {
		res := n.Normalize("show the sprint backlog")
		assert.Equal(t, "show the sprint backlog", res.Canonical)
		assert.False(t, res.Corrected())
	})

	t.Run("leaves catalog keywords alone", func(t *testing.T) {
		res := n.Normalize("스프린트 백로그")
		assert.Equal(t, "스프린트 백로그", res.Canonical)
		assert.False(t, res.Corrected())
	})

	t.Run("empty input", func(t *testing.T) {
		res := n.Normalize("")
		assert.Equal(t, "", res.Canonical)
	})
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(nil, nil, nil)

	inputs := []string{
		"테트트 결과 보여줘",
		"스프링트  진행   상황",
		"스프런트 백로그우 정리",
		"plain english query",
		"이번 주 마감 태스크",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once.Canonical)
		assert.Equal(t, once.Canonical, twice.Canonical, "input %q", in)
		assert.False(t, twice.Corrected(), "second pass must be a no-op for %q", in)
	}
}

func TestRecordOutcome_FeedsTuner(t *testing.T) {
	catalog := DefaultKeywordCatalog()

	t.Run("jamo rewrite records cost and false negative", func(t *testing.T) {
		tuner := NewTypoTuner(catalog, 10)
		n := New(catalog, nil, tuner)
		res := n.Normalize("스프링트 진행 상황")
		require.True(t, res.Corrected())
		require.Equal(t, GroupDomainFixed, res.Corrections[0].Group)

		n.RecordOutcome("", res, false, false)

		g := tuner.Stats().Groups[GroupDomainFixed]
		assert.Equal(t, 2, g.Events)
		assert.Equal(t, 1, g.FalseNegatives)
		assert.Zero(t, g.FalsePositives)
	})

	t.Run("empty answer after correction is a false positive", func(t *testing.T) {
		tuner := NewTypoTuner(catalog, 10)
		n := New(catalog, nil, tuner)
		res := n.Normalize("테트트 결과 보여줘")
		require.True(t, res.Corrected())
		require.Equal(t, "dictionary", res.Corrections[0].Source)

		n.RecordOutcome("", res, true, false)

		g := tuner.Stats().Groups[GroupAmbiguous]
		assert.Equal(t, 1, g.FalsePositives)
	})

	t.Run("fast re-query marks the previous correction wrong", func(t *testing.T) {
		tuner := NewTypoTuner(catalog, 10)
		n := New(catalog, nil, tuner)

		first := n.Normalize("스프링트 진행 상황")
		require.True(t, first.Corrected())
		n.RecordOutcome("sess-1", first, false, false)
		before := tuner.Stats().Groups[GroupDomainFixed].FalsePositives

		// The user immediately asks again, this time spelled right.
		second := n.Normalize("스프린트 진행 상황")
		require.False(t, second.Corrected())
		n.RecordOutcome("sess-1", second, false, false)

		after := tuner.Stats().Groups[GroupDomainFixed].FalsePositives
		assert.Equal(t, before+1, after)
	})

	t.Run("uncorrected request records nothing", func(t *testing.T) {
		tuner := NewTypoTuner(catalog, 10)
		n := New(catalog, nil, tuner)
		res := n.Normalize("스프린트 백로그")
		n.RecordOutcome("sess-2", res, false, false)
		assert.Empty(t, tuner.Stats().Groups)
	})

	t.Run("nil tuner is a no-op", func(t *testing.T) {
		n := New(catalog, nil, nil)
		res := n.Normalize("스프링트 진행 상황")
		n.RecordOutcome("sess-3", res, true, true)
	})
}

func TestCatalog_ClosestTieBreak(t *testing.T) {
	// Two keywords engineered to score identically against the probe:
	// the shorter one must win, then lexicographic order.
	cat := NewKeywordCatalog([]KeywordEntry{
		{"나다", GroupGeneral},
		{"가다", GroupGeneral},
	}, map[KeywordGroup]float64{GroupGeneral: 0.75})

	kw, _, score, ok := cat.Closest("마다")
	require.True(t, ok)
	assert.Equal(t, "가다", kw, "equal scores break lexicographically")
	assert.InDelta(t, cat.Threshold(GroupGeneral), 0.75, 0.001)
	assert.GreaterOrEqual(t, score, 0.75)
}

func TestCatalog_ThresholdClamping(t *testing.T) {
	cat := NewKeywordCatalog(nil, map[KeywordGroup]float64{
		GroupDomainFixed: 0.50,
		GroupAmbiguous:   0.99,
	})
	assert.Equal(t, MinGroupThreshold, cat.Threshold(GroupDomainFixed))
	assert.Equal(t, MaxGroupThreshold, cat.Threshold(GroupAmbiguous))
}

func TestJamoSimilarity(t *testing.T) {
	t.Run("identical strings", func(t *testing.T) {
		assert.Equal(t, 1.0, jamoSimilarity("스프린트", "스프린트"))
	})

	t.Run("single jamo substitution", func(t *testing.T) {
		// 스프린트 and 스프링트 differ in one tail jamo out of nine.
		got := jamoSimilarity("스프린트", "스프링트")
		assert.InDelta(t, 1.0-1.0/9.0, got, 0.001)
	})

	t.Run("empty strings", func(t *testing.T) {
		assert.Equal(t, 1.0, jamoSimilarity("", ""))
	})

	t.Run("disjoint strings score low", func(t *testing.T) {
		assert.Less(t, jamoSimilarity("가나", "훑훑훑훑"), 0.3)
	})
}

func TestDecomposeJamo(t *testing.T) {
	t.Run("syllable with tail", func(t *testing.T) {
		// 린 = ㄹ + ㅣ + ㄴ
		got := decomposeJamo("린")
		require.Len(t, got, 3)
	})

	t.Run("syllable without tail", func(t *testing.T) {
		// 스 = ㅅ + ㅡ
		got := decomposeJamo("스")
		require.Len(t, got, 2)
	})

	t.Run("non-hangul passthrough", func(t *testing.T) {
		got := decomposeJamo("ab1")
		assert.Equal(t, []rune("ab1"), got)
	})
}
