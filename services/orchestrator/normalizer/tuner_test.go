// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuner_NoRecommendationBelowSampleGate(t *testing.T) {
	tuner := NewTypoTuner(DefaultKeywordCatalog(), 1000)

	for i := 0; i < 999; i++ {
		tuner.Record(Signal{Kind: SignalFalsePositive, Group: GroupGeneral, Timestamp: time.Now()})
	}
	assert.Empty(t, tuner.Recommendations())
}

func TestTuner_FalsePositivePressureRaisesThreshold(t *testing.T) {
	cat := DefaultKeywordCatalog()
	tuner := NewTypoTuner(cat, 1000)

	for i := 0; i < 1000; i++ {
		tuner.Record(Signal{Kind: SignalFalsePositive, Group: GroupGeneral, Timestamp: time.Now()})
	}

	recs := tuner.Recommendations()
	require.Len(t, recs, 1)
	assert.Equal(t, GroupGeneral, recs[0].Group)
	assert.Equal(t, cat.Threshold(GroupGeneral), recs[0].CurrentThreshold)
	assert.InDelta(t, cat.Threshold(GroupGeneral)+0.01, recs[0].Recommended, 0.0001)
	assert.Equal(t, 1000, recs[0].FalsePositives)
}

func TestTuner_FalseNegativePressureLowersThreshold(t *testing.T) {
	cat := DefaultKeywordCatalog()
	tuner := NewTypoTuner(cat, 100)

	for i := 0; i < 100; i++ {
		tuner.Record(Signal{Kind: SignalFalseNegative, Group: GroupAmbiguous, Timestamp: time.Now()})
	}

	recs := tuner.Recommendations()
	require.Len(t, recs, 1)
	assert.InDelta(t, cat.Threshold(GroupAmbiguous)-0.01, recs[0].Recommended, 0.0001)
}

func TestTuner_RecommendationClampedToBounds(t *testing.T) {
	// Ambiguous group ships at 0.90; heavy false-positive pressure must
	// not push it past the 0.92 ceiling. Run enough rounds to verify the
	// clamp rather than the step.
	cat := NewKeywordCatalog(
		[]KeywordEntry{{"이슈", GroupAmbiguous}},
		map[KeywordGroup]float64{GroupAmbiguous: MaxGroupThreshold},
	)
	tuner := NewTypoTuner(cat, 10)
	for i := 0; i < 10; i++ {
		tuner.Record(Signal{Kind: SignalFalsePositive, Group: GroupAmbiguous, Timestamp: time.Now()})
	}

	recs := tuner.Recommendations()
	require.Len(t, recs, 1)
	assert.Equal(t, MaxGroupThreshold, recs[0].Recommended)
}

func TestTuner_SignalWeights(t *testing.T) {
	// One false positive (weight 10) outweighs three L3-cost signals
	// (weight 2 each): the recommendation still moves upward.
	tuner := NewTypoTuner(DefaultKeywordCatalog(), 4)
	tuner.Record(Signal{Kind: SignalFalsePositive, Group: GroupGeneral, Timestamp: time.Now()})
	for i := 0; i < 3; i++ {
		tuner.Record(Signal{Kind: SignalL3Cost, Group: GroupGeneral, Timestamp: time.Now()})
	}

	recs := tuner.Recommendations()
	require.Len(t, recs, 1)
	assert.Greater(t, recs[0].Recommended, recs[0].CurrentThreshold)
}

func TestTuner_TechnicalErrorsSurfaceInStats(t *testing.T) {
	tuner := NewTypoTuner(DefaultKeywordCatalog(), 1000)
	tuner.RecordTechnicalError()
	tuner.RecordTechnicalError()

	stats := tuner.Stats()
	assert.Equal(t, int64(2), stats.TechnicalErrors)
	assert.Empty(t, stats.Groups)
}
