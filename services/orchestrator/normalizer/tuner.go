// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

import (
	"sync"
	"time"
)

// SignalKind labels a proxy signal about correction quality.
type SignalKind string

const (
	// SignalFalsePositive: the correction was likely wrong — the user
	// re-queried within the window, the corrected query hit an empty
	// handler, or the user explicitly corrected us back. Weight 10.
	SignalFalsePositive SignalKind = "false_positive"

	// SignalFalseNegative: we failed to correct and an expensive L3/LLM
	// rewrite was triggered downstream. Weight 3.
	SignalFalseNegative SignalKind = "false_negative"

	// SignalL3Cost: an L3 invocation happened at all; cost pressure to
	// keep thresholds from drifting too conservative. Weight 2.
	SignalL3Cost SignalKind = "l3_cost"
)

var signalWeights = map[SignalKind]float64{
	SignalFalsePositive: 10,
	SignalFalseNegative: 3,
	SignalL3Cost:        2,
}

// Signal is one tuning event attributed to a keyword group.
type Signal struct {
	Kind      SignalKind
	Group     KeywordGroup
	Timestamp time.Time
}

// Recommendation is the tuner's advice for one group. The tuner is offline:
// it only recommends, operators apply.
type Recommendation struct {
	Group            KeywordGroup `json:"group"`
	CurrentThreshold float64      `json:"current_threshold"`
	Recommended      float64      `json:"recommended"`
	EventCount       int          `json:"event_count"`
	FalsePositives   int          `json:"false_positives"`
	FalseNegatives   int          `json:"false_negatives"`
}

// TypoTuner accumulates correction-quality signals per keyword group and
// recommends threshold adjustments once a group has enough evidence.
//
// # Thread Safety
//
// Safe for concurrent use; writers take the mutex, Recommendations works on
// a snapshot taken under the lock.
type TypoTuner struct {
	mu             sync.Mutex
	catalog        *KeywordCatalog
	minSampleCount int
	groups         map[KeywordGroup]*groupStats
	techErrors     int64
}

type groupStats struct {
	events         int
	falsePositives int
	falseNegatives int
	weightedFP     float64
	weightedFN     float64
}

// NewTypoTuner creates a tuner. minSampleCount gates recommendations; the
// spec floor is 1000 events per group.
func NewTypoTuner(catalog *KeywordCatalog, minSampleCount int) *TypoTuner {
	if minSampleCount <= 0 {
		minSampleCount = 1000
	}
	return &TypoTuner{
		catalog:        catalog,
		minSampleCount: minSampleCount,
		groups:         make(map[KeywordGroup]*groupStats),
	}
}

// Record adds one signal to its group's statistics.
func (t *TypoTuner) Record(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gs, ok := t.groups[sig.Group]
	if !ok {
		gs = &groupStats{}
		t.groups[sig.Group] = gs
	}
	gs.events++
	w := signalWeights[sig.Kind]
	switch sig.Kind {
	case SignalFalsePositive:
		gs.falsePositives++
		gs.weightedFP += w
	case SignalFalseNegative:
		gs.falseNegatives++
		gs.weightedFN += w
	case SignalL3Cost:
		gs.weightedFN += w
	}
}

// RecordTechnicalError counts a normalization-internal failure. These do not
// move thresholds; they only surface in Stats.
func (t *TypoTuner) RecordTechnicalError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.techErrors++
}

// thresholdStep is how far one recommendation moves a group threshold.
const thresholdStep = 0.01

// Recommendations returns advice for every group with at least the minimum
// sample count. Dominant false-positive pressure raises the threshold
// (correct less), dominant false-negative pressure lowers it, always inside
// [0.75, 0.92].
func (t *TypoTuner) Recommendations() []Recommendation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Recommendation
	for _, g := range t.catalog.Groups() {
		gs, ok := t.groups[g]
		if !ok || gs.events < t.minSampleCount {
			continue
		}
		current := t.catalog.Threshold(g)
		recommended := current
		if gs.weightedFP > gs.weightedFN {
			recommended = current + thresholdStep
		} else if gs.weightedFN > gs.weightedFP {
			recommended = current - thresholdStep
		}
		if recommended > MaxGroupThreshold {
			recommended = MaxGroupThreshold
		}
		if recommended < MinGroupThreshold {
			recommended = MinGroupThreshold
		}
		out = append(out, Recommendation{
			Group:            g,
			CurrentThreshold: current,
			Recommended:      recommended,
			EventCount:       gs.events,
			FalsePositives:   gs.falsePositives,
			FalseNegatives:   gs.falseNegatives,
		})
	}
	return out
}

// Stats is the admin observability snapshot.
type TunerStats struct {
	Groups          map[KeywordGroup]GroupSnapshot `json:"groups"`
	TechnicalErrors int64                          `json:"technical_errors"`
}

// GroupSnapshot is the per-group view inside TunerStats.
type GroupSnapshot struct {
	Events         int `json:"events"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// Stats returns a copy of the tuner's counters.
func (t *TypoTuner) Stats() TunerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := TunerStats{Groups: make(map[KeywordGroup]GroupSnapshot), TechnicalErrors: t.techErrors}
	for g, gs := range t.groups {
		out.Groups[g] = GroupSnapshot{
			Events:         gs.events,
			FalsePositives: gs.falsePositives,
			FalseNegatives: gs.falseNegatives,
		}
	}
	return out
}
