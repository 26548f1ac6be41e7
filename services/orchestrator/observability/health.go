// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"fmt"
	"sort"
	"sync"
)

// Indicator thresholds. Ratios, not percentages.
const (
	StatusMetricRatioAlert = 0.60
	EmptyDataRateWarn      = 0.50
	EmptyDataMinSamples    = 10
	SingleIntentPctInfo    = 0.80
	QueryFailureRateWarn   = 0.10
)

// IndicatorLevel grades a health indicator.
type IndicatorLevel string

const (
	LevelOK    IndicatorLevel = "OK"
	LevelInfo  IndicatorLevel = "INFO"
	LevelWarn  IndicatorLevel = "WARN"
	LevelAlert IndicatorLevel = "ALERT"
)

// Indicator is one evaluated health signal.
type Indicator struct {
	Name    string         `json:"name"`
	Level   IndicatorLevel `json:"level"`
	Value   float64        `json:"value"`
	Message string         `json:"message"`
}

// HealthEvaluator keeps unsampled rolling counters and evaluates the four
// pipeline health indicators on demand. Counters reset via Reset, which
// operators call after acting on an alert.
type HealthEvaluator struct {
	mu            sync.Mutex
	total         int
	statusFamily  int
	failures      int
	queryRequests int
	queryFailures int
	perIntent     map[string]int
	emptyByIntent map[string]int
	seenByIntent  map[string]int
}

// NewHealthEvaluator builds an empty evaluator.
func NewHealthEvaluator() *HealthEvaluator {
	return &HealthEvaluator{
		perIntent:     make(map[string]int),
		emptyByIntent: make(map[string]int),
		seenByIntent:  make(map[string]int),
	}
}

// Record counts one completed request.
//
// statusFamily marks STATUS_* intents; isQuery marks text-to-query backed
// intents; emptyData marks a successful answer with nothing in it.
func (h *HealthEvaluator) Record(intent string, statusFamily, isQuery, emptyData, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	h.perIntent[intent]++
	h.seenByIntent[intent]++
	if statusFamily {
		h.statusFamily++
	}
	if emptyData {
		h.emptyByIntent[intent]++
	}
	if failed {
		h.failures++
	}
	if isQuery {
		h.queryRequests++
		if failed {
			h.queryFailures++
		}
	}
}

// Evaluate computes the current indicators, sorted by name.
func (h *HealthEvaluator) Evaluate() []Indicator {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Indicator

	statusRatio := ratio(h.statusFamily, h.total)
	out = append(out, grade("status_metric_ratio", statusRatio, statusRatio > StatusMetricRatioAlert, LevelAlert,
		fmt.Sprintf("%.0f%% of traffic is status metrics", statusRatio*100)))

	worstEmpty := 0.0
	worstIntent := ""
	for intent, empty := range h.emptyByIntent {
		if h.seenByIntent[intent] < EmptyDataMinSamples {
			continue
		}
		r := ratio(empty, h.seenByIntent[intent])
		if r > worstEmpty {
			worstEmpty = r
			worstIntent = intent
		}
	}
	out = append(out, grade("empty_data_rate", worstEmpty, worstEmpty > EmptyDataRateWarn, LevelWarn,
		fmt.Sprintf("worst intent %q returns empty data %.0f%% of the time", worstIntent, worstEmpty*100)))

	maxIntent := 0.0
	for _, n := range h.perIntent {
		if r := ratio(n, h.total); r > maxIntent {
			maxIntent = r
		}
	}
	out = append(out, grade("max_single_intent_pct", maxIntent, maxIntent > SingleIntentPctInfo, LevelInfo,
		fmt.Sprintf("busiest intent holds %.0f%% of traffic", maxIntent*100)))

	failRate := ratio(h.queryFailures, h.queryRequests)
	out = append(out, grade("query_failure_rate", failRate, failRate > QueryFailureRateWarn, LevelWarn,
		fmt.Sprintf("%.0f%% of generated queries fail", failRate*100)))

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears the rolling counters.
func (h *HealthEvaluator) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total, h.statusFamily, h.failures = 0, 0, 0
	h.queryRequests, h.queryFailures = 0, 0
	h.perIntent = make(map[string]int)
	h.emptyByIntent = make(map[string]int)
	h.seenByIntent = make(map[string]int)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func grade(name string, value float64, tripped bool, level IndicatorLevel, msg string) Indicator {
	if !tripped {
		level = LevelOK
	}
	return Indicator{Name: name, Level: level, Value: value, Message: msg}
}
