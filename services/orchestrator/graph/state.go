// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph runs one request through the answering pipeline as a
// sequence of named nodes over immutable typed state. Two tracks exist:
// FAST for simple lookups and QUALITY for answers that need planning,
// composition, and full guardian verification.
package graph

import (
	"time"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/retrieval"
	"github.com/osoriai/pms-copilot/services/orchestrator/statusquery"
	"github.com/osoriai/pms-copilot/services/orchestrator/text2query"
	"github.com/osoriai/pms-copilot/services/orchestrator/trust"
)

// Track selects the processing depth for one request.
type Track string

const (
	TrackFast    Track = "FAST"
	TrackQuality Track = "QUALITY"
)

// NodeTiming records one node's execution for observability snapshots.
type NodeTiming struct {
	Node     string        `json:"node"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// State is the typed request state. Nodes never mutate the state they
// receive: they Clone, modify the clone, and return it. Slices and maps on
// a clone are copied on write by the node that changes them.
type State struct {
	Caller    datatypes.CallerContext
	Raw       string
	Canonical string
	// Normalization is the full normalizer result, kept for reasoning
	// strings and tuner signals.
	Normalization normalizer.Result

	Classification datatypes.Classification
	Track          Track
	// Upgraded marks that the one-shot FAST→QUALITY upgrade already
	// happened; a second upgrade is never allowed.
	Upgraded bool

	// Plan and metric results for STATUS_* intents.
	StatusPlan   *statusquery.Plan
	StatusResult *statusquery.PlanResult

	// Query result for list intents.
	QueryResult *text2query.Result

	// Retrieval and evidence for knowledge intents.
	Retrieval *retrieval.Result
	Evidence  *datatypes.EvidenceBundle

	Authority datatypes.AuthorityResult
	Failure   *datatypes.FailureInfo

	// Guardian reviews. LightReview may trigger the one-shot upgrade;
	// GuardianReview drives the QUALITY verify-retry loop.
	LightReview    *trust.Review
	GuardianReview *trust.Review

	// AnalysisPlan, Outline, and Composed carry the QUALITY track's
	// intermediate and final prose.
	AnalysisPlan string
	Outline      string
	Composed     string

	// Warnings accumulated before the contract exists (data gaps, scope
	// fallbacks, authority downgrades).
	Warnings []string

	Contract *datatypes.ResponseContract
	Rendered string

	Retries int
	Timings []NodeTiming
}

// NewState seeds the state for one request.
func NewState(caller datatypes.CallerContext, raw string) *State {
	return &State{Caller: caller, Raw: raw}
}

// Clone returns a shallow copy with its own timings slice. Pointer fields
// are shared until a node replaces them; nodes treat pointed-to values as
// read-only.
func (s *State) Clone() *State {
	next := *s
	next.Timings = make([]NodeTiming, len(s.Timings))
	copy(next.Timings, s.Timings)
	next.Warnings = make([]string, len(s.Warnings))
	copy(next.Warnings, s.Warnings)
	return &next
}

// TraceID is the request's correlation id.
func (s *State) TraceID() string {
	return s.Caller.TraceID
}

// HasEvidence reports whether the state carries sufficient evidence.
func (s *State) HasEvidence() bool {
	return s.Evidence != nil && s.Evidence.HasSufficientEvidence
}

// Failed reports whether a failure has been recorded.
func (s *State) Failed() bool {
	return s.Failure != nil
}
