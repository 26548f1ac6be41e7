// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"time"
)

// Provenance records where the answer's data came from at read time.
type Provenance string

const (
	ProvenanceRealtime    Provenance = "realtime"
	ProvenanceCached      Provenance = "cached"
	ProvenanceUnavailable Provenance = "unavailable"
)

// ResponseStatus is the terminal state of one request.
type ResponseStatus string

const (
	StatusOK     ResponseStatus = "OK"
	StatusFailed ResponseStatus = "FAILED"
)

// ResponseContract is the single shape every intent's answer is rendered
// from. One contract per response; rendering is a pure function of it.
//
// # Invariants
//
//   - Intent is always set; Data holds the intent-shaped payload and nothing
//     else (renderers must not consult fields outside their declared shape).
//   - Empty-data responses carry Tips; query failures carry ErrorCode and a
//     warning, and the two are distinguishable.
type ResponseContract struct {
	Intent        Intent         `json:"intent"`
	Status        ResponseStatus `json:"status"`
	ReferenceTime string         `json:"reference_time"`
	Scope         string         `json:"scope"`
	Data          map[string]any `json:"data"`
	Warnings      []string       `json:"warnings"`
	Tips          []string       `json:"tips"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Provenance    Provenance     `json:"provenance"`
	Evidence      []EvidenceItem `json:"evidence,omitempty"`
}

// NewResponseContract creates a contract with the invariant fields set and
// empty (non-nil) warning/tip slices so JSON round-trips stay stable.
func NewResponseContract(intent Intent, scope string) *ResponseContract {
	return &ResponseContract{
		Intent:        intent,
		Status:        StatusOK,
		ReferenceTime: time.Now().UTC().Format(time.RFC3339),
		Scope:         scope,
		Data:          map[string]any{},
		Warnings:      []string{},
		Tips:          []string{},
		Provenance:    ProvenanceRealtime,
	}
}

// ToDict serializes the contract to a generic map, the transport shape.
func (r *ResponseContract) ToDict() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContractFromDict is the inverse of ToDict.
func ContractFromDict(m map[string]any) (*ResponseContract, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out ResponseContract
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if out.Tips == nil {
		out.Tips = []string{}
	}
	return &out, nil
}

// ResponseMetadata is the debugging block attached to every HTTP response.
type ResponseMetadata struct {
	TraceID          string `json:"trace_id"`
	Timestamp        int64  `json:"timestamp"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	ModelUsed        string `json:"model_used"`
	Track            string `json:"track"`
}
