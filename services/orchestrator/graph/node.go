// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pms.graph")

// NodeFunc is the uniform node signature: a pure function of the state and
// the services bound at registration. Implementations receive a clone and
// may mutate it freely.
type NodeFunc func(ctx context.Context, s *State) (*State, error)

// Node names. The registry is closed at startup with exactly this set.
const (
	NodeReceive          = "receive"
	NodeNormalize        = "normalize"
	NodeClassifyIntent   = "classify_intent"
	NodeRouteTrack       = "route_track"
	NodeLightPolicyGate  = "light_policy_gate"
	NodeRetrieveOrQuery  = "retrieve_or_query"
	NodeLightGuardian    = "light_guardian"
	NodeAnalystPlan      = "analyst_plan"
	NodeArchitectOutline = "architect_outline"
	NodeCompose          = "compose"
	NodeGuardianVerify   = "guardian_verify"
	NodeRender           = "render"
	NodeEmit             = "emit"
)

// Registry holds the named nodes. It is populated during container wiring,
// closed before the first request, and enumerable for tests.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]NodeFunc
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]NodeFunc)}
}

// Register adds a node. Registration after Close or a duplicate name is a
// wiring bug and fails loudly.
func (r *Registry) Register(name string, fn NodeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry is closed, cannot register node %q", name)
	}
	if _, dup := r.nodes[name]; dup {
		return fmt.Errorf("node %q registered twice", name)
	}
	if fn == nil {
		return fmt.Errorf("node %q has a nil function", name)
	}
	r.nodes[name] = fn
	return nil
}

// Close freezes the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Names lists registered nodes in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one node: clones the state, times the call, and opens a
// child span named after the node.
func (r *Registry) Run(ctx context.Context, name string, s *State) (*State, error) {
	r.mu.RLock()
	fn, ok := r.nodes[name]
	r.mu.RUnlock()
	if !ok {
		return s, fmt.Errorf("unknown node %q", name)
	}

	ctx, span := tracer.Start(ctx, "graph."+name)
	defer span.End()
	span.SetAttributes(attribute.String("node", name), attribute.String("trace_id", s.TraceID()))

	start := time.Now()
	next, err := fn(ctx, s.Clone())
	elapsed := time.Since(start)

	timing := NodeTiming{Node: name, Duration: elapsed}
	if err != nil {
		timing.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s = s.Clone()
		s.Timings = append(s.Timings, timing)
		return s, fmt.Errorf("node %s: %w", name, err)
	}
	next.Timings = append(next.Timings, timing)
	span.SetAttributes(attribute.Int64("duration_ms", elapsed.Milliseconds()))
	return next, nil
}
