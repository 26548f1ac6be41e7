// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var policyTracer = otel.Tracer("pms.llm.policy")

// CallPolicy bounds a single generation stage: per-attempt timeout plus
// bounded retries with exponential backoff and jitter.
//
// # Description
//
// Each pipeline stage that calls the LLM (generator, corrector, composer)
// wraps its client in a CallPolicy so timeout and retry behavior is declared
// once instead of per call site. The zero value is unusable; construct via
// DefaultCallPolicy.
//
// # Thread Safety
//
// CallPolicy is immutable after construction and safe for concurrent use.
// The adaptive timeout it references has its own locking.
type CallPolicy struct {
	// StageTimeout is the per-attempt deadline. The adaptive timeout, when
	// attached, overrides this with its current value.
	StageTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffFactor multiplies the delay each retry.
	BackoffFactor float64

	// BackoffCap bounds the per-retry delay.
	BackoffCap time.Duration

	// JitterFrac is the +/- fraction of random jitter applied to each delay.
	JitterFrac float64

	adaptive *AdaptiveTimeout
}

// DefaultCallPolicy returns the standard stage policy: 30 s timeout, 3
// retries, 100 ms base backoff growing by 1.5x up to 5 s, 10% jitter.
func DefaultCallPolicy() *CallPolicy {
	return &CallPolicy{
		StageTimeout:  30 * time.Second,
		MaxRetries:    3,
		BackoffBase:   100 * time.Millisecond,
		BackoffFactor: 1.5,
		BackoffCap:    5 * time.Second,
		JitterFrac:    0.10,
	}
}

// WithAdaptiveTimeout attaches an adaptive timeout that replaces the static
// StageTimeout. Returns the policy for chaining.
func (p *CallPolicy) WithAdaptiveTimeout(a *AdaptiveTimeout) *CallPolicy {
	p.adaptive = a
	return p
}

// Generate runs client.Generate under the policy: per-attempt timeout,
// bounded retries with backoff, adaptive timeout feedback.
//
// Context cancellation from the caller always wins over retries. The last
// attempt's error is returned when the retry budget is exhausted.
func (p *CallPolicy) Generate(ctx context.Context, client LLMClient, prompt string, params GenerationParams) (string, error) {
	ctx, span := policyTracer.Start(ctx, "CallPolicy.Generate")
	defer span.End()

	var lastErr error
	delay := p.BackoffBase

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context canceled during backoff")
				return "", ctx.Err()
			case <-time.After(p.jittered(delay)):
			}
			delay = time.Duration(float64(delay) * p.BackoffFactor)
			if delay > p.BackoffCap {
				delay = p.BackoffCap
			}
		}

		timeout := p.StageTimeout
		if p.adaptive != nil {
			timeout = p.adaptive.Current()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		out, err := client.Generate(attemptCtx, prompt, params)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			if p.adaptive != nil {
				p.adaptive.RecordSuccess(elapsed)
			}
			span.SetAttributes(
				attribute.Int("llm.attempts", attempt+1),
				attribute.Int64("llm.elapsed_ms", elapsed.Milliseconds()),
			)
			return out, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Attempt timed out but the caller is still waiting.
			if p.adaptive != nil {
				p.adaptive.RecordTimeout()
			}
			continue
		}
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "caller context done")
			return "", ctx.Err()
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return "", lastErr
}

func (p *CallPolicy) jittered(d time.Duration) time.Duration {
	if p.JitterFrac <= 0 {
		return d
	}
	f := 1 + p.JitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// AdaptiveTimeout adjusts a stage timeout from observed behavior: after 3
// timeouts inside a rolling window it grows by 1.5x; after 3 consecutive
// successes well under budget it shrinks back toward the baseline.
//
// # Thread Safety
//
// Safe for concurrent use; all state is behind a single mutex.
type AdaptiveTimeout struct {
	mu sync.Mutex

	baseline time.Duration
	current  time.Duration
	ceiling  time.Duration
	window   time.Duration

	timeoutTimes  []time.Time
	fastSuccesses int
}

// NewAdaptiveTimeout creates an adaptive timeout with the given baseline.
// The ceiling is fixed at 4x the baseline; the rolling window is 5 minutes.
func NewAdaptiveTimeout(baseline time.Duration) *AdaptiveTimeout {
	return &AdaptiveTimeout{
		baseline: baseline,
		current:  baseline,
		ceiling:  4 * baseline,
		window:   5 * time.Minute,
	}
}

// Current returns the timeout to apply to the next attempt.
func (a *AdaptiveTimeout) Current() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// RecordTimeout notes a timed-out attempt. The third timeout within the
// rolling window grows the timeout by 1.5x, capped at the ceiling.
func (a *AdaptiveTimeout) RecordTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	a.fastSuccesses = 0
	a.timeoutTimes = append(a.timeoutTimes, now)
	a.pruneLocked(now)

	if len(a.timeoutTimes) >= 3 {
		grown := time.Duration(float64(a.current) * 1.5)
		if grown > a.ceiling {
			grown = a.ceiling
		}
		a.current = grown
		a.timeoutTimes = a.timeoutTimes[:0]
	}
}

// RecordSuccess notes a successful attempt. Three consecutive completions
// under half the current budget shrink the timeout toward the baseline.
func (a *AdaptiveTimeout) RecordSuccess(elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if elapsed < a.current/2 {
		a.fastSuccesses++
	} else {
		a.fastSuccesses = 0
	}

	if a.fastSuccesses >= 3 {
		shrunk := time.Duration(float64(a.current) / 1.5)
		if shrunk < a.baseline {
			shrunk = a.baseline
		}
		a.current = shrunk
		a.fastSuccesses = 0
	}
}

func (a *AdaptiveTimeout) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.window)
	kept := a.timeoutTimes[:0]
	for _, t := range a.timeoutTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.timeoutTimes = kept
}
