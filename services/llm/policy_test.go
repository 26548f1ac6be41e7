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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowClient blocks until the attempt deadline fires.
type slowClient struct {
	calls int
}

func (c *slowClient) Generate(ctx context.Context, _ string, _ GenerationParams) (string, error) {
	c.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

func (c *slowClient) ModelName() string { return "slow" }

type okClient struct{}

func (okClient) Generate(_ context.Context, _ string, _ GenerationParams) (string, error) {
	return "답변", nil
}

func (okClient) ModelName() string { return "ok" }

func TestCallPolicy_RetriesExhaustOnTimeout(t *testing.T) {
	client := &slowClient{}
	p := &CallPolicy{
		StageTimeout:  5 * time.Millisecond,
		MaxRetries:    2,
		BackoffBase:   time.Millisecond,
		BackoffFactor: 1.5,
		BackoffCap:    2 * time.Millisecond,
	}

	_, err := p.Generate(context.Background(), client, "질문", GenerationParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 3, client.calls)
}

func TestCallPolicy_AdaptiveTimeoutGrowsUnderTimeouts(t *testing.T) {
	adaptive := NewAdaptiveTimeout(5 * time.Millisecond)
	p := &CallPolicy{
		StageTimeout:  time.Hour, // the adaptive value must win over this
		MaxRetries:    3,
		BackoffBase:   time.Millisecond,
		BackoffFactor: 1.0,
		BackoffCap:    time.Millisecond,
	}
	p = p.WithAdaptiveTimeout(adaptive)

	client := &slowClient{}
	start := time.Now()
	_, err := p.Generate(context.Background(), client, "질문", GenerationParams{})
	require.Error(t, err)

	// Attempts were bounded by the adaptive budget, not the static one.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 4, client.calls)

	// Three timeouts inside the window grow the budget by 1.5x.
	assert.Equal(t, time.Duration(float64(5*time.Millisecond)*1.5), adaptive.Current())
}

func TestAdaptiveTimeout_ShrinksTowardBaseline(t *testing.T) {
	adaptive := NewAdaptiveTimeout(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		adaptive.RecordTimeout()
	}
	require.Equal(t, 150*time.Millisecond, adaptive.Current())

	// Three consecutive fast completions shrink back, floored at baseline.
	for i := 0; i < 3; i++ {
		adaptive.RecordSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, adaptive.Current())

	for i := 0; i < 3; i++ {
		adaptive.RecordSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, adaptive.Current(), "never shrinks below baseline")
}

func TestAdaptiveTimeout_CeilingIsFourTimesBaseline(t *testing.T) {
	adaptive := NewAdaptiveTimeout(10 * time.Millisecond)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			adaptive.RecordTimeout()
		}
	}
	assert.Equal(t, 40*time.Millisecond, adaptive.Current())
}

func TestCallPolicy_SuccessFeedsAdaptive(t *testing.T) {
	adaptive := NewAdaptiveTimeout(time.Second)
	p := DefaultCallPolicy().WithAdaptiveTimeout(adaptive)

	out, err := p.Generate(context.Background(), okClient{}, "질문", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "답변", out)
	assert.Equal(t, time.Second, adaptive.Current())
}
