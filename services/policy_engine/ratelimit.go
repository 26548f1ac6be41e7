// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-user, per-intent-family request budget using
// token buckets. Buckets refill continuously at Rate per Window.
//
// # Thread Safety
//
// Safe for concurrent use; bucket state is behind a single mutex. Lookups
// and refills are O(1) per call.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rate requests per window for each (user, family)
// pair.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:    float64(rate),
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token for the caller; returns false when the budget
// for this window is spent.
func (rl *RateLimiter) Allow(userID, intentFamily string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := userID + "|" + intentFamily
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.rate, last: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.last)
	b.tokens += rl.rate * (float64(elapsed) / float64(rl.window))
	if b.tokens > rl.rate {
		b.tokens = rl.rate
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
