// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/dgraph-io/badger/v4"
)

// Badger key prefixes for the shadow dictionary namespace.
const (
	candidatePrefix = "nrm:cand:"
	promotedPrefix  = "nrm:promo:"
)

// ShadowConfig tunes the candidate promotion gates.
type ShadowConfig struct {
	// MinObservations is how many times a (typo, correction) pair must be
	// seen before it appears in the candidate list.
	MinObservations int

	// StabilityRatio is the share of observations the dominant correction
	// target must hold for the candidate to count as stable.
	StabilityRatio float64
}

// DefaultShadowConfig returns the shipped gates: 10 observations, 90%
// agreement on the target.
func DefaultShadowConfig() ShadowConfig {
	return ShadowConfig{MinObservations: 10, StabilityRatio: 0.90}
}

// candidateRecord is the persisted per-typo observation ledger. Targets maps
// each observed correction to its count.
type candidateRecord struct {
	Targets   map[string]int `json:"targets"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Candidate is the admin-facing view of one promotable typo.
type Candidate struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Observations int     `json:"observations"`
	Agreement    float64 `json:"agreement"`
}

// ShadowStats is the admin observability snapshot for the shadow dictionary.
type ShadowStats struct {
	PromotedEntries  int `json:"promoted_entries"`
	TrackedTypos     int `json:"tracked_typos"`
	RejectedByMasker int `json:"rejected_by_masker"`
}

// ShadowDict learns typo corrections from live traffic.
//
// # Description
//
//	Every jamo-layer correction is observed into a candidate ledger keyed
//	by the masked typo token. Candidates that accumulate enough
//	observations with a stable target become eligible for promotion; an
//	operator promotes them through the admin surface, after which the typo
//	is corrected by exact match ahead of the fuzzy layer.
//
//	Promotion is a human action. The dictionary never self-promotes.
//
// # Thread Safety
//
//	Promoted lookups are lock-free snapshot reads (atomic.Value holding an
//	immutable map). Observations and promotions serialize on a mutex and
//	write through to badger.
type ShadowDict struct {
	db  *badger.DB
	cfg ShadowConfig

	mu         sync.Mutex
	candidates map[string]*candidateRecord
	rejected   int

	promoted atomic.Value // map[string]string
}

// NewShadowDict opens the shadow dictionary over db, loading any persisted
// candidates and promotions. db may be nil for a memory-only dictionary.
func NewShadowDict(db *badger.DB, cfg ShadowConfig) (*ShadowDict, error) {
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = DefaultShadowConfig().MinObservations
	}
	if cfg.StabilityRatio <= 0 || cfg.StabilityRatio > 1 {
		cfg.StabilityRatio = DefaultShadowConfig().StabilityRatio
	}

	sd := &ShadowDict{
		db:         db,
		cfg:        cfg,
		candidates: make(map[string]*candidateRecord),
	}
	sd.promoted.Store(map[string]string{})

	if db != nil {
		if err := sd.load(); err != nil {
			return nil, fmt.Errorf("loading shadow dictionary: %w", err)
		}
	}
	return sd, nil
}

// load hydrates the in-memory state from badger.
func (s *ShadowDict) load() error {
	promoted := map[string]string{}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			switch {
			case strings.HasPrefix(key, candidatePrefix):
				var rec candidateRecord
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				})
				if err != nil {
					return err
				}
				s.candidates[strings.TrimPrefix(key, candidatePrefix)] = &rec
			case strings.HasPrefix(key, promotedPrefix):
				err := item.Value(func(val []byte) error {
					promoted[strings.TrimPrefix(key, promotedPrefix)] = string(val)
					return nil
				})
				if err != nil {
					return err
				}
			}
		}
		s.promoted.Store(promoted)
		return nil
	})
}

// Promoted returns the promoted correction for tok, if any. Lock-free.
func (s *ShadowDict) Promoted(tok string) (string, bool) {
	m := s.promoted.Load().(map[string]string)
	to, ok := m[tok]
	return to, ok
}

// PromotedEntries returns a copy of the live promoted correction set.
func (s *ShadowDict) PromotedEntries() map[string]string {
	m := s.promoted.Load().(map[string]string)
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Observe records that the fuzzy layer corrected from into to. Tokens the
// masker flags as potentially personal are dropped, not stored.
func (s *ShadowDict) Observe(from, to string) {
	masked, ok := maskFingerprint(from)
	if !ok || masked != from {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec, exists := s.candidates[from]
	if !exists {
		rec = &candidateRecord{Targets: map[string]int{}, FirstSeen: now}
		s.candidates[from] = rec
	}
	rec.Targets[to]++
	rec.LastSeen = now

	if s.db != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return
		}
		_ = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(candidatePrefix+from), payload)
		})
	}
}

// Candidates lists the typos that pass both promotion gates. Order is not
// guaranteed; callers sort for display.
func (s *ShadowDict) Candidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Candidate
	for from, rec := range s.candidates {
		total := 0
		bestTo := ""
		bestCount := 0
		for to, count := range rec.Targets {
			total += count
			if count > bestCount || (count == bestCount && to < bestTo) {
				bestTo, bestCount = to, count
			}
		}
		if total < s.cfg.MinObservations {
			continue
		}
		agreement := float64(bestCount) / float64(total)
		if agreement < s.cfg.StabilityRatio {
			continue
		}
		out = append(out, Candidate{
			From:         from,
			To:           bestTo,
			Observations: total,
			Agreement:    agreement,
		})
	}
	return out
}

// Promote activates from→to for exact-match correction. The pair does not
// need to be a tracked candidate; operators may promote directly.
func (s *ShadowDict) Promote(from, to string) error {
	if from == "" || to == "" || from == to {
		return fmt.Errorf("invalid promotion %q -> %q", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(promotedPrefix+from), []byte(to))
		})
		if err != nil {
			return fmt.Errorf("persisting promotion: %w", err)
		}
	}

	old := s.promoted.Load().(map[string]string)
	next := make(map[string]string, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[from] = to
	s.promoted.Store(next)
	return nil
}

// Stats returns counters for the admin surface.
func (s *ShadowDict) Stats() ShadowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShadowStats{
		PromotedEntries:  len(s.promoted.Load().(map[string]string)),
		TrackedTypos:     len(s.candidates),
		RejectedByMasker: s.rejected,
	}
}

// maskFingerprint screens a token before it may be stored. Tokens carrying
// digit runs, '@', or other identifier-shaped content are rejected outright
// rather than masked: a typo dictionary has no business remembering them.
// Returns the token and whether it is storable.
func maskFingerprint(tok string) (string, bool) {
	if tok == "" || len(tok) > 64 {
		return "", false
	}
	for _, r := range tok {
		if unicode.IsDigit(r) || r == '@' || r == '/' || r == ':' {
			return "", false
		}
	}
	return tok, true
}
