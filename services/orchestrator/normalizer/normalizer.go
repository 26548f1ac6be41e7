// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package normalizer folds a raw user utterance into a canonical form:
// unicode NFC, whitespace collapse, domain typo dictionary, and jamo-level
// fuzzy rewriting of near-miss Hangul tokens toward the keyword catalog.
//
// Normalization never fails. Any internal error returns the input unchanged
// and records a technical signal with the tuner.
package normalizer

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultRequeryWindow bounds how soon a follow-up question in the same
// session counts as a re-query of the previous corrected one.
const DefaultRequeryWindow = 30 * time.Second

// defaultTypoDict is the shipped exact-match correction table. Shadow-dict
// promotions extend it at runtime through the overlay.
var defaultTypoDict = map[string]string{
	"스프런트": "스프린트",
	"스프릔트": "스프린트",
	"백로그우": "백로그",
	"벡로그":  "백로그",
	"테트트":  "테스트",
	"태스트":  "테스트",
	"리스그":  "리스크",
	"마일스튼": "마일스톤",
}

// Correction records one token substitution made during normalization.
type Correction struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Source string       `json:"source"` // "dictionary", "shadow", or "jamo"
	Score  float64      `json:"score,omitempty"`
	Group  KeywordGroup `json:"group,omitempty"`
}

// Result is the outcome of normalizing one utterance.
type Result struct {
	Raw         string       `json:"raw"`
	Canonical   string       `json:"canonical"`
	Corrections []Correction `json:"corrections"`
}

// Corrected reports whether any substitution happened.
func (r Result) Corrected() bool { return len(r.Corrections) > 0 }

// Normalizer is the C1 component. Process-wide, constructed once; safe for
// concurrent use (the shadow dict has its own locking, everything else is
// read-only).
type Normalizer struct {
	dict    map[string]string
	catalog *KeywordCatalog
	shadow  *ShadowDict
	tuner   *TypoTuner

	window   time.Duration
	mu       sync.Mutex
	sessions map[string]sessionOutcome
}

// sessionOutcome remembers the last corrected request per session so a fast
// follow-up can be attributed to a bad correction.
type sessionOutcome struct {
	at          time.Time
	corrections []Correction
}

// New creates a Normalizer. shadow and tuner may be nil (e.g. in tests);
// normalization then runs on the static dictionary and catalog alone.
func New(catalog *KeywordCatalog, shadow *ShadowDict, tuner *TypoTuner) *Normalizer {
	if catalog == nil {
		catalog = DefaultKeywordCatalog()
	}
	return &Normalizer{
		dict:     defaultTypoDict,
		catalog:  catalog,
		shadow:   shadow,
		tuner:    tuner,
		window:   DefaultRequeryWindow,
		sessions: make(map[string]sessionOutcome),
	}
}

// Normalize folds raw into canonical form.
//
// Stages, in order: NFC normalization, whitespace collapse, exact typo
// dictionary (static then promoted shadow entries), jamo fuzzy rewrite for
// Hangul tokens not already in the catalog. The function is idempotent:
// running it on its own output changes nothing.
func (n *Normalizer) Normalize(raw string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("normalization panicked, passing input through", "recover", r)
			if n.tuner != nil {
				n.tuner.RecordTechnicalError()
			}
			res = Result{Raw: raw, Canonical: raw}
		}
	}()

	canonical := norm.NFC.String(raw)
	canonical = strings.Join(strings.Fields(canonical), " ")

	var corrections []Correction
	tokens := strings.Split(canonical, " ")
	for i, tok := range tokens {
		replaced, corr := n.correctToken(tok)
		if corr != nil {
			tokens[i] = replaced
			corrections = append(corrections, *corr)
		}
	}

	return Result{
		Raw:         raw,
		Canonical:   strings.Join(tokens, " "),
		Corrections: corrections,
	}
}

// correctToken applies the correction cascade to a single token.
func (n *Normalizer) correctToken(tok string) (string, *Correction) {
	if to, ok := n.dict[tok]; ok {
		return to, &Correction{From: tok, To: to, Source: "dictionary", Group: n.catalog.GroupOf(to)}
	}
	if n.shadow != nil {
		if to, ok := n.shadow.Promoted(tok); ok {
			return to, &Correction{From: tok, To: to, Source: "shadow", Group: n.catalog.GroupOf(to)}
		}
	}
	if n.catalog.Contains(tok) || !containsHangul(tok) {
		return tok, nil
	}
	if keyword, group, score, ok := n.catalog.Closest(tok); ok && keyword != tok {
		if n.shadow != nil {
			n.shadow.Observe(tok, keyword)
		}
		return keyword, &Correction{From: tok, To: keyword, Source: "jamo", Score: score, Group: group}
	}
	return tok, nil
}

// RecordSignal forwards a downstream outcome to the tuner as a correction
// quality proxy. No-op when no tuner is attached.
func (n *Normalizer) RecordSignal(sig Signal) {
	if n.tuner != nil {
		n.tuner.Record(sig)
	}
}

// RecordOutcome translates one request's downstream outcome into tuner
// signals, keyed by the groups of the corrections that were applied.
//
// # Description
//
//	A jamo rewrite means the cheap layers missed: it records the L3 cost
//	plus a false-negative. A corrected request that failed or came back
//	empty records a false-positive per correction. A follow-up in the same
//	session inside the re-query window marks the previous request's
//	corrections as false-positives too: the user asked again because the
//	rewritten question was not theirs.
func (n *Normalizer) RecordOutcome(sessionID string, res Result, emptyAnswer, failed bool) {
	if n.tuner == nil {
		return
	}
	now := time.Now()

	for _, c := range res.Corrections {
		if c.Source == "jamo" {
			n.tuner.Record(Signal{Kind: SignalL3Cost, Group: c.Group, Timestamp: now})
			n.tuner.Record(Signal{Kind: SignalFalseNegative, Group: c.Group, Timestamp: now})
		}
		if emptyAnswer || failed {
			n.tuner.Record(Signal{Kind: SignalFalsePositive, Group: c.Group, Timestamp: now})
		}
	}

	if sessionID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.sessions[sessionID]; ok && now.Sub(prev.at) <= n.window {
		for _, c := range prev.corrections {
			n.tuner.Record(Signal{Kind: SignalFalsePositive, Group: c.Group, Timestamp: now})
		}
	}
	if res.Corrected() {
		n.sessions[sessionID] = sessionOutcome{
			at:          now,
			corrections: append([]Correction(nil), res.Corrections...),
		}
	} else {
		delete(n.sessions, sessionID)
	}
	n.pruneSessionsLocked(now)
}

// pruneSessionsLocked drops stale session records once the map gets large.
func (n *Normalizer) pruneSessionsLocked(now time.Time) {
	if len(n.sessions) < 1024 {
		return
	}
	cutoff := now.Add(-n.window)
	for id, rec := range n.sessions {
		if rec.at.Before(cutoff) {
			delete(n.sessions, id)
		}
	}
}

func containsHangul(s string) bool {
	for _, r := range s {
		if isHangulSyllable(r) {
			return true
		}
	}
	return false
}
