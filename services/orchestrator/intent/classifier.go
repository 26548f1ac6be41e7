// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent maps a canonical utterance onto the closed answer-type
// enumeration with a deterministic, priority-ordered rule engine. First
// matching rule wins; no rule means CASUAL for short greetings and
// CLARIFICATION_NEEDED for everything else.
package intent

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// casualFallbackMaxRunes bounds what counts as a "short" unmatched
// utterance for the CASUAL fallback.
const casualFallbackMaxRunes = 10

// Classifier is the answer-type rule engine. Construct once, read-only
// afterwards; safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over the shipped rule table.
func NewClassifier() *Classifier {
	return NewClassifierWithRules(defaultRules())
}

// NewClassifierWithRules builds a classifier over a custom table. Rules are
// sorted by descending priority; equal priorities break on rule name so the
// evaluation order is total.
func NewClassifierWithRules(rules []Rule) *Classifier {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &Classifier{rules: sorted}
}

// Rules exposes the evaluation-ordered table for tests and the admin
// surface. Callers must not mutate the returned slice.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify maps the canonical utterance to an intent.
//
// # Inputs
//
//	canonical - The normalized utterance (C1 output).
//	typoCorrected - Whether normalization changed the utterance; recorded
//	    in the reasoning so downstream consumers can see the rewrite.
//
// # Outputs
//
//	datatypes.Classification - Never empty: unmatched input falls back to
//	    CASUAL (short) or CLARIFICATION_NEEDED.
//
// Deterministic: equal inputs produce equal outputs.
func (c *Classifier) Classify(canonical string, typoCorrected bool) datatypes.Classification {
	text := strings.TrimSpace(canonical)

	for i := range c.rules {
		r := &c.rules[i]
		if !r.matches(text) {
			continue
		}
		reasoning := fmt.Sprintf("rule %q matched", r.Name)
		if typoCorrected {
			reasoning += "; typo corrected during normalization"
		}
		return datatypes.Classification{
			Intent:          r.Intent,
			Confidence:      r.Confidence,
			MatchedPatterns: []string{r.Name},
			Reasoning:       reasoning,
		}
	}

	return c.fallback(text, typoCorrected)
}

// fallback handles utterances no rule claims.
func (c *Classifier) fallback(text string, typoCorrected bool) datatypes.Classification {
	reasoning := "no rule matched"
	if typoCorrected {
		reasoning += "; typo corrected during normalization"
	}

	if utf8.RuneCountInString(text) <= casualFallbackMaxRunes && !strings.Contains(text, "?") {
		return datatypes.Classification{
			Intent:          datatypes.IntentCasual,
			Confidence:      0.4,
			MatchedPatterns: []string{},
			Reasoning:       reasoning + "; short utterance treated as small talk",
		}
	}
	return datatypes.Classification{
		Intent:          datatypes.IntentClarificationNeeded,
		Confidence:      0.3,
		MatchedPatterns: []string{},
		Reasoning:       reasoning + "; asking the user to clarify",
	}
}
