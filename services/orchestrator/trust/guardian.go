// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trust

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/policy_engine"
)

// Verdict is the guardian's decision for one rendered response.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictRetry Verdict = "RETRY"
	VerdictFail  Verdict = "FAIL"
)

// RiskLevel grades how bad shipping the response unchanged would be.
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskMed  RiskLevel = "MED"
	RiskHigh RiskLevel = "HIGH"
)

// MaxVerifyRetries bounds how many times a RETRY verdict reruns generation.
const MaxVerifyRetries = 2

// DefaultSamplingRate is the light guardian's check probability.
const DefaultSamplingRate = 0.3

// Review is the guardian's full output.
type Review struct {
	Verdict Verdict   `json:"verdict"`
	Risk    RiskLevel `json:"risk"`
	Reasons []string  `json:"reasons,omitempty"`
}

// definitivePhrases flag claims stated as certainties. A response using
// them without evidence behind it trips the hallucination heuristic.
var definitivePhrases = []string{
	"반드시", "확실히", "틀림없이", "무조건", "항상 그렇",
	"definitely", "certainly", "guaranteed", "always the case", "without doubt",
}

// Guardian is the QUALITY-track verifier: structural contract, sensitive
// content, evidence density, hallucination heuristics.
type Guardian struct {
	policy *policy_engine.PolicyEngine
}

// NewGuardian builds the verifier over the shared policy engine.
func NewGuardian(policy *policy_engine.PolicyEngine) *Guardian {
	return &Guardian{policy: policy}
}

// Verify reviews a rendered response against its contract and evidence.
func (g *Guardian) Verify(contract *datatypes.ResponseContract, rendered string, bundle *datatypes.EvidenceBundle) Review {
	if contract == nil || strings.TrimSpace(rendered) == "" {
		return Review{Verdict: VerdictFail, Risk: RiskHigh, Reasons: []string{"empty response"}}
	}
	if contract.Intent == "" {
		return Review{Verdict: VerdictFail, Risk: RiskHigh, Reasons: []string{"contract carries no intent"}}
	}

	var reasons []string
	risk := RiskLow
	verdict := VerdictPass

	if findings := g.policy.ScanContent(rendered); len(findings) > 0 {
		reasons = append(reasons, "sensitive data in rendered output: "+findings[0].ClassificationName)
		verdict = VerdictRetry
		risk = RiskHigh
	}

	hasEvidence := bundle != nil && bundle.HasSufficientEvidence
	if phrase := firstDefinitivePhrase(rendered); phrase != "" && !hasEvidence {
		reasons = append(reasons, "definitive claim without sufficient evidence: "+phrase)
		if verdict == VerdictPass {
			verdict = VerdictRetry
			risk = RiskMed
		}
	}

	if requiresEvidence(contract.Intent) && (bundle == nil || len(bundle.Items) == 0) {
		reasons = append(reasons, "knowledge intent rendered with no evidence items")
		if verdict == VerdictPass {
			verdict = VerdictRetry
			risk = RiskMed
		}
	}

	return Review{Verdict: verdict, Risk: risk, Reasons: reasons}
}

// requiresEvidence marks intents whose answers must cite sources.
func requiresEvidence(i datatypes.Intent) bool {
	switch i {
	case datatypes.IntentHowtoPolicy, datatypes.IntentDocSearch, datatypes.IntentRiskAnalysis, datatypes.IntentReportDraft:
		return true
	}
	return false
}

func firstDefinitivePhrase(text string) string {
	lower := strings.ToLower(text)
	for _, p := range definitivePhrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// LightGuardian is the FAST-track verifier: sampled, and limited to
// sensitive-leak and unsupported-definitive checks.
type LightGuardian struct {
	policy *policy_engine.PolicyEngine
	rate   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLightGuardian builds the sampled verifier. rate outside (0,1] falls
// back to the default.
func NewLightGuardian(policy *policy_engine.PolicyEngine, rate float64, seed int64) *LightGuardian {
	if rate <= 0 || rate > 1 {
		rate = DefaultSamplingRate
	}
	return &LightGuardian{policy: policy, rate: rate, rng: rand.New(rand.NewSource(seed))}
}

// ShouldSample rolls the sampling dice for one response.
func (l *LightGuardian) ShouldSample() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.rate
}

// Check runs the reduced check set.
func (l *LightGuardian) Check(rendered string, hasEvidence bool) Review {
	var reasons []string
	verdict := VerdictPass
	risk := RiskLow

	if findings := l.policy.ScanContent(rendered); len(findings) > 0 {
		reasons = append(reasons, "sensitive data in rendered output: "+findings[0].ClassificationName)
		verdict = VerdictRetry
		risk = RiskHigh
	}
	if phrase := firstDefinitivePhrase(rendered); phrase != "" && !hasEvidence {
		reasons = append(reasons, "definitive claim without evidence: "+phrase)
		if verdict == VerdictPass {
			verdict = VerdictRetry
			risk = RiskHigh
		}
	}
	return Review{Verdict: verdict, Risk: risk, Reasons: reasons}
}
