// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package trust holds the gates between answer assembly and rendering:
// authority classification, evidence scoring, guardian verification, and
// failure handling with recovery planning.
package trust

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// DefaultConfidenceThreshold forces SUGGEST below this classifier
// confidence.
const DefaultConfidenceThreshold = 0.7

// intentBaseAuthority is the per-intent starting level. Read-style intents
// suggest; draft-producing intents may execute. Anything unlisted is
// SUGGEST.
var intentBaseAuthority = map[datatypes.Intent]datatypes.AuthorityLevel{
	datatypes.IntentReportDraft: datatypes.AuthorityExecute,
}

// intentApprovalType names who signs off a COMMIT-level response per
// intent. Unlisted intents that reach COMMIT require a manager.
var intentApprovalType = map[datatypes.Intent]datatypes.ApprovalType{
	datatypes.IntentGovernance: datatypes.ApprovalAdmin,
}

// roleMaxAuthority caps what each role's responses may do. Unknown roles
// cap at SUGGEST (fail closed).
var roleMaxAuthority = map[datatypes.Role]datatypes.AuthorityLevel{
	datatypes.RoleAdmin:           datatypes.AuthorityCommit,
	datatypes.RolePMOHead:         datatypes.AuthorityCommit,
	datatypes.RolePM:              datatypes.AuthorityExecute,
	datatypes.RoleSponsor:         datatypes.AuthorityDecide,
	datatypes.RoleBusinessAnalyst: datatypes.AuthorityDecide,
	datatypes.RoleAuditor:         datatypes.AuthoritySuggest,
	datatypes.RoleDeveloper:       datatypes.AuthoritySuggest,
	datatypes.RoleQA:              datatypes.AuthoritySuggest,
	datatypes.RoleMember:          datatypes.AuthoritySuggest,
}

// AuthorityConfig tunes the classifier.
type AuthorityConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// RequireEvidenceForExecute caps evidence-less responses at SUGGEST
	// when the base level is EXECUTE or above.
	RequireEvidenceForExecute bool `yaml:"require_evidence_for_execute"`

	// RoleOverrides adjusts the role authority cap for deployments with
	// non-standard roles.
	RoleOverrides map[string]datatypes.AuthorityLevel `yaml:"role_overrides"`
}

// DefaultAuthorityConfig returns production defaults.
func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		ConfidenceThreshold:       DefaultConfidenceThreshold,
		RequireEvidenceForExecute: true,
	}
}

// ParseAuthorityConfig reads an operator-provided YAML override file.
func ParseAuthorityConfig(raw []byte) (AuthorityConfig, error) {
	cfg := DefaultAuthorityConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing authority config: %w", err)
	}
	return cfg, nil
}

// AuthorityClassifier decides the authority level of one response.
type AuthorityClassifier struct {
	cfg AuthorityConfig
}

// NewAuthorityClassifier builds the classifier.
func NewAuthorityClassifier(cfg AuthorityConfig) *AuthorityClassifier {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &AuthorityClassifier{cfg: cfg}
}

// Classify computes the final authority: the intent's base level capped by
// confidence, evidence, and the caller's role, in that order. The first cap
// that lowers the level is recorded as the downgrade reason.
func (c *AuthorityClassifier) Classify(intent datatypes.Intent, role datatypes.Role, confidence float64, hasEvidence bool) datatypes.AuthorityResult {
	level := datatypes.AuthoritySuggest
	if base, ok := intentBaseAuthority[intent]; ok {
		level = base
	}
	reason := ""

	if confidence < c.cfg.ConfidenceThreshold && level.Rank() > datatypes.AuthoritySuggest.Rank() {
		level = datatypes.AuthoritySuggest
		reason = fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, c.cfg.ConfidenceThreshold)
	}

	if c.cfg.RequireEvidenceForExecute && !hasEvidence && level.Rank() >= datatypes.AuthorityExecute.Rank() {
		level = datatypes.AuthoritySuggest
		if reason == "" {
			reason = "no supporting evidence for an execute-level response"
		}
	}

	if roleCap := c.roleCap(role); roleCap.Rank() < level.Rank() {
		level = roleCap
		if reason == "" {
			reason = fmt.Sprintf("role %s caps authority at %s", role, roleCap)
		}
	}

	result := datatypes.AuthorityResult{Level: level, DowngradeReason: reason}
	if level == datatypes.AuthorityCommit {
		result.RequiresApproval = true
		result.ApprovalType = datatypes.ApprovalManager
		if at, ok := intentApprovalType[intent]; ok {
			result.ApprovalType = at
		}
	}
	return result
}

func (c *AuthorityClassifier) roleCap(role datatypes.Role) datatypes.AuthorityLevel {
	if override, ok := c.cfg.RoleOverrides[string(role)]; ok {
		return override
	}
	if cap, ok := roleMaxAuthority[role]; ok {
		return cap
	}
	return datatypes.AuthoritySuggest
}
