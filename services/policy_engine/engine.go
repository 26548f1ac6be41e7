// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy_engine provides data classification, redaction, topic
// denial, and per-caller rate limiting for the answering pipeline's policy
// gate.
package policy_engine

import (
	"fmt"
	"strings"

	"github.com/osoriai/pms-copilot/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine is the entry point for policy checks. It holds the compiled
// rule set loaded from the embedded policy file at startup.
type PolicyEngine struct {
	Classifiers  []Classification
	DeniedTopics []DeniedTopic
}

// NewPolicyEngine initializes the engine from the policy definitions
// embedded in the binary.
//
// It unmarshals the embedded YAML, compiles all regex patterns, and sorts
// classifications by priority. Returns an error if the embedded YAML is
// malformed or contains an invalid regex; callers treat that as fatal.
func NewPolicyEngine() (*PolicyEngine, error) {
	var policyFile PolicyFile
	if err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &policyFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}
	if err := policyFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}
	policyFile.SortByPriority()
	return &PolicyEngine{
		Classifiers:  policyFile.ClassificationPatterns,
		DeniedTopics: policyFile.DeniedTopics,
	}, nil
}

// ClassifyData returns the name of the first (highest-priority)
// classification matching the data, or "public" when nothing matches.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return "public"
}

// ScanContent audits a string line by line and reports every sensitive-data
// match with its location. Used by the policy gate on both user input and
// rendered output.
func (e *PolicyEngine) ScanContent(content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					findings = append(findings, ScanFinding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}

// Redact masks every sensitive-data match in content with asterisks,
// preserving length so downstream layout survives. ADMIN callers bypass
// this at the call site, not here.
func (e *PolicyEngine) Redact(content string) (string, int) {
	redactions := 0
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			content = re.ReplaceAllStringFunc(content, func(m string) string {
				redactions++
				return strings.Repeat("*", len(m))
			})
		}
	}
	return content, redactions
}

// CheckDeniedTopic returns the first denied topic the utterance hits, or
// nil when the topic is allowed.
func (e *PolicyEngine) CheckDeniedTopic(utterance string) *DeniedTopic {
	for i := range e.DeniedTopics {
		if e.DeniedTopics[i].compiledPattern.MatchString(utterance) {
			return &e.DeniedTopics[i]
		}
	}
	return nil
}
