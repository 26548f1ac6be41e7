// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// PolicyFile is the on-disk (embedded) shape of the policy definitions:
// sensitive-data classifications plus denied topics.
type PolicyFile struct {
	ClassificationPatterns []Classification `yaml:"classifications"`
	DeniedTopics           []DeniedTopic    `yaml:"denied_topics"`
}

// Classification groups patterns that detect one category of sensitive data.
type Classification struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

// Pattern is a single detection regex with metadata.
type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

// DeniedTopic is a subject the assistant refuses to answer about, matched
// case-insensitively against the normalized utterance.
type DeniedTopic struct {
	Id              string         `yaml:"id"`
	Description     string         `yaml:"description"`
	Regex           string         `yaml:"regex"`
	compiledPattern *regexp.Regexp `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

// CompileRegexes compiles every pattern in the file. Invalid regexes fail
// startup rather than being skipped.
func (p *PolicyFile) CompileRegexes() error {
	for i := range p.ClassificationPatterns {
		for j := range p.ClassificationPatterns[i].Patterns {
			pattern := &p.ClassificationPatterns[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			p.ClassificationPatterns[i].CompiledPatterns = append(
				p.ClassificationPatterns[i].CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	for i := range p.DeniedTopics {
		re, err := regexp.Compile("(?i)" + p.DeniedTopics[i].Regex)
		if err != nil {
			return fmt.Errorf("failed to compile denied topic %s: %w", p.DeniedTopics[i].Id, err)
		}
		p.DeniedTopics[i].compiledPattern = re
	}
	return nil
}

// SortByPriority orders classifications from highest to lowest priority.
func (p *PolicyFile) SortByPriority() {
	sort.Slice(p.ClassificationPatterns, func(i, j int) bool {
		return p.ClassificationPatterns[i].Priority > p.ClassificationPatterns[j].Priority
	})
}

// ScanFinding is one sensitive-data match inside scanned content.
type ScanFinding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
