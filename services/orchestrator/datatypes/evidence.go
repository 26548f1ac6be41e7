// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// SourceType identifies where an evidence item came from.
type SourceType string

const (
	SourceDocument  SourceType = "document"
	SourceIssue     SourceType = "issue"
	SourceTask      SourceType = "task"
	SourceMeeting   SourceType = "meeting"
	SourceUserStory SourceType = "user_story"
	SourceSprint    SourceType = "sprint"
	SourceDecision  SourceType = "decision"
)

// MaxEvidenceExcerptLen caps evidence excerpts carried on responses.
const MaxEvidenceExcerptLen = 500

// EvidenceItem is one ranked piece of support for a response.
type EvidenceItem struct {
	ID             string     `json:"id"`
	SourceType     SourceType `json:"source_type"`
	SourceID       string     `json:"source_id"`
	Title          string     `json:"title"`
	Excerpt        string     `json:"excerpt"`
	RelevanceScore float64    `json:"relevance_score"`
	URL            string     `json:"url,omitempty"`
}

// EvidenceBundle is the assembled evidence for one response, with the
// aggregate sufficiency verdict computed by the evidence service.
type EvidenceBundle struct {
	Items                 []EvidenceItem `json:"items"`
	TotalScore            float64        `json:"total_score"`
	HasSufficientEvidence bool           `json:"has_sufficient_evidence"`
}
