// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "github.com/osoriai/pms-copilot/services/orchestrator/datatypes"

// qualityIntents always take the QUALITY track: their answers are composed
// prose over evidence or multi-metric summaries, not single lookups.
var qualityIntents = map[datatypes.Intent]bool{
	datatypes.IntentRiskAnalysis:     true,
	datatypes.IntentSprintProgress:   true,
	datatypes.IntentGovernance:       true,
	datatypes.IntentReportDraft:      true,
	datatypes.IntentPortfolioSummary: true,
	datatypes.IntentProjectOverview:  true,
}

// evidenceRequiredIntents must cite sources, which forces the QUALITY
// track even when the intent itself is simple.
var evidenceRequiredIntents = map[datatypes.Intent]bool{
	datatypes.IntentHowtoPolicy:  true,
	datatypes.IntentDocSearch:    true,
	datatypes.IntentRiskAnalysis: true,
	datatypes.IntentReportDraft:  true,
}

// EvidenceRequired reports whether the intent's answers must carry
// evidence.
func EvidenceRequired(i datatypes.Intent) bool {
	return evidenceRequiredIntents[i]
}

// DecideTrack picks the processing track for a classified request.
func DecideTrack(intent datatypes.Intent, authority datatypes.AuthorityLevel) Track {
	if qualityIntents[intent] || EvidenceRequired(intent) {
		return TrackQuality
	}
	if authority.Rank() >= datatypes.AuthorityExecute.Rank() {
		return TrackQuality
	}
	return TrackFast
}

// Upgrade flips a FAST state to QUALITY once. The second call is a no-op:
// a request never loops between tracks.
func Upgrade(s *State) bool {
	if s.Track != TrackFast || s.Upgraded {
		return false
	}
	s.Track = TrackQuality
	s.Upgraded = true
	return true
}
