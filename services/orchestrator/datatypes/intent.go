// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Intent is the closed enumeration of answer types the pipeline can
// produce. New intents require a rule, a contract shape, and a renderer;
// the enumeration is closed at startup.
type Intent string

const (
	// STATUS_* family: deterministic DB metrics via the status query engine.
	IntentStatusMetric     Intent = "STATUS_METRIC"
	IntentSprintProgress   Intent = "SPRINT_PROGRESS"
	IntentProjectOverview  Intent = "PROJECT_OVERVIEW"
	IntentPortfolioSummary Intent = "PORTFOLIO_SUMMARY"

	// *_LIST family: row-returning queries via text-to-query.
	IntentBacklogList     Intent = "BACKLOG_LIST"
	IntentTasksByStatus   Intent = "TASKS_BY_STATUS"
	IntentTaskDueThisWeek Intent = "TASK_DUE_THIS_WEEK"
	IntentTaskAssignments Intent = "TASK_ASSIGNMENTS"
	IntentMeetingList     Intent = "MEETING_LIST"
	IntentDecisionLog     Intent = "DECISION_LOG"

	// Analysis family: QUALITY-track composition over retrieved evidence.
	IntentRiskAnalysis Intent = "RISK_ANALYSIS"
	IntentReportDraft  Intent = "REPORT_DRAFT"

	// Knowledge family: document retrieval.
	IntentHowtoPolicy Intent = "HOWTO_POLICY"
	IntentDocSearch   Intent = "DOC_SEARCH"

	// Governance family.
	IntentGovernance Intent = "GOVERNANCE"

	// Meta family.
	IntentCasual              Intent = "CASUAL"
	IntentClarificationNeeded Intent = "CLARIFICATION_NEEDED"
	IntentMisleadingQuery     Intent = "MISLEADING_QUERY"
)

// IntentFamily partitions intents for routing, rate limiting, and metrics.
type IntentFamily string

const (
	FamilyStatus     IntentFamily = "status"
	FamilyList       IntentFamily = "list"
	FamilyAnalysis   IntentFamily = "analysis"
	FamilyKnowledge  IntentFamily = "knowledge"
	FamilyGovernance IntentFamily = "governance"
	FamilyMeta       IntentFamily = "meta"
)

var intentFamilies = map[Intent]IntentFamily{
	IntentStatusMetric:        FamilyStatus,
	IntentSprintProgress:      FamilyStatus,
	IntentProjectOverview:     FamilyStatus,
	IntentPortfolioSummary:    FamilyStatus,
	IntentBacklogList:         FamilyList,
	IntentTasksByStatus:       FamilyList,
	IntentTaskDueThisWeek:     FamilyList,
	IntentTaskAssignments:     FamilyList,
	IntentMeetingList:         FamilyList,
	IntentDecisionLog:         FamilyList,
	IntentRiskAnalysis:        FamilyAnalysis,
	IntentReportDraft:         FamilyAnalysis,
	IntentHowtoPolicy:         FamilyKnowledge,
	IntentDocSearch:           FamilyKnowledge,
	IntentGovernance:          FamilyGovernance,
	IntentCasual:              FamilyMeta,
	IntentClarificationNeeded: FamilyMeta,
	IntentMisleadingQuery:     FamilyMeta,
}

// FamilyOf returns the intent's family; unknown intents map to meta.
func FamilyOf(i Intent) IntentFamily {
	if f, ok := intentFamilies[i]; ok {
		return f
	}
	return FamilyMeta
}

// AllIntents enumerates the closed set, in a stable order, for tests and
// registry completeness checks.
func AllIntents() []Intent {
	return []Intent{
		IntentStatusMetric, IntentSprintProgress, IntentProjectOverview,
		IntentPortfolioSummary, IntentBacklogList, IntentTasksByStatus,
		IntentTaskDueThisWeek, IntentTaskAssignments, IntentMeetingList,
		IntentDecisionLog, IntentRiskAnalysis, IntentReportDraft,
		IntentHowtoPolicy, IntentDocSearch, IntentGovernance,
		IntentCasual, IntentClarificationNeeded, IntentMisleadingQuery,
	}
}

// Classification is the answer-type classifier's output.
type Classification struct {
	Intent          Intent   `json:"intent"`
	Confidence      float64  `json:"confidence"`
	MatchedPatterns []string `json:"matched_patterns"`
	Reasoning       string   `json:"reasoning"`
}
