// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"regexp"
	"strings"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// Rule is one classification rule. A rule matches when its pattern matches
// the canonical utterance, every Required substring is present, and no
// Forbidden substring is present.
//
// Rules in the same intent family must be disjoint on their Required sets;
// the package tests enforce this.
type Rule struct {
	// Name identifies the rule in reasoning output and tests.
	Name string

	// Intent is the label this rule assigns.
	Intent datatypes.Intent

	// Priority orders evaluation, highest first. More specific rules get
	// higher priorities so general patterns cannot shadow them.
	Priority int

	// Pattern is the compiled trigger expression.
	Pattern *regexp.Regexp

	// Required substrings that must all appear in the utterance.
	Required []string

	// Forbidden substrings that veto the rule.
	Forbidden []string

	// Confidence reported when the rule fires.
	Confidence float64
}

func (r *Rule) matches(text string) bool {
	for _, tok := range r.Forbidden {
		if contains(text, tok) {
			return false
		}
	}
	for _, tok := range r.Required {
		if !contains(text, tok) {
			return false
		}
	}
	return r.Pattern == nil || r.Pattern.MatchString(text)
}

// defaultRules is the shipped rule table. Order here is documentation;
// the classifier sorts by priority at construction.
//
// The table is curated against one regression above all others: STATUS_METRIC
// must only fire on explicit metric vocabulary. A catch-all status rule once
// swallowed the majority of traffic, so every STATUS_METRIC trigger names a
// concrete metric token.
func defaultRules() []Rule {
	mk := regexp.MustCompile
	return []Rule{
		// --- meta guards, highest priority ---
		{
			Name:       "misleading_injection",
			Intent:     datatypes.IntentMisleadingQuery,
			Priority:   900,
			Pattern:    mk(`(?i)(ignore (all|previous|prior) instructions|system prompt|시스템 프롬프트|프롬프트.{0,8}무시|지시.{0,8}무시|규칙.{0,8}무시)`),
			Confidence: 0.95,
		},
		{
			Name:       "governance_permission",
			Intent:     datatypes.IntentGovernance,
			Priority:   800,
			Pattern:    mk(`(권한|위임|결재선|접근 ?권한|승인 ?(절차|권자)|(?i:permission|delegat|approv))`),
			Confidence: 0.85,
		},

		// --- status family ---
		{
			Name:       "status_metric_rate",
			Intent:     datatypes.IntentStatusMetric,
			Priority:   700,
			Pattern:    mk(`(완료율|진척률|진행률|달성률|소진율|(?i:completion rate|burn ?down))`),
			Confidence: 0.92,
		},
		{
			Name:       "sprint_progress",
			Intent:     datatypes.IntentSprintProgress,
			Priority:   650,
			Pattern:    mk(`(진행|현황|상황|어디까지|(?i:progress|status))`),
			Required:   []string{"스프린트"},
			Forbidden:  []string{"완료율", "진척률", "진행률"},
			Confidence: 0.88,
		},
		{
			Name:       "portfolio_summary",
			Intent:     datatypes.IntentPortfolioSummary,
			Priority:   640,
			Pattern:    mk(`(포트폴리오|전체 ?프로젝트|(?i:portfolio))`),
			Confidence: 0.85,
		},
		{
			Name:       "project_overview",
			Intent:     datatypes.IntentProjectOverview,
			Priority:   620,
			Pattern:    mk(`프로젝트.{0,12}(현황|개요|요약|상태|어때)`),
			Forbidden:  []string{"포트폴리오"},
			Confidence: 0.82,
		},

		// --- list family ---
		{
			Name:       "task_due_this_week",
			Intent:     datatypes.IntentTaskDueThisWeek,
			Priority:   600,
			Pattern:    mk(`(이번 ?주|금주|(?i:this week)).{0,20}(마감|기한|마무리|(?i:due))|(마감|기한|(?i:due)).{0,20}(이번 ?주|금주|(?i:this week))`),
			Confidence: 0.9,
		},
		{
			Name:       "tasks_by_status",
			Intent:     datatypes.IntentTasksByStatus,
			Priority:   580,
			Pattern:    mk(`(진행|완료|대기|보류|테스트|차단).{0,4}(중인|상태).{0,6}((?i:task)|태스크|작업|업무)`),
			Confidence: 0.88,
		},
		{
			Name:       "backlog_list",
			Intent:     datatypes.IntentBacklogList,
			Priority:   570,
			Pattern:    mk(`(뭐가|무엇|목록|리스트|보여|알려|있어|정리|(?i:list|items))`),
			Required:   []string{"백로그"},
			Confidence: 0.9,
		},
		{
			Name:       "task_assignments",
			Intent:     datatypes.IntentTaskAssignments,
			Priority:   560,
			Pattern:    mk(`(담당자|할당|배정|누가 (맡|담당)|(?i:assignee|assigned to))`),
			Confidence: 0.85,
		},
		{
			Name:       "meeting_list",
			Intent:     datatypes.IntentMeetingList,
			Priority:   550,
			Pattern:    mk(`(회의록|회의 ?(목록|기록|내용)|(?i:meeting (notes|minutes|list)))`),
			Confidence: 0.85,
		},
		{
			Name:       "decision_log",
			Intent:     datatypes.IntentDecisionLog,
			Priority:   540,
			Pattern:    mk(`(의사결정|결정 ?(사항|된 ?내용|내역)|(?i:decision log|decisions made))`),
			Confidence: 0.85,
		},

		// --- analysis family ---
		{
			Name:       "risk_analysis",
			Intent:     datatypes.IntentRiskAnalysis,
			Priority:   530,
			Pattern:    mk(`(리스크|위험 ?(요소|요인|분석)|(?i:risk))`),
			Confidence: 0.85,
		},
		{
			Name:       "report_draft",
			Intent:     datatypes.IntentReportDraft,
			Priority:   520,
			Pattern:    mk(`(보고서|리포트|주간 ?보고|(?i:report)).{0,16}(작성|초안|만들|써|정리|(?i:draft|write))|((?i:draft|write)).{0,16}(보고서|리포트|(?i:report))`),
			Confidence: 0.85,
		},

		// --- knowledge family ---
		{
			Name:       "doc_search",
			Intent:     datatypes.IntentDocSearch,
			Priority:   510,
			Pattern:    mk(`(문서|산출물|자료|템플릿).{0,12}(찾|검색|어디|있|보여)|(?i:find|search).{0,16}(?i:document|doc)`),
			Confidence: 0.85,
		},
		{
			Name:       "howto_policy",
			Intent:     datatypes.IntentHowtoPolicy,
			Priority:   500,
			Pattern:    mk(`(어떻게|하는 ?(법|방법)|방법|절차|규정|정책|가이드|뭐야|무엇인가|란\?|(?i:how (do|to|can)|what is|policy|guideline))`),
			Confidence: 0.78,
		},

		// --- small talk ---
		{
			Name:       "casual_greeting",
			Intent:     datatypes.IntentCasual,
			Priority:   100,
			Pattern:    mk(`^(안녕|하이|ㅎㅇ|고마워|감사|좋은 (아침|하루)|잘 ?(있|지내)|(?i:hello|hi|hey|thanks|thank you|good (morning|afternoon)))`),
			Confidence: 0.9,
		},
	}
}

// Required/Forbidden tokens are plain substrings, no pattern semantics.
func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}
