// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render turns a ResponseContract into user-facing text. Rendering
// is a pure function of the contract: same contract, byte-identical text.
// Every intent owns its header token; there is no generic fallthrough
// header, so a misrouted contract can never surface as "Project Status".
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// intentHeaders is the closed header table. Tokens are chosen so no
// intent's token is a substring of another intent's rendered output.
var intentHeaders = map[datatypes.Intent]string{
	datatypes.IntentStatusMetric:        "Status Metric",
	datatypes.IntentSprintProgress:      "Sprint Progress",
	datatypes.IntentProjectOverview:     "Project Overview",
	datatypes.IntentPortfolioSummary:    "Portfolio Summary",
	datatypes.IntentBacklogList:         "Backlog",
	datatypes.IntentTasksByStatus:       "Tasks by Status",
	datatypes.IntentTaskDueThisWeek:     "Tasks Due This Week",
	datatypes.IntentTaskAssignments:     "Task Assignments",
	datatypes.IntentMeetingList:         "Meetings",
	datatypes.IntentDecisionLog:         "Decision Log",
	datatypes.IntentRiskAnalysis:        "Risk Analysis",
	datatypes.IntentReportDraft:         "Report Draft",
	datatypes.IntentHowtoPolicy:         "Guide",
	datatypes.IntentDocSearch:           "Document Search",
	datatypes.IntentGovernance:          "Governance",
	datatypes.IntentCasual:              "Chat",
	datatypes.IntentClarificationNeeded: "Clarification Needed",
	datatypes.IntentMisleadingQuery:     "Query Check",
}

// HeaderFor returns the header token for an intent. Unknown intents get no
// header rather than someone else's.
func HeaderFor(i datatypes.Intent) string {
	return intentHeaders[i]
}

// Render produces the final text for a contract. It never panics on
// partial data: missing optional fields render as "-".
func Render(c *datatypes.ResponseContract) string {
	if c == nil {
		return "-"
	}

	var b strings.Builder
	if header := HeaderFor(c.Intent); header != "" {
		b.WriteString(header)
		b.WriteString("\n")
	}
	if c.ReferenceTime != "" {
		fmt.Fprintf(&b, "기준 시점: %s\n", c.ReferenceTime)
	}
	b.WriteString("\n")

	if c.Status == datatypes.StatusFailed {
		renderFailure(&b, c)
	} else {
		renderBody(&b, c)
	}

	renderEvidence(&b, c.Evidence)

	for _, w := range c.Warnings {
		fmt.Fprintf(&b, "⚠ %s\n", w)
	}
	for _, tip := range c.Tips {
		fmt.Fprintf(&b, "💡 %s\n", tip)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderFailure(b *strings.Builder, c *datatypes.ResponseContract) {
	msg := stringField(c.Data, "user_message")
	fmt.Fprintf(b, "요청을 처리하지 못했습니다: %s\n", msg)
	if c.ErrorCode != "" {
		fmt.Fprintf(b, "오류 코드: %s\n", c.ErrorCode)
	}
	if hint := stringField(c.Data, "recovery_hint"); hint != "-" {
		fmt.Fprintf(b, "%s\n", hint)
	}
}

func renderBody(b *strings.Builder, c *datatypes.ResponseContract) {
	switch c.Intent {
	case datatypes.IntentStatusMetric, datatypes.IntentSprintProgress,
		datatypes.IntentProjectOverview, datatypes.IntentPortfolioSummary:
		renderMetrics(b, c.Data)
	case datatypes.IntentBacklogList, datatypes.IntentTasksByStatus,
		datatypes.IntentTaskDueThisWeek, datatypes.IntentTaskAssignments,
		datatypes.IntentMeetingList, datatypes.IntentDecisionLog:
		renderRows(b, c.Data)
	case datatypes.IntentHowtoPolicy, datatypes.IntentDocSearch:
		renderProse(b, c.Data, "answer")
	case datatypes.IntentRiskAnalysis, datatypes.IntentReportDraft, datatypes.IntentGovernance:
		renderProse(b, c.Data, "composed")
	case datatypes.IntentCasual:
		renderProse(b, c.Data, "message")
	case datatypes.IntentClarificationNeeded:
		renderProse(b, c.Data, "question")
	case datatypes.IntentMisleadingQuery:
		renderProse(b, c.Data, "reason")
	default:
		renderProse(b, c.Data, "answer")
	}
}

// renderMetrics prints metric values in sorted id order and data gaps
// after them.
func renderMetrics(b *strings.Builder, data map[string]any) {
	values, _ := data["values"].(map[string]any)
	if len(values) == 0 {
		b.WriteString("데이터가 없습니다.\n")
	} else {
		ids := make([]string, 0, len(values))
		for id := range values {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			entry, _ := values[id].(map[string]any)
			value := renderValue(entry["value"])
			unit := stringField(entry, "unit")
			if unit == "-" {
				fmt.Fprintf(b, "- %s: %s\n", id, value)
			} else {
				fmt.Fprintf(b, "- %s: %s %s\n", id, value, unit)
			}
		}
	}

	if gaps, ok := data["data_gaps"].([]any); ok && len(gaps) > 0 {
		b.WriteString("수집하지 못한 항목:\n")
		for _, g := range gaps {
			fmt.Fprintf(b, "- %s\n", renderValue(g))
		}
	}
}

// renderRows prints list results one row per line, columns in result
// order when known, sorted key order otherwise.
func renderRows(b *strings.Builder, data map[string]any) {
	rows, _ := data["rows"].([]any)
	if len(rows) == 0 {
		b.WriteString("데이터가 없습니다.\n")
		return
	}

	var columns []string
	if cols, ok := data["columns"].([]any); ok {
		for _, c := range cols {
			if name, ok := c.(string); ok {
				columns = append(columns, name)
			}
		}
	}

	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			fmt.Fprintf(b, "- %s\n", renderValue(raw))
			continue
		}
		cols := columns
		if len(cols) == 0 {
			cols = make([]string, 0, len(row))
			for k := range row {
				cols = append(cols, k)
			}
			sort.Strings(cols)
		}
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s: %s", col, renderValue(row[col])))
		}
		fmt.Fprintf(b, "- %s\n", strings.Join(parts, " | "))
	}
	fmt.Fprintf(b, "총 %d건\n", len(rows))
}

func renderProse(b *strings.Builder, data map[string]any, key string) {
	text := stringField(data, key)
	if text == "-" {
		b.WriteString("데이터가 없습니다.\n")
		return
	}
	b.WriteString(text)
	b.WriteString("\n")
}

func renderEvidence(b *strings.Builder, items []datatypes.EvidenceItem) {
	if len(items) == 0 {
		return
	}
	b.WriteString("출처:\n")
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(b, "- %s (%s)\n", title, renderValueString(item.SourceID))
	}
}

// renderValue formats any value for display; nil and empty map to "-".
func renderValue(v any) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprintf("%v", v)
	if s == "" {
		return "-"
	}
	return s
}

func renderValueString(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return "-"
	}
	return renderValue(data[key])
}
