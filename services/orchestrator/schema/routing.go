// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"fmt"
	"strings"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// intentTables maps each list-family intent to the tables its queries may
// select from. Closed at startup; unknown intents get no tables.
var intentTables = map[datatypes.Intent][]string{
	datatypes.IntentBacklogList:     {"task.backlog_items"},
	datatypes.IntentTasksByStatus:   {"task.tasks"},
	datatypes.IntentTaskDueThisWeek: {"task.tasks"},
	datatypes.IntentTaskAssignments: {"task.tasks", "task.task_assignees"},
	datatypes.IntentMeetingList:     {"doc.meetings"},
	datatypes.IntentDecisionLog:     {"doc.decisions"},
}

// TablesForIntent returns the tables an intent's generated queries may use.
// The returned slice is a copy.
func TablesForIntent(i datatypes.Intent) []string {
	src, ok := intentTables[i]
	if !ok {
		return nil
	}
	return append([]string{}, src...)
}

// ShouldRetrieveSQLTables reports whether the intent routes through
// text-to-SQL, meaning the generator needs relational schema context.
func ShouldRetrieveSQLTables(i datatypes.Intent) bool {
	_, ok := intentTables[i]
	return ok
}

// ShouldRetrieveGraphSchema reports whether the intent routes through the
// document graph (text-to-Cypher / hybrid retrieval).
func ShouldRetrieveGraphSchema(i datatypes.Intent) bool {
	return datatypes.FamilyOf(i) == datatypes.FamilyKnowledge
}

// SchemaContext renders the tables' columns as prompt context for the
// query generator. Deterministic: tables in the given order, columns sorted.
func (g *Graph) SchemaContext(tables []string) string {
	var b strings.Builder
	for _, t := range tables {
		cols := g.Columns(t)
		if cols == nil {
			continue
		}
		fmt.Fprintf(&b, "TABLE %s (%s)", t, strings.Join(cols, ", "))
		if g.IsProjectScoped(t) {
			b.WriteString(" -- project scoped")
		}
		b.WriteString("\n")
	}
	return b.String()
}
