// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// emptyDataTips is appended when an intent legitimately found nothing.
var emptyDataTips = map[datatypes.IntentFamily]string{
	datatypes.FamilyList:      "조건을 바꾸거나 기간을 넓혀 다시 질문해 보세요.",
	datatypes.FamilyStatus:    "스프린트와 태스크가 등록되어 있는지 확인해 보세요.",
	datatypes.FamilyKnowledge: "관련 문서가 아직 등록되지 않았을 수 있습니다.",
}

// buildContract shapes the state into the per-intent response contract.
func (p *Pipeline) buildContract(s *State) *datatypes.ResponseContract {
	scope := s.Caller.ProjectID
	if scope == "" {
		scope = "global"
	}
	c := datatypes.NewResponseContract(s.Classification.Intent, scope)
	c.Warnings = append(c.Warnings, s.Warnings...)

	if s.Failure != nil {
		c.Status = datatypes.StatusFailed
		c.ErrorCode = string(s.Failure.Code)
		c.Provenance = datatypes.ProvenanceUnavailable
		c.Data["user_message"] = s.Failure.UserMessage
		c.Data["recovery_hint"] = s.Failure.RecoveryHint
		return c
	}

	switch datatypes.FamilyOf(s.Classification.Intent) {
	case datatypes.FamilyStatus:
		p.fillStatus(c, s)
	case datatypes.FamilyList:
		p.fillRows(c, s)
	case datatypes.FamilyKnowledge:
		p.fillProse(c, s, "answer")
	case datatypes.FamilyAnalysis, datatypes.FamilyGovernance:
		p.fillProse(c, s, "composed")
	default:
		p.fillMeta(c, s)
	}

	if s.Evidence != nil {
		c.Evidence = s.Evidence.Items
	}
	return c
}

func (p *Pipeline) fillStatus(c *datatypes.ResponseContract, s *State) {
	values := map[string]any{}
	var gaps []any
	if s.StatusResult != nil {
		for id, v := range s.StatusResult.Values {
			values[id] = map[string]any{"value": v.Value, "unit": v.Unit}
		}
		for _, g := range s.StatusResult.DataGaps {
			gaps = append(gaps, g)
		}
	}
	c.Data["values"] = values
	c.Data["data_gaps"] = gaps
	if len(values) == 0 {
		appendTip(c, datatypes.FamilyStatus)
	}
	if len(gaps) > 0 {
		c.Warnings = append(c.Warnings, "일부 지표를 수집하지 못했습니다.")
	}
}

func (p *Pipeline) fillRows(c *datatypes.ResponseContract, s *State) {
	var rows []any
	var columns []any
	if s.QueryResult != nil && s.QueryResult.Execution != nil {
		for _, col := range s.QueryResult.Execution.Columns {
			columns = append(columns, col)
		}
		for _, row := range s.QueryResult.Execution.Rows {
			rows = append(rows, map[string]any(row))
		}
	}
	c.Data["columns"] = columns
	c.Data["rows"] = rows
	if len(rows) == 0 {
		appendTip(c, datatypes.FamilyList)
	}
}

func (p *Pipeline) fillProse(c *datatypes.ResponseContract, s *State, key string) {
	if s.Composed != "" {
		c.Data[key] = s.Composed
	}
	if s.Composed == "" {
		appendTip(c, datatypes.FamilyKnowledge)
	}
	if s.Retrieval != nil {
		c.Scope = string(s.Retrieval.Scope)
	}
}

func (p *Pipeline) fillMeta(c *datatypes.ResponseContract, s *State) {
	switch s.Classification.Intent {
	case datatypes.IntentCasual:
		c.Data["message"] = "안녕하세요! 프로젝트 현황, 백로그, 문서에 대해 무엇이든 물어보세요."
	case datatypes.IntentClarificationNeeded:
		c.Data["question"] = "질문의 의도를 정확히 파악하지 못했습니다. 조금 더 구체적으로 말씀해 주시겠어요?"
		c.Tips = append(c.Tips, "프로젝트, 기간, 대상(태스크/문서)을 함께 알려 주시면 좋습니다.")
	case datatypes.IntentMisleadingQuery:
		c.Data["reason"] = "질문에 사실과 다른 전제가 포함된 것으로 보입니다. 전제를 확인한 뒤 다시 질문해 주세요."
	}
}

func appendTip(c *datatypes.ResponseContract, family datatypes.IntentFamily) {
	if tip, ok := emptyDataTips[family]; ok {
		c.Tips = append(c.Tips, tip)
	}
}
