// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/policy_engine"
)

func newTestGuardian(t *testing.T) (*Guardian, *policy_engine.PolicyEngine) {
	t.Helper()
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	return NewGuardian(engine), engine
}

func sufficientBundle() *datatypes.EvidenceBundle {
	return &datatypes.EvidenceBundle{
		Items:                 []datatypes.EvidenceItem{{ID: "e1", RelevanceScore: 0.9}},
		TotalScore:            0.9,
		HasSufficientEvidence: true,
	}
}

func TestGuardian_Verify(t *testing.T) {
	g, _ := newTestGuardian(t)

	t.Run("clean response passes", func(t *testing.T) {
		contract := datatypes.NewResponseContract(datatypes.IntentBacklogList, "p1")
		review := g.Verify(contract, "Backlog\n- 로그인 개선 (진행중)", sufficientBundle())
		assert.Equal(t, VerdictPass, review.Verdict)
		assert.Equal(t, RiskLow, review.Risk)
		assert.Empty(t, review.Reasons)
	})

	t.Run("sensitive leak retries at high risk", func(t *testing.T) {
		contract := datatypes.NewResponseContract(datatypes.IntentTaskAssignments, "p1")
		review := g.Verify(contract, "담당자: 김개발 (kim@osori.ai)", sufficientBundle())
		assert.Equal(t, VerdictRetry, review.Verdict)
		assert.Equal(t, RiskHigh, review.Risk)
		require.NotEmpty(t, review.Reasons)
		assert.Contains(t, review.Reasons[0], "sensitive")
	})

	t.Run("definitive claim without evidence retries", func(t *testing.T) {
		contract := datatypes.NewResponseContract(datatypes.IntentCasual, "")
		review := g.Verify(contract, "이 방식이 반드시 옳습니다.", nil)
		assert.Equal(t, VerdictRetry, review.Verdict)
		assert.Equal(t, RiskMed, review.Risk)
	})

	t.Run("knowledge intent needs evidence items", func(t *testing.T) {
		contract := datatypes.NewResponseContract(datatypes.IntentHowtoPolicy, "")
		review := g.Verify(contract, "플래닝 포커는 추정 기법입니다.", nil)
		assert.Equal(t, VerdictRetry, review.Verdict)
		require.NotEmpty(t, review.Reasons)
		assert.Contains(t, review.Reasons[0], "no evidence")
	})

	t.Run("empty render fails hard", func(t *testing.T) {
		contract := datatypes.NewResponseContract(datatypes.IntentBacklogList, "p1")
		review := g.Verify(contract, "   ", sufficientBundle())
		assert.Equal(t, VerdictFail, review.Verdict)
		assert.Equal(t, RiskHigh, review.Risk)
	})
}

func TestLightGuardian(t *testing.T) {
	_, engine := newTestGuardian(t)

	t.Run("check flags leak and definitive claims only", func(t *testing.T) {
		lg := NewLightGuardian(engine, 1.0, 1)

		clean := lg.Check("Backlog\n- 항목 3건", true)
		assert.Equal(t, VerdictPass, clean.Verdict)

		leak := lg.Check("연락처: 010-1234-5678", true)
		assert.Equal(t, VerdictRetry, leak.Verdict)
		assert.Equal(t, RiskHigh, leak.Risk)

		definitive := lg.Check("무조건 이 방법을 쓰세요.", false)
		assert.Equal(t, VerdictRetry, definitive.Verdict)

		// With evidence behind it the definitive phrasing is allowed.
		supported := lg.Check("무조건 이 방법을 쓰세요.", true)
		assert.Equal(t, VerdictPass, supported.Verdict)
	})

	t.Run("sampling follows the configured rate", func(t *testing.T) {
		lg := NewLightGuardian(engine, 0.3, 42)
		sampled := 0
		for i := 0; i < 1000; i++ {
			if lg.ShouldSample() {
				sampled++
			}
		}
		assert.Greater(t, sampled, 200)
		assert.Less(t, sampled, 400)
	})

	t.Run("invalid rate falls back to default", func(t *testing.T) {
		lg := NewLightGuardian(engine, 0, 1)
		assert.Equal(t, DefaultSamplingRate, lg.rate)
	})
}
