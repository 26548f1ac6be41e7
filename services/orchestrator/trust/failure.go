// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trust

import (
	"context"
	"errors"
	"sync"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

type failureSpec struct {
	category     datatypes.FailureCategory
	severity     datatypes.Severity
	recoverable  bool
	retryAllowed bool
	maxRetries   int
	action       datatypes.RecoveryAction
	userMessage  string
	recoveryHint string
}

// failureTable is the full taxonomy: classification, recovery action, and
// retry budget per code.
var failureTable = map[datatypes.FailureCode]failureSpec{
	datatypes.FailInfoMissing: {
		category: datatypes.CategoryInformation, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverRefineQuery,
		userMessage:  "요청하신 정보를 찾지 못했습니다.",
		recoveryHint: "질문을 조금 더 구체적으로 다시 작성해 보세요.",
	},
	datatypes.FailInfoOutdated: {
		category: datatypes.CategoryInformation, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: false,
		action:       datatypes.RecoverAddDisclaimer,
		userMessage:  "최신이 아닐 수 있는 정보가 포함되어 있습니다.",
		recoveryHint: "기준 시점을 확인해 주세요.",
	},
	datatypes.FailInfoConflicting: {
		category: datatypes.CategoryInformation, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: false,
		action:       datatypes.RecoverAddDisclaimer,
		userMessage:  "서로 충돌하는 정보가 발견되었습니다.",
		recoveryHint: "출처별 내용을 직접 비교해 주세요.",
	},
	datatypes.FailInfoAmbiguous: {
		category: datatypes.CategoryInformation, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverAskClarification,
		userMessage:  "질문을 한 가지 의미로 해석하기 어렵습니다.",
		recoveryHint: "어떤 항목을 말씀하시는지 알려 주세요.",
	},
	datatypes.FailInfoIncomplete: {
		category: datatypes.CategoryInformation, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverRefineQuery,
		userMessage:  "일부 정보만 찾을 수 있었습니다.",
		recoveryHint: "누락된 항목은 조건을 바꿔 다시 질문해 보세요.",
	},

	datatypes.FailPolicyUnauthorized: {
		category: datatypes.CategoryPolicy, severity: datatypes.SeverityHigh,
		recoverable: false, retryAllowed: false,
		action:       datatypes.RecoverAbort,
		userMessage:  "이 작업을 수행할 권한이 없습니다.",
		recoveryHint: "프로젝트 관리자에게 권한을 요청하세요.",
	},
	datatypes.FailPolicyBoundary: {
		category: datatypes.CategoryPolicy, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: false,
		action:       datatypes.RecoverDowngradeToSuggest,
		userMessage:  "요청이 허용 범위를 넘어 제안 형태로만 답변합니다.",
		recoveryHint: "실행이 필요하면 승인 절차를 이용하세요.",
	},
	datatypes.FailPolicyProhibited: {
		category: datatypes.CategoryPolicy, severity: datatypes.SeverityHigh,
		recoverable: false, retryAllowed: false,
		action:       datatypes.RecoverAbort,
		userMessage:  "답변이 허용되지 않는 주제입니다.",
		recoveryHint: "다른 질문으로 다시 시도해 주세요.",
	},
	datatypes.FailPolicyRateLimit: {
		category: datatypes.CategoryPolicy, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverWaitAndRetry,
		userMessage:  "요청이 너무 잦아 잠시 후 다시 시도해야 합니다.",
		recoveryHint: "몇 분 뒤에 다시 질문해 주세요.",
	},

	datatypes.FailTechLLMError: {
		category: datatypes.CategoryTechnical, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: true, maxRetries: 2,
		action:       datatypes.RecoverRetryWithBackoff,
		userMessage:  "답변 생성 중 일시적인 오류가 발생했습니다.",
		recoveryHint: "잠시 후 다시 시도해 주세요.",
	},
	datatypes.FailTechDBError: {
		category: datatypes.CategoryTechnical, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: true, maxRetries: 2,
		action:       datatypes.RecoverRetryWithBackoff,
		userMessage:  "데이터 조회 중 오류가 발생했습니다.",
		recoveryHint: "잠시 후 다시 시도해 주세요.",
	},
	datatypes.FailTechRAGError: {
		category: datatypes.CategoryTechnical, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverFallback,
		userMessage:  "문서 검색에 실패해 다른 방법으로 답변합니다.",
		recoveryHint: "문서 근거가 필요하면 잠시 후 다시 질문해 주세요.",
	},
	datatypes.FailTechTimeout: {
		category: datatypes.CategoryTechnical, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: true, maxRetries: 2,
		action:       datatypes.RecoverRetryWithBackoff,
		userMessage:  "처리 시간이 초과되었습니다.",
		recoveryHint: "질문 범위를 줄여 다시 시도해 보세요.",
	},
	datatypes.FailTechResource: {
		category: datatypes.CategoryTechnical, severity: datatypes.SeverityHigh,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverWaitAndRetry,
		userMessage:  "시스템 자원이 부족합니다.",
		recoveryHint: "잠시 후 다시 시도해 주세요.",
	},

	datatypes.FailConfLow: {
		category: datatypes.CategoryConfidence, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: false,
		action:       datatypes.RecoverDowngradeToSuggest,
		userMessage:  "확신이 낮아 제안 형태로 답변합니다.",
		recoveryHint: "결과는 참고용으로만 사용하세요.",
	},
	datatypes.FailConfNoEvidence: {
		category: datatypes.CategoryConfidence, severity: datatypes.SeverityMedium,
		recoverable: true, retryAllowed: false,
		action:       datatypes.RecoverAddDisclaimer,
		userMessage:  "근거 문서를 찾지 못한 답변입니다.",
		recoveryHint: "관련 문서가 등록되어 있는지 확인해 주세요.",
	},
	datatypes.FailConfUncertain: {
		category: datatypes.CategoryConfidence, severity: datatypes.SeverityLow,
		recoverable: true, retryAllowed: true, maxRetries: 1,
		action:       datatypes.RecoverAskClarification,
		userMessage:  "질문의 의도를 정확히 파악하지 못했습니다.",
		recoveryHint: "원하시는 내용을 조금 더 설명해 주세요.",
	},
	datatypes.FailConfHallucination: {
		category: datatypes.CategoryConfidence, severity: datatypes.SeverityHigh,
		recoverable: false, retryAllowed: false,
		action:       datatypes.RecoverEscalate,
		userMessage:  "검증되지 않은 내용이 감지되어 답변을 보류합니다.",
		recoveryHint: "담당자 확인 후 다시 안내드리겠습니다.",
	},
}

// FailureHandler classifies failures and plans recovery, with per-trace
// retry budgets so one request cannot loop on the same failing code.
type FailureHandler struct {
	mu      sync.Mutex
	retries map[string]map[datatypes.FailureCode]int
}

// NewFailureHandler builds the handler.
func NewFailureHandler() *FailureHandler {
	return &FailureHandler{retries: make(map[string]map[datatypes.FailureCode]int)}
}

// Classify produces the FailureInfo for a code without touching retry
// state.
func (h *FailureHandler) Classify(code datatypes.FailureCode, detail string) datatypes.FailureInfo {
	spec, ok := failureTable[code]
	if !ok {
		// Unknown codes are treated as unrecoverable technical faults.
		return datatypes.FailureInfo{
			Code:           code,
			Category:       datatypes.CategoryTechnical,
			Severity:       datatypes.SeverityHigh,
			RecoveryAction: datatypes.RecoverAbort,
			UserMessage:    "처리 중 알 수 없는 오류가 발생했습니다.",
			Detail:         detail,
		}
	}
	return datatypes.FailureInfo{
		Code:           code,
		Category:       spec.category,
		Severity:       spec.severity,
		IsRecoverable:  spec.recoverable,
		RetryAllowed:   spec.retryAllowed,
		MaxRetries:     spec.maxRetries,
		RecoveryAction: spec.action,
		UserMessage:    spec.userMessage,
		RecoveryHint:   spec.recoveryHint,
		Detail:         detail,
	}
}

// Handle classifies the failure and charges the trace's retry budget for
// the code. Once the budget is spent, retry-style recovery degrades to
// abort and RetryAllowed flips off.
func (h *FailureHandler) Handle(traceID string, code datatypes.FailureCode, detail string) datatypes.FailureInfo {
	info := h.Classify(code, detail)
	if !info.RetryAllowed {
		return info
	}

	h.mu.Lock()
	byCode, ok := h.retries[traceID]
	if !ok {
		byCode = make(map[datatypes.FailureCode]int)
		h.retries[traceID] = byCode
	}
	byCode[code]++
	attempts := byCode[code]
	h.mu.Unlock()

	if attempts > info.MaxRetries {
		info.RetryAllowed = false
		info.RecoveryAction = datatypes.RecoverAbort
		info.RecoveryHint = "재시도 한도를 초과했습니다."
	}
	return info
}

// Release drops a trace's retry counters at request end.
func (h *FailureHandler) Release(traceID string) {
	h.mu.Lock()
	delete(h.retries, traceID)
	h.mu.Unlock()
}

// CodeForError maps a driver-level error to a taxonomy code.
func CodeForError(err error) datatypes.FailureCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return datatypes.FailTechTimeout
	case errors.Is(err, context.Canceled):
		return datatypes.FailTechTimeout
	default:
		return datatypes.FailTechDBError
	}
}
