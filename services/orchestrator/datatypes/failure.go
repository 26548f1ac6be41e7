// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// FailureCategory partitions the failure taxonomy.
type FailureCategory string

const (
	CategoryInformation FailureCategory = "INFORMATION"
	CategoryPolicy      FailureCategory = "POLICY"
	CategoryTechnical   FailureCategory = "TECHNICAL"
	CategoryConfidence  FailureCategory = "CONFIDENCE"
)

// FailureCode identifies one failure mode in the taxonomy.
type FailureCode string

const (
	FailInfoMissing     FailureCode = "info_missing"
	FailInfoOutdated    FailureCode = "info_outdated"
	FailInfoConflicting FailureCode = "info_conflicting"
	FailInfoAmbiguous   FailureCode = "info_ambiguous"
	FailInfoIncomplete  FailureCode = "info_incomplete"

	FailPolicyUnauthorized FailureCode = "policy_unauthorized"
	FailPolicyBoundary     FailureCode = "policy_boundary"
	FailPolicyProhibited   FailureCode = "policy_prohibited"
	FailPolicyRateLimit    FailureCode = "policy_rate_limit"

	FailTechLLMError  FailureCode = "tech_llm_error"
	FailTechDBError   FailureCode = "tech_db_error"
	FailTechRAGError  FailureCode = "tech_rag_error"
	FailTechTimeout   FailureCode = "tech_timeout"
	FailTechResource  FailureCode = "tech_resource"

	FailConfLow           FailureCode = "conf_low"
	FailConfNoEvidence    FailureCode = "conf_no_evidence"
	FailConfUncertain     FailureCode = "conf_uncertain"
	FailConfHallucination FailureCode = "conf_hallucination"
)

// Severity grades a failure for alerting and recovery selection.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RecoveryAction is what the failure handler decides to do next.
type RecoveryAction string

const (
	RecoverRefineQuery        RecoveryAction = "refine_query"
	RecoverAskClarification   RecoveryAction = "ask_clarification"
	RecoverRetryWithBackoff   RecoveryAction = "retry_with_backoff"
	RecoverWaitAndRetry       RecoveryAction = "wait_and_retry"
	RecoverDowngradeToSuggest RecoveryAction = "downgrade_to_suggest"
	RecoverAddDisclaimer      RecoveryAction = "add_disclaimer"
	RecoverFallback           RecoveryAction = "fallback"
	RecoverEscalate           RecoveryAction = "escalate"
	RecoverAbort              RecoveryAction = "abort"
)

// FailureInfo is the classified failure record produced by the failure
// handler for one error occurrence.
type FailureInfo struct {
	Code           FailureCode     `json:"code"`
	Category       FailureCategory `json:"category"`
	Severity       Severity        `json:"severity"`
	IsRecoverable  bool            `json:"is_recoverable"`
	RetryAllowed   bool            `json:"retry_allowed"`
	MaxRetries     int             `json:"max_retries"`
	RecoveryAction RecoveryAction  `json:"recovery_action"`
	UserMessage    string          `json:"user_message"`
	RecoveryHint   string          `json:"recovery_hint"`
	Detail         string          `json:"detail,omitempty"`
}
