// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/osoriai/pms-copilot/services/llm"
	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/intent"
	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/render"
	"github.com/osoriai/pms-copilot/services/orchestrator/retrieval"
	"github.com/osoriai/pms-copilot/services/orchestrator/statusquery"
	"github.com/osoriai/pms-copilot/services/orchestrator/text2query"
	"github.com/osoriai/pms-copilot/services/orchestrator/trust"
	"github.com/osoriai/pms-copilot/services/policy_engine"
)

// StatusEngine is the status query surface the pipeline binds.
type StatusEngine interface {
	BuildPlan(i datatypes.Intent, projectID string, accessLevel int) (*statusquery.Plan, []string, error)
	Execute(ctx context.Context, plan *statusquery.Plan) *statusquery.PlanResult
}

// QueryService is the text-to-query surface the pipeline binds.
type QueryService interface {
	Run(ctx context.Context, req text2query.Request) (*text2query.Result, error)
}

// DocRetriever is the hybrid retrieval surface the pipeline binds.
type DocRetriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Deps bundles everything the pipeline's nodes close over. All fields are
// required except Composer, which only the QUALITY prose intents use.
type Deps struct {
	Normalizer *normalizer.Normalizer
	Classifier *intent.Classifier
	Policy     *policy_engine.PolicyEngine
	Limiter    *policy_engine.RateLimiter
	Status     StatusEngine
	Query      QueryService
	Retriever  DocRetriever
	Evidence   *trust.EvidenceService
	Authority  *trust.AuthorityClassifier
	Guardian   *trust.Guardian
	Light      *trust.LightGuardian
	Failures   *trust.FailureHandler
	Composer   llm.LLMClient
	Logger     *slog.Logger
}

// Pipeline routes one request through the node graph.
type Pipeline struct {
	registry *Registry
	deps     Deps
	logger   *slog.Logger
}

// NewPipeline wires and freezes the node registry.
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Pipeline{registry: NewRegistry(), deps: deps, logger: deps.Logger}

	nodes := map[string]NodeFunc{
		NodeReceive:          p.receive,
		NodeNormalize:        p.normalize,
		NodeClassifyIntent:   p.classifyIntent,
		NodeRouteTrack:       p.routeTrack,
		NodeLightPolicyGate:  p.lightPolicyGate,
		NodeRetrieveOrQuery:  p.retrieveOrQuery,
		NodeLightGuardian:    p.lightGuardian,
		NodeAnalystPlan:      p.analystPlan,
		NodeArchitectOutline: p.architectOutline,
		NodeCompose:          p.compose,
		NodeGuardianVerify:   p.guardianVerify,
		NodeRender:           p.renderNode,
		NodeEmit:             p.emit,
	}
	for name, fn := range nodes {
		if err := p.registry.Register(name, fn); err != nil {
			return nil, err
		}
	}
	p.registry.Close()
	return p, nil
}

// Registry exposes the frozen node set for enumeration in tests.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run processes one request end to end. The returned state always carries
// a contract and rendered text, failure-shaped when needed; the error is
// non-nil only for wiring-level faults.
func (p *Pipeline) Run(ctx context.Context, caller datatypes.CallerContext, raw string) (*State, error) {
	ctx, span := tracer.Start(ctx, "graph.Run")
	defer span.End()
	span.SetAttributes(attribute.String("trace_id", caller.TraceID))
	defer p.deps.Failures.Release(caller.TraceID)

	s := NewState(caller, raw)
	var err error
	for _, name := range []string{NodeReceive, NodeNormalize, NodeClassifyIntent, NodeRouteTrack} {
		s, err = p.registry.Run(ctx, name, s)
		if err != nil {
			return s, err
		}
		if s.Failed() {
			return p.finish(ctx, s)
		}
	}

	if s.Track == TrackFast {
		s, err = p.runFast(ctx, s)
		if err != nil {
			return s, err
		}
		// One-shot upgrade when the light guardian saw high risk.
		if s.LightReview != nil && s.LightReview.Risk == trust.RiskHigh && Upgrade(s) {
			span.AddEvent("track upgraded")
			s.LightReview = nil
		}
	}
	if s.Track == TrackQuality && !s.Failed() {
		s, err = p.runQuality(ctx, s)
		if err != nil {
			return s, err
		}
	}
	return p.finish(ctx, s)
}

func (p *Pipeline) runFast(ctx context.Context, s *State) (*State, error) {
	var err error
	for _, name := range []string{NodeLightPolicyGate, NodeRetrieveOrQuery} {
		s, err = p.registry.Run(ctx, name, s)
		if err != nil {
			return s, err
		}
		if s.Failed() {
			return s, nil
		}
	}
	if p.deps.Light.ShouldSample() {
		return p.registry.Run(ctx, NodeLightGuardian, s)
	}
	return s, nil
}

func (p *Pipeline) runQuality(ctx context.Context, s *State) (*State, error) {
	var err error
	names := []string{NodeLightPolicyGate, NodeRetrieveOrQuery}
	if composedIntent(s.Classification.Intent) {
		names = []string{NodeLightPolicyGate, NodeAnalystPlan, NodeArchitectOutline, NodeRetrieveOrQuery, NodeCompose}
	}
	for _, name := range names {
		// The policy gate and retrieval already ran when this request was
		// upgraded from FAST.
		if s.Upgraded && (name == NodeLightPolicyGate || name == NodeRetrieveOrQuery) {
			continue
		}
		s, err = p.registry.Run(ctx, name, s)
		if err != nil {
			return s, err
		}
		if s.Failed() {
			return s, nil
		}
	}

	for attempt := 0; ; attempt++ {
		s, err = p.registry.Run(ctx, NodeGuardianVerify, s)
		if err != nil || s.Failed() {
			return s, err
		}
		if s.GuardianReview == nil || s.GuardianReview.Verdict != trust.VerdictRetry {
			return s, nil
		}
		if attempt >= trust.MaxVerifyRetries || !composedIntent(s.Classification.Intent) {
			s.Contract = nil
			s.Rendered = ""
			warn := "검증 경고: " + strings.Join(s.GuardianReview.Reasons, "; ")
			s.Warnings = append(s.Warnings, warn)
			return s, nil
		}
		s.Retries++
		s, err = p.registry.Run(ctx, NodeCompose, s)
		if err != nil || s.Failed() {
			return s, err
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, s *State) (*State, error) {
	s, err := p.registry.Run(ctx, NodeRender, s)
	if err != nil {
		return s, err
	}
	return p.registry.Run(ctx, NodeEmit, s)
}

// composedIntent marks intents whose answers are LLM-composed prose.
func composedIntent(i datatypes.Intent) bool {
	switch datatypes.FamilyOf(i) {
	case datatypes.FamilyKnowledge, datatypes.FamilyAnalysis, datatypes.FamilyGovernance:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

func (p *Pipeline) receive(_ context.Context, s *State) (*State, error) {
	trimmed := strings.TrimSpace(s.Raw)
	if trimmed == "" {
		s.Failure = failurePtr(p.deps.Failures.Classify(datatypes.FailInfoMissing, "empty message"))
		return s, nil
	}
	s.Raw = trimmed
	return s, nil
}

func (p *Pipeline) normalize(_ context.Context, s *State) (*State, error) {
	s.Normalization = p.deps.Normalizer.Normalize(s.Raw)
	s.Canonical = s.Normalization.Canonical
	return s, nil
}

func (p *Pipeline) classifyIntent(_ context.Context, s *State) (*State, error) {
	s.Classification = p.deps.Classifier.Classify(s.Canonical, s.Normalization.Corrected())
	return s, nil
}

func (p *Pipeline) routeTrack(_ context.Context, s *State) (*State, error) {
	// Routing uses the intent's base authority; the final authority is
	// recomputed once evidence is known.
	routing := p.deps.Authority.Classify(s.Classification.Intent, s.Caller.UserRole, s.Classification.Confidence, true)
	s.Track = DecideTrack(s.Classification.Intent, routing.Level)
	return s, nil
}

func (p *Pipeline) lightPolicyGate(_ context.Context, s *State) (*State, error) {
	if topic := p.deps.Policy.CheckDeniedTopic(s.Canonical); topic != nil {
		s.Failure = failurePtr(p.deps.Failures.Classify(datatypes.FailPolicyProhibited, topic.Id))
		return s, nil
	}
	family := string(datatypes.FamilyOf(s.Classification.Intent))
	if !p.deps.Limiter.Allow(s.Caller.UserID, family) {
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), datatypes.FailPolicyRateLimit, family))
		return s, nil
	}
	return s, nil
}

func (p *Pipeline) retrieveOrQuery(ctx context.Context, s *State) (*State, error) {
	switch datatypes.FamilyOf(s.Classification.Intent) {
	case datatypes.FamilyStatus:
		p.runStatus(ctx, s)
	case datatypes.FamilyList:
		p.runQuery(ctx, s)
	case datatypes.FamilyKnowledge, datatypes.FamilyAnalysis, datatypes.FamilyGovernance:
		p.runRetrieval(ctx, s)
	default:
		// Meta intents carry no data.
	}

	if !s.Failed() {
		s.Authority = p.deps.Authority.Classify(
			s.Classification.Intent, s.Caller.UserRole, s.Classification.Confidence, s.HasEvidence())
		if s.Authority.DowngradeReason != "" {
			s.Warnings = append(s.Warnings, "권한 조정: "+s.Authority.DowngradeReason)
		}
	}
	return s, nil
}

func (p *Pipeline) runStatus(ctx context.Context, s *State) {
	plan, dropped, err := p.deps.Status.BuildPlan(s.Classification.Intent, s.Caller.ProjectID, s.Caller.AccessLevel)
	if err != nil {
		if strings.Contains(err.Error(), "project") {
			s.Failure = failurePtr(p.deps.Failures.Classify(datatypes.FailInfoAmbiguous, err.Error()))
		} else {
			s.Failure = failurePtr(p.deps.Failures.Classify(datatypes.FailPolicyUnauthorized, err.Error()))
		}
		return
	}
	s.StatusPlan = plan
	result := p.deps.Status.Execute(ctx, plan)
	result.DataGaps = append(result.DataGaps, dropped...)
	s.StatusResult = result
}

func (p *Pipeline) runQuery(ctx context.Context, s *State) {
	result, err := p.deps.Query.Run(ctx, text2query.Request{
		Question:  s.Canonical,
		Intent:    s.Classification.Intent,
		ProjectID: s.Caller.ProjectID,
		Dialect:   text2query.DialectFor(s.Classification.Intent),
	})
	if err != nil {
		code := datatypes.FailTechLLMError
		if strings.Contains(err.Error(), "FORBIDDEN") || strings.Contains(err.Error(), "SECURITY") {
			code = datatypes.FailPolicyProhibited
		}
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), code, err.Error()))
		return
	}
	s.QueryResult = result
	if result.Execution != nil && result.Execution.Success {
		items := p.deps.Evidence.FromRows(result.Execution.Rows, firstTable(result.Tables))
		s.Evidence = p.deps.Evidence.Assemble(items)
	}
}

func (p *Pipeline) runRetrieval(ctx context.Context, s *State) {
	result, err := p.deps.Retriever.Retrieve(ctx, retrieval.Request{
		Query:       s.Canonical,
		ProjectID:   s.Caller.ProjectID,
		AccessLevel: s.Caller.AccessLevel,
	})
	if err != nil {
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), datatypes.FailTechRAGError, err.Error()))
		return
	}
	s.Retrieval = result
	if result.FallbackUsed {
		s.Warnings = append(s.Warnings, "1차 검색 범위에서 충분한 결과를 찾지 못해 범위를 넓혔습니다.")
	}
	items := p.deps.Evidence.FromChunks(result.Chunks)
	s.Evidence = p.deps.Evidence.Assemble(items)
}

func (p *Pipeline) lightGuardian(_ context.Context, s *State) (*State, error) {
	review := p.deps.Light.Check(p.draftText(s), s.HasEvidence())
	s.LightReview = &review
	return s, nil
}

func (p *Pipeline) analystPlan(ctx context.Context, s *State) (*State, error) {
	prompt := fmt.Sprintf(
		"당신은 프로젝트 분석가입니다. 아래 질문에 답하기 위한 분석 계획을 3개 이내의 항목으로 작성하세요.\n질문: %s",
		s.Canonical)
	plan, err := p.generate(ctx, prompt, 0.2, 256)
	if err != nil {
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), datatypes.FailTechLLMError, err.Error()))
		return s, nil
	}
	s.AnalysisPlan = plan
	return s, nil
}

func (p *Pipeline) architectOutline(ctx context.Context, s *State) (*State, error) {
	prompt := fmt.Sprintf(
		"다음 분석 계획을 바탕으로 답변의 섹션 개요를 작성하세요.\n계획:\n%s\n질문: %s",
		s.AnalysisPlan, s.Canonical)
	outline, err := p.generate(ctx, prompt, 0.2, 256)
	if err != nil {
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), datatypes.FailTechLLMError, err.Error()))
		return s, nil
	}
	s.Outline = outline
	return s, nil
}

func (p *Pipeline) compose(ctx context.Context, s *State) (*State, error) {
	var evidenceBlock strings.Builder
	if s.Evidence != nil {
		for i, item := range s.Evidence.Items {
			fmt.Fprintf(&evidenceBlock, "[%d] %s: %s\n", i+1, item.Title, item.Excerpt)
		}
	}
	prompt := fmt.Sprintf(
		"아래 개요와 근거만 사용해 질문에 한국어로 답하세요. 근거에 없는 내용은 단정하지 마세요.\n개요:\n%s\n근거:\n%s\n질문: %s",
		s.Outline, evidenceBlock.String(), s.Canonical)
	composed, err := p.generate(ctx, prompt, 0.3, 1024)
	if err != nil {
		s.Failure = failurePtr(p.deps.Failures.Handle(s.TraceID(), datatypes.FailTechLLMError, err.Error()))
		return s, nil
	}
	s.Composed = strings.TrimSpace(composed)
	return s, nil
}

func (p *Pipeline) guardianVerify(_ context.Context, s *State) (*State, error) {
	contract := p.buildContract(s)
	review := p.deps.Guardian.Verify(contract, render.Render(contract), s.Evidence)
	s.GuardianReview = &review
	if review.Verdict == trust.VerdictFail {
		s.Failure = failurePtr(p.deps.Failures.Classify(datatypes.FailConfHallucination, strings.Join(review.Reasons, "; ")))
	}
	return s, nil
}

func (p *Pipeline) renderNode(_ context.Context, s *State) (*State, error) {
	contract := p.buildContract(s)
	text := render.Render(contract)

	// Sensitive data never leaves the service unredacted for non-admins.
	if s.Caller.UserRole != datatypes.RoleAdmin {
		redacted, count := p.deps.Policy.Redact(text)
		if count > 0 {
			contract.Warnings = append(contract.Warnings, "민감 정보가 마스킹되었습니다.")
			text = render.Render(contract)
			redacted, _ = p.deps.Policy.Redact(text)
			text = redacted
		}
	}

	s.Contract = contract
	s.Rendered = text
	return s, nil
}

func (p *Pipeline) emit(ctx context.Context, s *State) (*State, error) {
	// Audit trail: successful answers record which evidence supported them.
	// A persistence fault never fails the request.
	if !s.Failed() && s.Evidence != nil && len(s.Evidence.Items) > 0 {
		if err := p.deps.Evidence.Persist(ctx, s.TraceID(), s.Evidence); err != nil {
			p.logger.Warn("evidence persistence failed", "trace_id", s.TraceID(), "error", err)
		}
	}
	p.logger.Info("request completed",
		"trace_id", s.TraceID(),
		"intent", string(s.Classification.Intent),
		"track", string(s.Track),
		"failed", s.Failed(),
		"nodes", len(s.Timings),
	)
	return s, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	if p.deps.Composer == nil {
		return "", fmt.Errorf("no composer model configured")
	}
	return p.deps.Composer.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.FloatPtr(temperature),
		MaxTokens:   llm.IntPtr(maxTokens),
	})
}

// draftText is the cheap pre-render text the light guardian inspects.
func (p *Pipeline) draftText(s *State) string {
	switch {
	case s.Composed != "":
		return s.Composed
	case s.QueryResult != nil && s.QueryResult.Execution != nil:
		var b strings.Builder
		for _, row := range s.QueryResult.Execution.Rows {
			fmt.Fprintf(&b, "%v\n", row)
		}
		return b.String()
	case s.StatusResult != nil:
		var b strings.Builder
		for id, v := range s.StatusResult.Values {
			fmt.Fprintf(&b, "%s=%v\n", id, v.Value)
		}
		return b.String()
	default:
		return s.Canonical
	}
}

func failurePtr(info datatypes.FailureInfo) *datatypes.FailureInfo {
	return &info
}

func firstTable(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	return tables[0]
}
