// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import "strings"

// Keyword heuristics for the scope decision. Project-force phrases win,
// then doc-seek phrases, otherwise general questions go global: project
// corpora rarely hold general definitions like "what is planning poker".
var (
	GeneralHowtoKeywords = []string{
		"뭐야", "무엇", "어떻게", "방법", "정의", "개념", "모범 사례",
		"what is", "how to", "how do", "best practice",
	}

	DocSeekKeywords = []string{
		"문서", "찾아", "검색", "자료", "가이드 문서",
		"document", "find the", "search",
	}

	ProjectForceKeywords = []string{
		"이 프로젝트", "우리 프로젝트", "현재 프로젝트", "프로젝트의",
		"this project", "our project",
	}
)

// DecideScope picks the primary retrieval scope for a query. Without a
// bound project there is only the global corpus.
func DecideScope(query, projectID string) Scope {
	if projectID == "" {
		return ScopeGlobal
	}
	q := strings.ToLower(query)
	if containsAny(q, ProjectForceKeywords) {
		return ScopeProject
	}
	if containsAny(q, GeneralHowtoKeywords) {
		return ScopeGlobal
	}
	if containsAny(q, DocSeekKeywords) {
		return ScopeProject
	}
	return ScopeGlobal
}

// OppositeScope is the fallback pass scope.
func OppositeScope(s Scope) Scope {
	if s == ScopeGlobal {
		return ScopeProject
	}
	return ScopeGlobal
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
