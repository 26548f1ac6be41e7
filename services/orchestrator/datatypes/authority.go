// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// AuthorityLevel ranks what a response is allowed to do, from a mere
// suggestion up to a committed action. Order matters: SUGGEST < DECIDE <
// EXECUTE < COMMIT.
type AuthorityLevel string

const (
	AuthoritySuggest AuthorityLevel = "SUGGEST"
	AuthorityDecide  AuthorityLevel = "DECIDE"
	AuthorityExecute AuthorityLevel = "EXECUTE"
	AuthorityCommit  AuthorityLevel = "COMMIT"
)

var authorityRank = map[AuthorityLevel]int{
	AuthoritySuggest: 0,
	AuthorityDecide:  1,
	AuthorityExecute: 2,
	AuthorityCommit:  3,
}

// Rank returns the numeric rank of a level; unknown levels rank as SUGGEST.
func (a AuthorityLevel) Rank() int {
	if r, ok := authorityRank[a]; ok {
		return r
	}
	return 0
}

// MinAuthority returns the lower-ranked of two levels.
func MinAuthority(a, b AuthorityLevel) AuthorityLevel {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// ApprovalType identifies who must sign off a COMMIT-level response.
type ApprovalType string

const (
	ApprovalUser    ApprovalType = "user"
	ApprovalManager ApprovalType = "manager"
	ApprovalAdmin   ApprovalType = "admin"
)

// AuthorityResult is the authority classifier's decision for one response.
type AuthorityResult struct {
	Level            AuthorityLevel `json:"level"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovalType     ApprovalType   `json:"approval_type,omitempty"`
	DowngradeReason  string         `json:"downgrade_reason,omitempty"`
}
