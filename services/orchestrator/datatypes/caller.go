// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the shared data structures of the answering
// pipeline: caller context, intents, the response contract, evidence, and
// the failure taxonomy.
//
// Authentication happens upstream; this service consumes an already
// validated caller identity and only derives scope from it.
package datatypes

import "github.com/google/uuid"

// Role is the caller's project role as asserted by the frontend session.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RolePMOHead         Role = "PMO_HEAD"
	RolePM              Role = "PM"
	RoleDeveloper       Role = "DEVELOPER"
	RoleQA              Role = "QA"
	RoleBusinessAnalyst Role = "BUSINESS_ANALYST"
	RoleSponsor         Role = "SPONSOR"
	RoleAuditor         Role = "AUDITOR"
	RoleMember          Role = "MEMBER"
)

// roleAccessLevels maps each role to its derived access level (0..6).
// Unknown roles fall back to level 0 (fail closed).
var roleAccessLevels = map[Role]int{
	RoleAdmin:           6,
	RolePMOHead:         5,
	RolePM:              4,
	RoleSponsor:         4,
	RoleAuditor:         3,
	RoleBusinessAnalyst: 3,
	RoleDeveloper:       2,
	RoleQA:              2,
	RoleMember:          1,
}

// AccessLevelForRole returns the access level derived from a role.
func AccessLevelForRole(r Role) int {
	if lvl, ok := roleAccessLevels[r]; ok {
		return lvl
	}
	return 0
}

// ValidRole reports whether r is one of the enumerated roles.
func ValidRole(r Role) bool {
	_, ok := roleAccessLevels[r]
	return ok
}

// CallerContext is the per-request identity and scope. It is immutable for
// the lifetime of a request; every store access derives its filters from it.
type CallerContext struct {
	TraceID     string `json:"trace_id"`
	UserID      string `json:"user_id"`
	UserRole    Role   `json:"user_role"`
	AccessLevel int    `json:"access_level"`
	ProjectID   string `json:"project_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// NewCallerContext builds a caller context, generating a trace id and
// deriving the access level from the role when the caller did not send one.
func NewCallerContext(userID string, role Role, accessLevel int, projectID string) CallerContext {
	if accessLevel <= 0 {
		accessLevel = AccessLevelForRole(role)
	}
	// A caller may never claim more than the role grants.
	if cap := AccessLevelForRole(role); accessLevel > cap {
		accessLevel = cap
	}
	return CallerContext{
		TraceID:     uuid.NewString(),
		UserID:      userID,
		UserRole:    role,
		AccessLevel: accessLevel,
		ProjectID:   projectID,
	}
}
