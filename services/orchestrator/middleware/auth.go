// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the copilot service.
//
// # Caller Flow
//
// The caller middleware reads the validated identity headers the PMS
// gateway attaches to every proxied request, derives the access level from
// the role (the level is never trusted from the wire), and stores the
// resulting CallerContext in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	CallerFromHeaders
//	   │
//	   ├─► Read X-User-Id / X-User-Role / X-Project-Id
//	   │
//	   ├─► Reject unknown roles (fail closed)
//	   │
//	   └─► Store CallerContext in context
//	           │
//	           ▼
//	       Handler (retrieves via GetCaller)
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

// callerKey is the context key for the caller context. Typed key string,
// scoped to this package, to avoid collisions.
const callerKey = "pms_caller_context"

// Identity headers set by the PMS gateway.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderProjectID = "X-Project-Id"
)

// SetCaller stores the caller context for downstream handlers.
func SetCaller(c *gin.Context, caller datatypes.CallerContext) {
	c.Set(callerKey, caller)
}

// GetCaller retrieves the caller context. The second return is false when
// no caller middleware ran on this route.
func GetCaller(c *gin.Context) (datatypes.CallerContext, bool) {
	if v, exists := c.Get(callerKey); exists {
		if caller, ok := v.(datatypes.CallerContext); ok {
			return caller, true
		}
	}
	return datatypes.CallerContext{}, false
}

// CallerFromHeaders authenticates a request from the gateway's identity
// headers. Requests without a user id or with a role outside the closed
// enumeration are rejected; there is no anonymous access level.
func CallerFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		role := datatypes.Role(c.GetHeader(HeaderUserRole))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		if !datatypes.ValidRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}

		caller := datatypes.NewCallerContext(userID, role, datatypes.AccessLevelForRole(role), c.GetHeader(HeaderProjectID))
		SetCaller(c, caller)
		c.Next()
	}
}

// RequireAdmin gates the operator endpoints to ADMIN and PMO_HEAD.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := GetCaller(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		if caller.UserRole != datatypes.RoleAdmin && caller.UserRole != datatypes.RolePMOHead {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
