// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and response types for the HTTP surface:
// POST /v1/chat and POST /v1/text2query.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes is the maximum size of a user message. Byte
// length, not rune count, to bound memory on large payloads.
const MaxMessageContentBytes = 32 * 1024

// chatValidate is the shared validator instance for the HTTP datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatRequest is the POST /v1/chat body.
//
// # Fields
//
//   - Message: the user utterance. Required, at most 32KB.
//   - UserID / UserRole: the validated caller identity from the frontend.
//   - AccessLevel: optional; derived from the role when absent, and never
//     allowed to exceed the role's cap.
//   - ProjectID: optional scope; many intents require it and fail into
//     CLARIFICATION_NEEDED without it.
//   - SessionID / Context: optional conversational continuity hints.
type ChatRequest struct {
	Message     string            `json:"message" validate:"required,maxbytes"`
	UserID      string            `json:"user_id" validate:"required"`
	UserRole    Role              `json:"user_role" validate:"required"`
	AccessLevel int               `json:"access_level" validate:"gte=0,lte=6"`
	ProjectID   string            `json:"project_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// Validate validates the ChatRequest fields, including that the role is one
// of the enumerated values.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	if !ValidRole(r.UserRole) {
		return &UnknownRoleError{Role: r.UserRole}
	}
	return nil
}

// UnknownRoleError reports a role outside the closed enumeration.
type UnknownRoleError struct {
	Role Role
}

func (e *UnknownRoleError) Error() string {
	return "unknown user_role: " + string(e.Role)
}

// ChatResponse is the POST /v1/chat reply: the rendered text plus the full
// structured contract and the debugging metadata block.
type ChatResponse struct {
	Response string           `json:"response"`
	Contract ResponseContract `json:"contract"`
	Metadata ResponseMetadata `json:"metadata"`
}

// Text2QueryRequest is the POST /v1/text2query body, the direct NL-to-query
// surface used by power users and the frontend's query builder.
type Text2QueryRequest struct {
	Question        string `json:"question" validate:"required,maxbytes"`
	ProjectID       string `json:"project_id" validate:"required"`
	UserAccessLevel int    `json:"user_access_level" validate:"gte=0,lte=6"`
}

// Validate validates the Text2QueryRequest fields.
func (r *Text2QueryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// Text2QueryResponse is the POST /v1/text2query reply.
type Text2QueryResponse struct {
	Response         string         `json:"response"`
	Confidence       float64        `json:"confidence"`
	QueryType        string         `json:"query_type"`
	QueryUsed        string         `json:"query_used"`
	ExecutionSuccess bool           `json:"execution_success"`
	RowCount         int            `json:"row_count"`
	Metrics          map[string]any `json:"metrics,omitempty"`
}

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	ModelLoaded      bool   `json:"model_loaded"`
	RAGReady         bool   `json:"rag_ready"`
	WorkflowReady    bool   `json:"workflow_ready"`
	CurrentModelPath string `json:"current_model_path"`
}
