// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"fmt"
	"strings"
)

// ValidationType identifies what a validation error is about. The corrector
// keys its repair strategy on this.
type ValidationType string

const (
	// Layer 1: syntax.
	ValidationEmptyQuery   ValidationType = "EMPTY_QUERY"
	ValidationQueryTooLong ValidationType = "QUERY_TOO_LONG"
	ValidationSyntaxError  ValidationType = "SYNTAX_ERROR"

	// Layer 2: schema.
	ValidationUnknownTable    ValidationType = "UNKNOWN_TABLE"
	ValidationUnknownColumn   ValidationType = "UNKNOWN_COLUMN"
	ValidationForbiddenTable  ValidationType = "FORBIDDEN_TABLE"
	ValidationForbiddenColumn ValidationType = "FORBIDDEN_COLUMN"

	// Layer 3: security.
	ValidationSecurityViolation ValidationType = "SECURITY_VIOLATION"

	// Layer 4: policy and performance.
	ValidationSelectStar   ValidationType = "SELECT_STAR"
	ValidationMissingLimit ValidationType = "MISSING_LIMIT"
	ValidationLimitTooHigh ValidationType = "LIMIT_TOO_HIGH"
	ValidationScopeMissing ValidationType = "SCOPE_MISSING"
)

// ValidationError is one typed validator finding. Suggestion is phrased for
// the corrector prompt, not the end user.
type ValidationError struct {
	Type       ValidationType `json:"type"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// fatal validation types end the path immediately: the corrector is never
// asked to repair a query that tried to do something forbidden.
var fatalTypes = map[ValidationType]bool{
	ValidationForbiddenTable:    true,
	ValidationForbiddenColumn:   true,
	ValidationSecurityViolation: true,
}

// IsFatal reports whether any error in the list rules out correction.
func IsFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if fatalTypes[e.Type] {
			return true
		}
	}
	return false
}

// FormatErrors renders the error list for the corrector prompt.
func FormatErrors(errs []ValidationError) string {
	var b strings.Builder
	for i, e := range errs {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, e.Type, e.Message)
		if e.Suggestion != "" {
			fmt.Fprintf(&b, " Fix: %s", e.Suggestion)
		}
		b.WriteString("\n")
	}
	return b.String()
}
