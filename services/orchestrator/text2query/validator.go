// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

// Dialect selects the validation rule set.
type Dialect string

const (
	DialectSQL    Dialect = "sql"
	DialectCypher Dialect = "cypher"
)

const (
	// MaxQueryLength caps generated query size.
	MaxQueryLength = 6000

	// MaxResultRows caps the LIMIT clause.
	MaxResultRows = 100
)

// ForbiddenTables are never queryable regardless of schema membership.
var ForbiddenTables = map[string]bool{
	"auth.users":       true,
	"auth.passwords":   true,
	"auth.credentials": true,
	"auth.sessions":    true,
}

// ColumnDenylist are column names never allowed in any query.
var ColumnDenylist = []string{
	"password", "password_hash", "secret", "secret_key", "token",
	"refresh_token", "salt", "api_key",
}

// allowedCypherLabels is the closed label set of the document graph.
var allowedCypherLabels = map[string]bool{
	"Document": true,
	"Chunk":    true,
	"Project":  true,
	"Evidence": true,
}

var (
	reStringLit   = regexp.MustCompile(`'(?:[^']|'')*'`)
	reTableRef    = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_]\w*(?:\.\w+)?)(?:\s+(?:AS\s+)?([a-zA-Z_]\w*))?`)
	reSelectList  = regexp.MustCompile(`(?is)\bSELECT\s+(?:DISTINCT\s+)?(.*?)\bFROM\b`)
	reLimit       = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	reSelectStar  = regexp.MustCompile(`(?i)\bSELECT\s+(?:DISTINCT\s+)?\*|\.\*`)
	reDMLToken    = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|MERGE|COPY|VACUUM)\b`)
	reCypherWrite = regexp.MustCompile(`(?i)\b(CREATE|DROP|DELETE|DETACH|SET|MERGE|REMOVE|LOAD)\b`)
	reRecursive   = regexp.MustCompile(`(?i)\bRECURSIVE\b`)
	reTautology   = regexp.MustCompile(`(?i)\bOR\s+(?:(\d+)\s*=\s*\d+|''\s*=\s*''|TRUE\b)`)
	reCypherLabel = regexp.MustCompile(`\(\s*\w*\s*:\s*(\w+)`)
	reIdentifier  = regexp.MustCompile(`^[a-zA-Z_]\w*$`)
)

// aliasStopwords are words the table-reference regex could misread as an
// alias.
var aliasStopwords = map[string]bool{
	"WHERE": true, "ON": true, "JOIN": true, "LEFT": true, "RIGHT": true,
	"INNER": true, "OUTER": true, "FULL": true, "CROSS": true, "GROUP": true,
	"ORDER": true, "LIMIT": true, "HAVING": true, "UNION": true, "USING": true,
	"AND": true, "OR": true, "AS": true,
}

// Validator runs the four validation layers over a generated query.
// Read-only after construction; safe for concurrent use.
type Validator struct {
	graph *schema.Graph
}

// NewValidator creates a validator over the current schema graph.
func NewValidator(graph *schema.Graph) *Validator {
	return &Validator{graph: graph}
}

// Validate runs the layers in order — syntax, schema, security, policy —
// and returns the first failing layer's errors. An empty slice means the
// query may execute.
func (v *Validator) Validate(query string, dialect Dialect) []ValidationError {
	if errs := v.validateSyntax(query, dialect); len(errs) > 0 {
		return errs
	}
	if dialect == DialectCypher {
		if errs := v.validateCypherSchema(query); len(errs) > 0 {
			return errs
		}
		if errs := v.validateCypherSecurity(query); len(errs) > 0 {
			return errs
		}
		return v.validateCypherPolicy(query)
	}
	if errs := v.validateSchema(query); len(errs) > 0 {
		return errs
	}
	if errs := v.validateSecurity(query); len(errs) > 0 {
		return errs
	}
	return v.validatePolicy(query)
}

// --- layer 1: syntax ---

func (v *Validator) validateSyntax(query string, dialect Dialect) []ValidationError {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []ValidationError{{
			Type:    ValidationEmptyQuery,
			Message: "query is empty",
		}}
	}
	if len(query) > MaxQueryLength {
		return []ValidationError{{
			Type:    ValidationQueryTooLong,
			Message: fmt.Sprintf("query is %d chars, maximum is %d", len(query), MaxQueryLength),
		}}
	}

	if !balanced(trimmed) {
		return []ValidationError{{
			Type:       ValidationSyntaxError,
			Message:    "unbalanced parentheses or quotes",
			Suggestion: "close every opening parenthesis and quote",
		}}
	}

	upper := strings.ToUpper(trimmed)
	switch dialect {
	case DialectCypher:
		if !strings.HasPrefix(upper, "MATCH") && !strings.HasPrefix(upper, "CALL") {
			return []ValidationError{{
				Type:       ValidationSyntaxError,
				Message:    "cypher query must start with MATCH or CALL",
				Suggestion: "start the query with a MATCH clause",
			}}
		}
		if !strings.Contains(upper, "RETURN") {
			return []ValidationError{{
				Type:       ValidationSyntaxError,
				Message:    "cypher query has no RETURN clause",
				Suggestion: "add a RETURN clause",
			}}
		}
	default:
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			return []ValidationError{{
				Type:       ValidationSyntaxError,
				Message:    "query must be a read-only SELECT statement",
				Suggestion: "start the query with SELECT",
			}}
		}
	}
	return nil
}

// balanced checks parenthesis nesting and single-quote pairing.
func balanced(q string) bool {
	depth := 0
	inString := false
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '\'':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
				if depth < 0 {
					return false
				}
			}
		}
	}
	return depth == 0 && !inString
}

// --- layer 2: schema ---

func (v *Validator) validateSchema(query string) []ValidationError {
	stripped := reStringLit.ReplaceAllString(query, "''")
	refs := v.tableRefs(stripped)
	if len(refs.tables) == 0 {
		return []ValidationError{{
			Type:       ValidationSyntaxError,
			Message:    "no table reference found",
			Suggestion: "add a FROM clause over a known table",
		}}
	}

	var errs []ValidationError
	for table := range refs.tables {
		if ForbiddenTables[table] {
			errs = append(errs, ValidationError{
				Type:    ValidationForbiddenTable,
				Message: fmt.Sprintf("table %q is not queryable", table),
			})
			continue
		}
		if !v.graph.HasTable(table) {
			errs = append(errs, ValidationError{
				Type:       ValidationUnknownTable,
				Message:    fmt.Sprintf("table %q does not exist in the schema", table),
				Suggestion: "use only tables from the provided schema context",
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	for _, col := range ColumnDenylist {
		re := regexp.MustCompile(`(?i)\b` + col + `\b`)
		if re.MatchString(stripped) {
			errs = append(errs, ValidationError{
				Type:    ValidationForbiddenColumn,
				Message: fmt.Sprintf("column %q may never be queried", col),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	errs = append(errs, v.checkProjectedColumns(stripped, refs)...)
	return errs
}

type tableRefSet struct {
	// tables maps table name → true.
	tables map[string]bool
	// aliases maps alias → table name.
	aliases map[string]string
}

func (v *Validator) tableRefs(stripped string) tableRefSet {
	refs := tableRefSet{tables: map[string]bool{}, aliases: map[string]string{}}
	for _, m := range reTableRef.FindAllStringSubmatch(stripped, -1) {
		table := m[1]
		refs.tables[table] = true
		if alias := m[2]; alias != "" && !aliasStopwords[strings.ToUpper(alias)] {
			refs.aliases[alias] = table
		}
	}
	if len(refs.tables) == 0 {
		refs.tables = nil
	}
	return refs
}

// checkProjectedColumns verifies the top-level SELECT list against the
// schema. Function calls and expressions are skipped; plain and qualified
// column references must exist.
func (v *Validator) checkProjectedColumns(stripped string, refs tableRefSet) []ValidationError {
	top := stripParens(stripped)
	m := reSelectList.FindStringSubmatch(top)
	if m == nil {
		return nil
	}

	var errs []ValidationError
	for _, raw := range strings.Split(m[1], ",") {
		expr := strings.TrimSpace(raw)
		if expr == "" || expr == "*" || strings.Contains(expr, "(") {
			continue
		}
		// Strip "AS alias" / trailing alias.
		if fields := strings.Fields(expr); len(fields) > 0 {
			expr = fields[0]
		}

		if table, col, ok := splitQualified(expr); ok {
			resolved := refs.aliases[table]
			if resolved == "" {
				resolved = table
			}
			if v.graph.HasTable(resolved) && !v.graph.HasColumn(resolved, col) {
				errs = append(errs, ValidationError{
					Type:       ValidationUnknownColumn,
					Message:    fmt.Sprintf("column %q does not exist on %q", col, resolved),
					Suggestion: "project only columns from the schema context",
				})
			}
			continue
		}

		if !reIdentifier.MatchString(expr) {
			continue
		}
		found := false
		for table := range refs.tables {
			if v.graph.HasColumn(table, expr) {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, ValidationError{
				Type:       ValidationUnknownColumn,
				Message:    fmt.Sprintf("column %q does not exist on any referenced table", expr),
				Suggestion: "project only columns from the schema context",
			})
		}
	}
	return errs
}

func splitQualified(expr string) (string, string, bool) {
	idx := strings.LastIndex(expr, ".")
	if idx <= 0 || idx == len(expr)-1 {
		return "", "", false
	}
	qualifier, col := expr[:idx], expr[idx+1:]
	if !reIdentifier.MatchString(col) {
		return "", "", false
	}
	return qualifier, col, true
}

// --- layer 3: security ---

func (v *Validator) validateSecurity(query string) []ValidationError {
	stripped := reStringLit.ReplaceAllString(query, "''")

	var errs []ValidationError
	if strings.Contains(stripped, "--") || strings.Contains(stripped, "/*") {
		errs = append(errs, ValidationError{
			Type:    ValidationSecurityViolation,
			Message: "SQL comments are not allowed",
		})
	}
	if idx := strings.Index(stripped, ";"); idx >= 0 && strings.TrimSpace(stripped[idx+1:]) != "" {
		errs = append(errs, ValidationError{
			Type:    ValidationSecurityViolation,
			Message: "stacked statements are not allowed",
		})
	}
	if m := reDMLToken.FindString(stripped); m != "" {
		errs = append(errs, ValidationError{
			Type:    ValidationSecurityViolation,
			Message: fmt.Sprintf("statement %q is not allowed in a read-only query", strings.ToUpper(m)),
		})
	}
	if reRecursive.MatchString(stripped) {
		errs = append(errs, ValidationError{
			Type:    ValidationSecurityViolation,
			Message: "RECURSIVE CTEs are not allowed",
		})
	}
	if reTautology.MatchString(stripParens(stripped)) {
		errs = append(errs, ValidationError{
			Type:    ValidationSecurityViolation,
			Message: "boolean tautology detected: filter bypass attempt",
		})
	}
	return errs
}

// --- layer 4: policy and performance ---

func (v *Validator) validatePolicy(query string) []ValidationError {
	stripped := reStringLit.ReplaceAllString(query, "''")
	top := stripParens(stripped)

	var errs []ValidationError
	if reSelectStar.MatchString(stripped) {
		errs = append(errs, ValidationError{
			Type:       ValidationSelectStar,
			Message:    "SELECT * is not allowed",
			Suggestion: "project explicit columns",
		})
	}

	m := reLimit.FindStringSubmatch(top)
	if m == nil {
		errs = append(errs, ValidationError{
			Type:       ValidationMissingLimit,
			Message:    "query has no top-level LIMIT clause",
			Suggestion: fmt.Sprintf("add LIMIT %d", MaxResultRows),
		})
	} else if n, err := strconv.Atoi(m[1]); err == nil && n > MaxResultRows {
		errs = append(errs, ValidationError{
			Type:       ValidationLimitTooHigh,
			Message:    fmt.Sprintf("LIMIT %d exceeds the maximum of %d", n, MaxResultRows),
			Suggestion: fmt.Sprintf("lower LIMIT to %d", MaxResultRows),
		})
	}

	errs = append(errs, v.checkProjectScope(stripped, top)...)
	return errs
}

// checkProjectScope enforces the scope invariant: every project-scoped
// table referenced must be covered by an alias.project_id = :project_id
// predicate at top level, not only inside a subquery.
func (v *Validator) checkProjectScope(stripped, top string) []ValidationError {
	refs := v.tableRefs(stripped)

	needsScope := false
	for table := range refs.tables {
		if v.graph.IsProjectScoped(table) {
			needsScope = true
			break
		}
	}
	if !needsScope {
		return nil
	}

	reScope := regexp.MustCompile(`(?i)(?:\w+\.)?project_id\s*=\s*:project_id`)
	if reScope.MatchString(top) {
		return nil
	}
	return []ValidationError{{
		Type:       ValidationScopeMissing,
		Message:    "project-scoped tables are queried without a top-level project_id predicate",
		Suggestion: "add WHERE <alias>.project_id = :project_id at the top level",
	}}
}

// --- cypher layers ---

func (v *Validator) validateCypherSchema(query string) []ValidationError {
	var errs []ValidationError
	for _, m := range reCypherLabel.FindAllStringSubmatch(query, -1) {
		if !allowedCypherLabels[m[1]] {
			errs = append(errs, ValidationError{
				Type:       ValidationUnknownTable,
				Message:    fmt.Sprintf("label %q does not exist in the document graph", m[1]),
				Suggestion: "use only Document, Chunk, Project, and Evidence labels",
			})
		}
	}
	return errs
}

func (v *Validator) validateCypherSecurity(query string) []ValidationError {
	stripped := reStringLit.ReplaceAllString(query, "''")
	if m := reCypherWrite.FindString(stripped); m != "" {
		return []ValidationError{{
			Type:    ValidationSecurityViolation,
			Message: fmt.Sprintf("clause %q is not allowed in a read-only query", strings.ToUpper(m)),
		}}
	}
	return nil
}

func (v *Validator) validateCypherPolicy(query string) []ValidationError {
	m := reLimit.FindStringSubmatch(query)
	if m == nil {
		return []ValidationError{{
			Type:       ValidationMissingLimit,
			Message:    "query has no LIMIT clause",
			Suggestion: fmt.Sprintf("add LIMIT %d", MaxResultRows),
		}}
	}
	if n, err := strconv.Atoi(m[1]); err == nil && n > MaxResultRows {
		return []ValidationError{{
			Type:       ValidationLimitTooHigh,
			Message:    fmt.Sprintf("LIMIT %d exceeds the maximum of %d", n, MaxResultRows),
			Suggestion: fmt.Sprintf("lower LIMIT to %d", MaxResultRows),
		}}
	}
	return nil
}

// stripParens blanks out parenthesized content so top-level analysis does
// not see subquery internals. Nesting preserved character-for-character as
// spaces to keep offsets stable.
func stripParens(q string) string {
	out := []byte(q)
	depth := 0
	for i := 0; i < len(out); i++ {
		switch out[i] {
		case '(':
			depth++
			out[i] = ' '
		case ')':
			depth--
			out[i] = ' '
		default:
			if depth > 0 {
				out[i] = ' '
			}
		}
	}
	return string(out)
}
