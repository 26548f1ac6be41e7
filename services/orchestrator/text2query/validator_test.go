// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
)

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	g, err := schema.NewGraph(&schema.MDL{
		Models: []schema.Model{
			{
				Name:           "tasks",
				TableReference: schema.TableReference{Schema: "task", Table: "tasks"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "status", Type: "text"},
					{Name: "due_date", Type: "date"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "backlog_items",
				TableReference: schema.TableReference{Schema: "task", Table: "backlog_items"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "priority", Type: "int"},
				},
				ProjectScoped: true,
			},
			{
				Name:           "users",
				TableReference: schema.TableReference{Schema: "org", Table: "users"},
				Columns: []schema.Column{
					{Name: "id", Type: "uuid"},
					{Name: "name", Type: "text"},
				},
			},
		},
	})
	require.NoError(t, err)
	return g
}

func firstType(errs []ValidationError) ValidationType {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Type
}

func TestValidate_AcceptsScopedQuery(t *testing.T) {
	v := NewValidator(testGraph(t))

	q := "SELECT t1.title, t1.status FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 50"
	assert.Empty(t, v.Validate(q, DialectSQL))
}

func TestValidate_SyntaxLayer(t *testing.T) {
	v := NewValidator(testGraph(t))

	cases := []struct {
		name  string
		query string
		want  ValidationType
	}{
		{"empty", "", ValidationEmptyQuery},
		{"whitespace only", "   \n ", ValidationEmptyQuery},
		{"too long", "SELECT " + strings.Repeat("x", MaxQueryLength), ValidationQueryTooLong},
		{"not a select", "SHOW TABLES", ValidationSyntaxError},
		{"unbalanced parens", "SELECT count( FROM task.tasks LIMIT 1", ValidationSyntaxError},
		{"unbalanced quote", "SELECT title FROM task.tasks WHERE title = 'x LIMIT 1", ValidationSyntaxError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, firstType(v.Validate(tc.query, DialectSQL)))
		})
	}
}

func TestValidate_SchemaLayer(t *testing.T) {
	v := NewValidator(testGraph(t))

	t.Run("no table reference", func(t *testing.T) {
		errs := v.Validate("SELECT 1 LIMIT 1", DialectSQL)
		require.Equal(t, ValidationSyntaxError, firstType(errs))
		assert.Contains(t, errs[0].Message, "no table reference")
	})

	t.Run("unknown table", func(t *testing.T) {
		errs := v.Validate("SELECT id FROM task.nothing WHERE project_id = :project_id LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationUnknownTable, firstType(errs))
	})

	t.Run("unknown column", func(t *testing.T) {
		errs := v.Validate("SELECT t1.salary FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationUnknownColumn, firstType(errs))
	})

	t.Run("forbidden table is fatal", func(t *testing.T) {
		errs := v.Validate("SELECT id FROM auth.users LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationForbiddenTable, firstType(errs))
		assert.True(t, IsFatal(errs))
	})

	t.Run("denylisted column is fatal", func(t *testing.T) {
		errs := v.Validate("SELECT t1.id, password_hash FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationForbiddenColumn, firstType(errs))
		assert.True(t, IsFatal(errs))
	})
}

func TestValidate_SecurityLayer(t *testing.T) {
	v := NewValidator(testGraph(t))

	t.Run("tautology bypass", func(t *testing.T) {
		errs := v.Validate("SELECT id FROM task.tasks WHERE project_id = '1' OR 1=1", DialectSQL)
		require.Equal(t, ValidationSecurityViolation, firstType(errs))
		assert.Contains(t, errs[0].Message, "bypass")
		assert.True(t, IsFatal(errs))
	})

	t.Run("stacked statements", func(t *testing.T) {
		errs := v.Validate("SELECT id FROM task.tasks WHERE project_id = :project_id LIMIT 1; SELECT id FROM org.users", DialectSQL)
		assert.Equal(t, ValidationSecurityViolation, firstType(errs))
	})

	t.Run("comments", func(t *testing.T) {
		errs := v.Validate("SELECT id FROM task.tasks WHERE project_id = :project_id LIMIT 1 -- sneaky", DialectSQL)
		assert.Equal(t, ValidationSecurityViolation, firstType(errs))
	})

	t.Run("dml token", func(t *testing.T) {
		errs := v.Validate("WITH x AS (SELECT id FROM task.tasks WHERE project_id = :project_id) DELETE FROM task.tasks", DialectSQL)
		assert.Equal(t, ValidationSecurityViolation, firstType(errs))
	})

	t.Run("recursive cte", func(t *testing.T) {
		errs := v.Validate("WITH RECURSIVE r AS (SELECT id FROM task.tasks WHERE project_id = :project_id) SELECT id FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationSecurityViolation, firstType(errs))
	})

	t.Run("quoted semicolon is fine", func(t *testing.T) {
		q := "SELECT t1.title FROM task.tasks t1 WHERE t1.title = 'a;b' AND t1.project_id = :project_id LIMIT 1"
		assert.Empty(t, v.Validate(q, DialectSQL))
	})
}

func TestValidate_PolicyLayer(t *testing.T) {
	v := NewValidator(testGraph(t))

	t.Run("select star", func(t *testing.T) {
		errs := v.Validate("SELECT * FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 1", DialectSQL)
		assert.Equal(t, ValidationSelectStar, firstType(errs))
		assert.False(t, IsFatal(errs))
	})

	t.Run("missing limit", func(t *testing.T) {
		errs := v.Validate("SELECT t1.title FROM task.tasks t1 WHERE t1.project_id = :project_id", DialectSQL)
		assert.Equal(t, ValidationMissingLimit, firstType(errs))
	})

	t.Run("limit too high", func(t *testing.T) {
		errs := v.Validate("SELECT t1.title FROM task.tasks t1 WHERE t1.project_id = :project_id LIMIT 5000", DialectSQL)
		assert.Equal(t, ValidationLimitTooHigh, firstType(errs))
	})

	t.Run("scope missing", func(t *testing.T) {
		errs := v.Validate("SELECT t1.title FROM task.tasks t1 LIMIT 10", DialectSQL)
		require.Equal(t, ValidationScopeMissing, firstType(errs))
		assert.Contains(t, errs[0].Suggestion, ":project_id")
		assert.False(t, IsFatal(errs))
	})

	t.Run("scope only inside subquery still fails", func(t *testing.T) {
		q := "SELECT t1.title FROM task.tasks t1 WHERE t1.id IN (SELECT id FROM task.tasks WHERE project_id = :project_id) LIMIT 10"
		errs := v.Validate(q, DialectSQL)
		assert.Equal(t, ValidationScopeMissing, firstType(errs))
	})

	t.Run("unscoped table needs no scope", func(t *testing.T) {
		assert.Empty(t, v.Validate("SELECT id, name FROM org.users LIMIT 10", DialectSQL))
	})
}

func TestValidate_Cypher(t *testing.T) {
	v := NewValidator(testGraph(t))

	t.Run("read query accepted", func(t *testing.T) {
		q := "MATCH (d:Document)-[:HAS_CHUNK]->(c:Chunk) WHERE c.access_level <= 3 RETURN c.content LIMIT 10"
		assert.Empty(t, v.Validate(q, DialectCypher))
	})

	t.Run("write clause rejected", func(t *testing.T) {
		q := "MATCH (c:Chunk) SET c.content = 'x' RETURN c LIMIT 1"
		errs := v.Validate(q, DialectCypher)
		assert.Equal(t, ValidationSecurityViolation, firstType(errs))
	})

	t.Run("unknown label rejected", func(t *testing.T) {
		q := "MATCH (u:User) RETURN u.name LIMIT 5"
		errs := v.Validate(q, DialectCypher)
		assert.Equal(t, ValidationUnknownTable, firstType(errs))
	})

	t.Run("missing limit rejected", func(t *testing.T) {
		q := "MATCH (c:Chunk) RETURN c.content"
		errs := v.Validate(q, DialectCypher)
		assert.Equal(t, ValidationMissingLimit, firstType(errs))
	})
}
