// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema builds the relational schema graph from the semantic model
// descriptor (MDL) and answers scope and join questions for the query
// pipeline. The graph is constructed once at startup; a broken descriptor is
// fatal, a descriptor that cannot scope its project tables is fatal.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// MDL is the semantic model descriptor: the tables the pipeline may touch
// and the relationships connecting them. It is maintained by the data team
// and shipped as JSON.
type MDL struct {
	Models        []Model        `json:"models"`
	Relationships []Relationship `json:"relationships"`
}

// Model describes one table under its logical name.
type Model struct {
	// Name is the logical model name relationships refer to, e.g. "tasks".
	Name string `json:"name"`

	// TableReference locates the physical table.
	TableReference TableReference `json:"tableReference"`

	// Columns lists the selectable columns.
	Columns []Column `json:"columns"`

	// PrimaryKey is the primary key column name.
	PrimaryKey string `json:"primaryKey,omitempty"`

	// ProjectScoped marks tables whose rows belong to a project and must
	// carry a project_id predicate in every query.
	ProjectScoped bool `json:"projectScoped,omitempty"`
}

// TableReference is the physical schema-qualified table behind a model.
type TableReference struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// QualifiedTable returns the schema-qualified table name, e.g. "task.tasks".
func (m Model) QualifiedTable() string {
	if m.TableReference.Schema == "" {
		return m.TableReference.Table
	}
	return m.TableReference.Schema + "." + m.TableReference.Table
}

// Column is one selectable column of a model.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Relationship joins exactly two models through an equality condition,
// e.g. Models ["task_assignees", "tasks"], Condition
// "task_assignees.task_id = tasks.id".
type Relationship struct {
	Name      string   `json:"name"`
	Models    []string `json:"models"`
	Condition string   `json:"condition"`
}

// columnRef is one side of a relationship condition.
type columnRef struct {
	model  string
	column string
}

// parseCondition splits "m1.col = m2.col" into its two column references.
func parseCondition(cond string) (columnRef, columnRef, error) {
	parts := strings.Split(cond, "=")
	if len(parts) != 2 {
		return columnRef{}, columnRef{}, fmt.Errorf("condition %q is not a single equality", cond)
	}
	var refs [2]columnRef
	for i, part := range parts {
		side := strings.TrimSpace(part)
		mc := strings.SplitN(side, ".", 2)
		if len(mc) != 2 || mc[0] == "" || mc[1] == "" {
			return columnRef{}, columnRef{}, fmt.Errorf("condition side %q is not model.column", side)
		}
		refs[i] = columnRef{model: mc[0], column: mc[1]}
	}
	return refs[0], refs[1], nil
}

// LoadMDL reads and validates the descriptor at path.
//
// # Outputs
//
//	*MDL - The parsed descriptor.
//	error - Non-nil if the file is missing, malformed, or structurally
//	    invalid. Callers treat this as fatal at startup.
func LoadMDL(path string) (*MDL, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading MDL %s: %w", path, err)
	}
	var mdl MDL
	if err := json.Unmarshal(raw, &mdl); err != nil {
		return nil, fmt.Errorf("parsing MDL %s: %w", path, err)
	}
	if err := mdl.validate(); err != nil {
		return nil, fmt.Errorf("invalid MDL %s: %w", path, err)
	}
	return &mdl, nil
}

// validate checks structural integrity: unique model names, complete table
// references, non-empty columns, and resolvable relationships.
func (m *MDL) validate() error {
	if len(m.Models) == 0 {
		return fmt.Errorf("no models declared")
	}

	names := make(map[string]bool, len(m.Models))
	qualified := make(map[string]bool, len(m.Models))
	for _, mod := range m.Models {
		if mod.Name == "" {
			return fmt.Errorf("model with empty name")
		}
		if names[mod.Name] {
			return fmt.Errorf("duplicate model %q", mod.Name)
		}
		names[mod.Name] = true
		if mod.TableReference.Table == "" {
			return fmt.Errorf("model %q has no table reference", mod.Name)
		}
		qt := mod.QualifiedTable()
		if qualified[qt] {
			return fmt.Errorf("models share table %q", qt)
		}
		qualified[qt] = true
		if len(mod.Columns) == 0 {
			return fmt.Errorf("model %q has no columns", mod.Name)
		}
		cols := make(map[string]bool, len(mod.Columns))
		for _, c := range mod.Columns {
			if c.Name == "" {
				return fmt.Errorf("model %q has a column with empty name", mod.Name)
			}
			if cols[c.Name] {
				return fmt.Errorf("model %q duplicates column %q", mod.Name, c.Name)
			}
			cols[c.Name] = true
		}
	}

	relNames := make(map[string]bool, len(m.Relationships))
	for _, rel := range m.Relationships {
		if relNames[rel.Name] {
			return fmt.Errorf("duplicate relationship %q", rel.Name)
		}
		relNames[rel.Name] = true
	}

	_, err := m.foreignKeys()
	return err
}

// foreignKeys resolves every relationship into a directed join edge keyed by
// qualified table names. The side whose condition column carries the "_id"
// suffix is the referencing side; when both or neither do, the side listed
// first in Models wins.
func (m *MDL) foreignKeys() ([]ForeignKey, error) {
	byName := make(map[string]Model, len(m.Models))
	for _, mod := range m.Models {
		byName[mod.Name] = mod
	}

	out := make([]ForeignKey, 0, len(m.Relationships))
	for _, rel := range m.Relationships {
		if len(rel.Models) != 2 {
			return nil, fmt.Errorf("relationship %q must join exactly two models", rel.Name)
		}
		left, right, err := parseCondition(rel.Condition)
		if err != nil {
			return nil, fmt.Errorf("relationship %q: %w", rel.Name, err)
		}
		declared := (left.model == rel.Models[0] && right.model == rel.Models[1]) ||
			(left.model == rel.Models[1] && right.model == rel.Models[0])
		if !declared {
			return nil, fmt.Errorf("relationship %q condition joins %q and %q, models declare %q and %q",
				rel.Name, left.model, right.model, rel.Models[0], rel.Models[1])
		}
		for _, ref := range []columnRef{left, right} {
			mod, ok := byName[ref.model]
			if !ok {
				return nil, fmt.Errorf("relationship %q references unknown model %q", rel.Name, ref.model)
			}
			if !modelHasColumn(mod, ref.column) {
				return nil, fmt.Errorf("relationship %q references unknown column %s.%s", rel.Name, ref.model, ref.column)
			}
		}

		from, to := left, right
		switch {
		case strings.HasSuffix(left.column, "_id") == strings.HasSuffix(right.column, "_id"):
			if left.model != rel.Models[0] {
				from, to = right, left
			}
		case strings.HasSuffix(right.column, "_id"):
			from, to = right, left
		}

		out = append(out, ForeignKey{
			FromModel:  byName[from.model].QualifiedTable(),
			FromColumn: from.column,
			ToModel:    byName[to.model].QualifiedTable(),
			ToColumn:   to.column,
		})
	}
	return out, nil
}

func modelHasColumn(m Model, column string) bool {
	for _, c := range m.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}
