// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// ProjectIDColumn is the scoping column every project-scoped query
	// must predicate on.
	ProjectIDColumn = "project_id"

	// MaxScopePathDepth bounds the bridge-table search. A project-scoped
	// table more than three joins away from a project_id carrier is a
	// modeling error, caught at startup.
	MaxScopePathDepth = 3
)

// ForeignKey is one join edge between two tables.
type ForeignKey struct {
	FromModel  string
	FromColumn string
	ToModel    string
	ToColumn   string
}

// JoinClause is the deterministic output of BuildJoinClause.
type JoinClause struct {
	// SQL is the FROM/JOIN fragment. Byte-identical for equal inputs.
	SQL string

	// Aliases maps table name to its assigned alias.
	Aliases map[string]string

	// ScopeAlias is the alias of the first joined table carrying
	// project_id, or empty when none does.
	ScopeAlias string
}

type tableInfo struct {
	columns       map[string]bool
	projectScoped bool
}

// Graph is the schema graph: tables as vertices, foreign keys as edges.
// Read-only after construction; safe for concurrent use.
type Graph struct {
	tables map[string]*tableInfo
	// adjacency holds, per table, the outgoing edges sorted by neighbor
	// then column names so every traversal is deterministic.
	adjacency map[string][]ForeignKey
}

// NewGraph builds the schema graph from a validated descriptor.
//
// # Limitations
//
//	Fails when any project-scoped table cannot reach a project_id carrier
//	within MaxScopePathDepth joins. This is deliberately fatal: a scoped
//	table the validator cannot anchor would make every query against it
//	unscopeable.
func NewGraph(mdl *MDL) (*Graph, error) {
	g := &Graph{
		tables:    make(map[string]*tableInfo, len(mdl.Models)),
		adjacency: make(map[string][]ForeignKey),
	}
	for _, m := range mdl.Models {
		info := &tableInfo{
			columns:       make(map[string]bool, len(m.Columns)),
			projectScoped: m.ProjectScoped,
		}
		for _, c := range m.Columns {
			info.columns[c.Name] = true
		}
		g.tables[m.QualifiedTable()] = info
	}
	fks, err := mdl.foreignKeys()
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		g.adjacency[fk.FromModel] = append(g.adjacency[fk.FromModel], fk)
		g.adjacency[fk.ToModel] = append(g.adjacency[fk.ToModel], reverse(fk))
	}
	for _, edges := range g.adjacency {
		sortEdges(edges)
	}

	for name, info := range g.tables {
		if !info.projectScoped {
			continue
		}
		if g.FindPathToProjectID(name, MaxScopePathDepth) == nil {
			return nil, fmt.Errorf(
				"project-scoped table %q cannot reach a project_id carrier within %d joins",
				name, MaxScopePathDepth)
		}
	}
	return g, nil
}

func reverse(fk ForeignKey) ForeignKey {
	return ForeignKey{
		FromModel:  fk.ToModel,
		FromColumn: fk.ToColumn,
		ToModel:    fk.FromModel,
		ToColumn:   fk.FromColumn,
	}
}

func sortEdges(edges []ForeignKey) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ToModel != edges[j].ToModel {
			return edges[i].ToModel < edges[j].ToModel
		}
		if edges[i].FromColumn != edges[j].FromColumn {
			return edges[i].FromColumn < edges[j].FromColumn
		}
		return edges[i].ToColumn < edges[j].ToColumn
	})
}

// HasTable reports whether name is a declared table.
func (g *Graph) HasTable(name string) bool {
	_, ok := g.tables[name]
	return ok
}

// HasColumn reports whether table declares column.
func (g *Graph) HasColumn(table, column string) bool {
	info, ok := g.tables[table]
	return ok && info.columns[column]
}

// Columns returns the table's columns, sorted, or nil for unknown tables.
func (g *Graph) Columns(table string) []string {
	info, ok := g.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(info.columns))
	for c := range info.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Tables returns all declared table names, sorted.
func (g *Graph) Tables() []string {
	out := make([]string, 0, len(g.tables))
	for t := range g.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasProjectID reports whether the table carries the scoping column.
func (g *Graph) HasProjectID(table string) bool {
	return g.HasColumn(table, ProjectIDColumn)
}

// IsProjectScoped reports whether the table's rows belong to a project.
func (g *Graph) IsProjectScoped(table string) bool {
	info, ok := g.tables[table]
	return ok && info.projectScoped
}

// FindPathToProjectID returns the shortest join path from table to a table
// carrying project_id, inclusive of both endpoints. A table that carries
// project_id itself yields a single-element path. Ties between equal-length
// paths break lexicographically (BFS expands neighbors in sorted order).
// Returns nil when no path exists within maxDepth joins.
func (g *Graph) FindPathToProjectID(table string, maxDepth int) []string {
	if !g.HasTable(table) {
		return nil
	}
	if g.HasProjectID(table) {
		return []string{table}
	}

	type queued struct {
		node string
		path []string
	}
	visited := map[string]bool{table: true}
	queue := []queued{{node: table, path: []string{table}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path)-1 >= maxDepth {
			continue
		}
		for _, fk := range g.adjacency[cur.node] {
			next := fk.ToModel
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]string{}, cur.path...), next)
			if g.HasProjectID(next) {
				return path
			}
			queue = append(queue, queued{node: next, path: path})
		}
	}
	return nil
}

// FindJoinPath returns the foreign key directly connecting t1 and t2,
// oriented from t1. Deterministic: edges are pre-sorted.
func (g *Graph) FindJoinPath(t1, t2 string) (ForeignKey, bool) {
	for _, fk := range g.adjacency[t1] {
		if fk.ToModel == t2 {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// BuildJoinClause assembles the FROM/JOIN fragment for the given tables.
//
// # Description
//
//	The primary table anchors the FROM; remaining tables are joined in
//	sorted order, each via its foreign key to an already-joined table.
//	Aliases are t1..tn in join order. Equal inputs produce byte-identical
//	SQL — the few-shot store and the validator both depend on that.
//
// # Outputs
//
//	*JoinClause - SQL, alias map, and the project-scope alias.
//	error - Unknown table, or a table with no join path into the set.
func (g *Graph) BuildJoinClause(tables []string, primary string) (*JoinClause, error) {
	if !g.HasTable(primary) {
		return nil, fmt.Errorf("unknown primary table %q", primary)
	}

	ordered := []string{primary}
	seen := map[string]bool{primary: true}
	rest := make([]string, 0, len(tables))
	for _, t := range tables {
		if seen[t] {
			continue
		}
		if !g.HasTable(t) {
			return nil, fmt.Errorf("unknown table %q", t)
		}
		seen[t] = true
		rest = append(rest, t)
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	aliases := make(map[string]string, len(ordered))
	for i, t := range ordered {
		aliases[t] = fmt.Sprintf("t%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s %s", primary, aliases[primary])

	joined := []string{primary}
	for _, t := range ordered[1:] {
		var fk ForeignKey
		found := false
		for _, j := range joined {
			if cand, ok := g.FindJoinPath(t, j); ok {
				fk, found = cand, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("table %q has no join path into {%s}", t, strings.Join(joined, ", "))
		}
		fmt.Fprintf(&b, "\nJOIN %s %s ON %s.%s = %s.%s",
			t, aliases[t],
			aliases[t], fk.FromColumn,
			aliases[fk.ToModel], fk.ToColumn)
		joined = append(joined, t)
	}

	scopeAlias := ""
	for _, t := range ordered {
		if g.HasProjectID(t) {
			scopeAlias = aliases[t]
			break
		}
	}

	return &JoinClause{SQL: b.String(), Aliases: aliases, ScopeAlias: scopeAlias}, nil
}

// EnsureProjectScope guarantees the table set can be scoped to a project.
//
// # Description
//
//	When no selected table carries project_id, the shortest bridge path
//	from any selected table (sorted order decides ties) is spliced in so
//	the join clause gains a scopeable alias.
//
// # Outputs
//
//	[]string - The augmented table set, original order preserved, bridge
//	    tables appended.
//	string - The name of the table carrying project_id.
//	error - No selected table can reach project_id within MaxScopePathDepth.
func (g *Graph) EnsureProjectScope(tables []string) ([]string, string, error) {
	for _, t := range tables {
		if g.HasProjectID(t) {
			return tables, t, nil
		}
	}

	candidates := append([]string{}, tables...)
	sort.Strings(candidates)

	var best []string
	for _, t := range candidates {
		path := g.FindPathToProjectID(t, MaxScopePathDepth)
		if path == nil {
			continue
		}
		if best == nil || len(path) < len(best) {
			best = path
		}
	}
	if best == nil {
		return nil, "", fmt.Errorf("no table in {%s} reaches %s within %d joins",
			strings.Join(tables, ", "), ProjectIDColumn, MaxScopePathDepth)
	}

	augmented := append([]string{}, tables...)
	present := map[string]bool{}
	for _, t := range tables {
		present[t] = true
	}
	for _, t := range best[1:] {
		if !present[t] {
			augmented = append(augmented, t)
			present[t] = true
		}
	}
	return augmented, best[len(best)-1], nil
}
