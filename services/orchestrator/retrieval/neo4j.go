// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Index names in the document graph. Created by the ingestion pipeline,
// assumed to exist here.
const (
	VectorIndexName   = "chunk_embeddings"
	FulltextIndexName = "chunk_fulltext"
)

const chunkReturnClause = `
RETURN node.chunk_id AS chunk_id,
       node.doc_id AS doc_id,
       coalesce(node.doc_title, '') AS doc_title,
       node.content AS content,
       coalesce(node.project_id, '') AS project_id,
       coalesce(node.access_level, 1) AS access_level,
       score`

// Neo4jSearcher implements ChunkSearcher on a Neo4j 5.x document graph.
//
// Access-level enforcement does NOT live here: the retriever filters every
// stage's output, so a chunk above the caller's level never survives even
// when it arrives through graph expansion.
type Neo4jSearcher struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ ChunkSearcher = (*Neo4jSearcher)(nil)

// NewNeo4jSearcher connects to the graph and verifies connectivity.
func NewNeo4jSearcher(ctx context.Context, uri, username, password, database string) (*Neo4jSearcher, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	return &Neo4jSearcher{driver: driver, database: database}, nil
}

// Close releases the driver.
func (s *Neo4jSearcher) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Driver exposes the underlying connection for components that share it,
// such as the evidence persister.
func (s *Neo4jSearcher) Driver() neo4j.DriverWithContext {
	return s.driver
}

// VectorSearch queries the chunk embedding index. An empty projectID means
// a global pass with no project filter.
func (s *Neo4jSearcher) VectorSearch(ctx context.Context, embedding []float32, k int, projectID string) ([]Chunk, error) {
	cypher := `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE $project_id = '' OR node.project_id = $project_id` + chunkReturnClause + `
ORDER BY score DESC`

	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	return s.run(ctx, cypher, map[string]any{
		"index":      VectorIndexName,
		"k":          k,
		"embedding":  vec,
		"project_id": projectID,
	}, "vector")
}

// FulltextSearch queries the chunk fulltext index.
func (s *Neo4jSearcher) FulltextSearch(ctx context.Context, query string, k int, projectID string) ([]Chunk, error) {
	cypher := `CALL db.index.fulltext.queryNodes($index, $q)
YIELD node, score
WHERE $project_id = '' OR node.project_id = $project_id` + chunkReturnClause + `
ORDER BY score DESC
LIMIT $k`

	return s.run(ctx, cypher, map[string]any{
		"index":      FulltextIndexName,
		"q":          escapeLucene(query),
		"k":          k,
		"project_id": projectID,
	}, "fulltext")
}

// ExpandNeighbors hops one relationship from the seeds. Each neighbor comes
// back with the best score among the seeds that reached it.
func (s *Neo4jSearcher) ExpandNeighbors(ctx context.Context, seeds []Chunk, limit int) ([]Chunk, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	seedRows := make([]map[string]any, len(seeds))
	seedIDs := make([]string, len(seeds))
	for i, c := range seeds {
		seedRows[i] = map[string]any{"id": c.ChunkID, "score": c.Score}
		seedIDs[i] = c.ChunkID
	}

	cypher := `UNWIND $seeds AS seed
MATCH (c:Chunk {chunk_id: seed.id})-[:HAS_CHUNK|NEXT_CHUNK|RELATED_TO|DEPENDS_ON]-(node:Chunk)
WHERE NOT node.chunk_id IN $seed_ids
WITH node, max(seed.score) AS score` + chunkReturnClause + `
ORDER BY score DESC
LIMIT $limit`

	return s.run(ctx, cypher, map[string]any{
		"seeds":    seedRows,
		"seed_ids": seedIDs,
		"limit":    limit,
	}, "expansion")
}

func (s *Neo4jSearcher) run(ctx context.Context, cypher string, params map[string]any, source string) ([]Chunk, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", source, err)
	}

	chunks := make([]Chunk, 0, len(records))
	for _, rec := range records {
		chunks = append(chunks, chunkFromRecord(rec, source))
	}
	return chunks, nil
}

func chunkFromRecord(rec *neo4j.Record, source string) Chunk {
	c := Chunk{Source: source}
	if v, ok := rec.Get("chunk_id"); ok {
		c.ChunkID, _ = v.(string)
	}
	if v, ok := rec.Get("doc_id"); ok {
		c.DocID, _ = v.(string)
	}
	if v, ok := rec.Get("doc_title"); ok {
		c.DocTitle, _ = v.(string)
	}
	if v, ok := rec.Get("content"); ok {
		c.Content, _ = v.(string)
	}
	if v, ok := rec.Get("project_id"); ok {
		c.ProjectID, _ = v.(string)
	}
	if v, ok := rec.Get("access_level"); ok {
		if lvl, isInt := v.(int64); isInt {
			c.AccessLevel = int(lvl)
		}
	}
	if v, ok := rec.Get("score"); ok {
		if sc, isFloat := v.(float64); isFloat {
			c.Score = sc
		}
	}
	return c
}

// escapeLucene neutralizes fulltext query syntax so user text is matched
// literally.
var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

func escapeLucene(q string) string {
	return luceneEscaper.Replace(q)
}
