// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trust

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/retrieval"
)

// DefaultMinSufficientScore is the rank-weighted total score below which a
// bundle is marked insufficient.
const DefaultMinSufficientScore = 0.5

// DefaultMaxEvidenceItems caps how many items a bundle carries.
const DefaultMaxEvidenceItems = 5

// DefaultMinEvidenceCount is the minimum item count for sufficiency.
const DefaultMinEvidenceCount = 1

// tableSourceTypes infers an evidence source type from the table a row came
// from.
var tableSourceTypes = map[string]datatypes.SourceType{
	"task.tasks":         datatypes.SourceTask,
	"task.backlog_items": datatypes.SourceUserStory,
	"task.sprints":       datatypes.SourceSprint,
	"doc.meetings":       datatypes.SourceMeeting,
	"doc.decisions":      datatypes.SourceDecision,
	"risk.risks":         datatypes.SourceIssue,
}

// EvidencePersister records response→evidence support edges for audit.
type EvidencePersister interface {
	PersistSupport(ctx context.Context, responseID string, items []datatypes.EvidenceItem) error
}

// EvidenceService assembles and scores evidence bundles.
type EvidenceService struct {
	minScore  float64
	minCount  int
	maxItems  int
	persister EvidencePersister
}

// NewEvidenceService builds the service. persister may be nil when audit
// persistence is disabled.
func NewEvidenceService(minScore float64, minCount, maxItems int, persister EvidencePersister) *EvidenceService {
	if minScore <= 0 {
		minScore = DefaultMinSufficientScore
	}
	if minCount <= 0 {
		minCount = DefaultMinEvidenceCount
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxEvidenceItems
	}
	return &EvidenceService{minScore: minScore, minCount: minCount, maxItems: maxItems, persister: persister}
}

// FromChunks converts retriever hits into evidence items.
func (s *EvidenceService) FromChunks(chunks []retrieval.Chunk) []datatypes.EvidenceItem {
	items := make([]datatypes.EvidenceItem, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, datatypes.EvidenceItem{
			ID:             c.ChunkID,
			SourceType:     datatypes.SourceDocument,
			SourceID:       c.DocID,
			Title:          c.DocTitle,
			Excerpt:        truncateExcerpt(c.Content),
			RelevanceScore: c.Score,
		})
	}
	return items
}

// FromRows converts query result rows into evidence items. The source type
// is inferred from the table; rows carry full relevance since they came
// from a validated deterministic query.
func (s *EvidenceService) FromRows(rows []map[string]any, table string) []datatypes.EvidenceItem {
	sourceType, ok := tableSourceTypes[table]
	if !ok {
		sourceType = datatypes.SourceDocument
	}
	items := make([]datatypes.EvidenceItem, 0, len(rows))
	for i, row := range rows {
		items = append(items, datatypes.EvidenceItem{
			ID:             fmt.Sprintf("%s#%d", table, i),
			SourceType:     sourceType,
			SourceID:       rowString(row, "id"),
			Title:          firstNonEmpty(rowString(row, "title"), rowString(row, "name"), table),
			Excerpt:        truncateExcerpt(summarizeRow(row)),
			RelevanceScore: 1.0,
		})
	}
	return items
}

// Assemble sorts items by relevance, caps the bundle, and computes the
// rank-weighted sufficiency verdict: item i carries weight 1/(i+1), and the
// total score is the weighted mean, so it stays in [0,1] and a long tail of
// weak hits drags the bundle down instead of inflating it.
func (s *EvidenceService) Assemble(items []datatypes.EvidenceItem) *datatypes.EvidenceBundle {
	sorted := make([]datatypes.EvidenceItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	if len(sorted) > s.maxItems {
		sorted = sorted[:s.maxItems]
	}

	total, weight := 0.0, 0.0
	for i, item := range sorted {
		w := 1.0 / float64(i+1)
		total += item.RelevanceScore * w
		weight += w
	}
	if weight > 0 {
		total /= weight
	}
	return &datatypes.EvidenceBundle{
		Items:                 sorted,
		TotalScore:            total,
		HasSufficientEvidence: len(sorted) >= s.minCount && total >= s.minScore,
	}
}

// Persist writes the audit edges when a persister is configured.
func (s *EvidenceService) Persist(ctx context.Context, responseID string, bundle *datatypes.EvidenceBundle) error {
	if s.persister == nil || bundle == nil || len(bundle.Items) == 0 {
		return nil
	}
	return s.persister.PersistSupport(ctx, responseID, bundle.Items)
}

// Neo4jEvidencePersister writes (AIResponse)-[:SUPPORTED_BY]->(Evidence)
// edges into the document graph.
type Neo4jEvidencePersister struct {
	Driver   neo4j.DriverWithContext
	Database string
}

var _ EvidencePersister = (*Neo4jEvidencePersister)(nil)

func (p *Neo4jEvidencePersister) PersistSupport(ctx context.Context, responseID string, items []datatypes.EvidenceItem) error {
	rows := make([]map[string]any, len(items))
	for i, item := range items {
		rows[i] = map[string]any{
			"id":          item.ID,
			"source_type": string(item.SourceType),
			"source_id":   item.SourceID,
			"score":       item.RelevanceScore,
		}
	}

	session := p.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.Database,
	})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
MERGE (r:AIResponse {response_id: $response_id})
WITH r
UNWIND $items AS item
MERGE (e:Evidence {evidence_id: item.id})
SET e.source_type = item.source_type, e.source_id = item.source_id
MERGE (r)-[s:SUPPORTED_BY]->(e)
SET s.score = item.score`,
			map[string]any{"response_id": responseID, "items": rows})
	})
	if err != nil {
		return fmt.Errorf("persisting evidence support: %w", err)
	}
	return nil
}

func truncateExcerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= datatypes.MaxEvidenceExcerptLen {
		return text
	}
	return string(runes[:datatypes.MaxEvidenceExcerptLen])
}

func rowString(row map[string]any, key string) string {
	if v, ok := row[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// summarizeRow renders a row as "k: v" pairs in sorted key order so the
// excerpt is stable across runs.
func summarizeRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
	}
	return strings.Join(parts, ", ")
}
