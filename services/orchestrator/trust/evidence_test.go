// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trust

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
	"github.com/osoriai/pms-copilot/services/orchestrator/retrieval"
)

func TestEvidenceService_FromChunks(t *testing.T) {
	s := NewEvidenceService(0, 0, 0, nil)

	chunks := []retrieval.Chunk{
		{ChunkID: "c1", DocID: "d1", DocTitle: "추정 가이드", Content: strings.Repeat("가", 600), Score: 0.8},
	}
	items := s.FromChunks(chunks)
	require.Len(t, items, 1)
	assert.Equal(t, datatypes.SourceDocument, items[0].SourceType)
	assert.Equal(t, "d1", items[0].SourceID)
	assert.Equal(t, 0.8, items[0].RelevanceScore)
	assert.Len(t, []rune(items[0].Excerpt), datatypes.MaxEvidenceExcerptLen)
}

func TestEvidenceService_FromRows(t *testing.T) {
	s := NewEvidenceService(0, 0, 0, nil)

	t.Run("source type inferred from table", func(t *testing.T) {
		items := s.FromRows([]map[string]any{{"id": 7, "title": "로그인 개선"}}, "task.tasks")
		require.Len(t, items, 1)
		assert.Equal(t, datatypes.SourceTask, items[0].SourceType)
		assert.Equal(t, "7", items[0].SourceID)
		assert.Equal(t, "로그인 개선", items[0].Title)
	})

	t.Run("unknown table defaults to document", func(t *testing.T) {
		items := s.FromRows([]map[string]any{{"id": 1}}, "audit.events")
		require.Len(t, items, 1)
		assert.Equal(t, datatypes.SourceDocument, items[0].SourceType)
	})

	t.Run("excerpt key order is stable", func(t *testing.T) {
		row := map[string]any{"b": 2, "a": 1}
		items := s.FromRows([]map[string]any{row}, "task.tasks")
		assert.Equal(t, "a: 1, b: 2", items[0].Excerpt)
	})
}

func TestEvidenceService_Assemble(t *testing.T) {
	s := NewEvidenceService(0.5, 1, 5, nil)

	item := func(id string, score float64) datatypes.EvidenceItem {
		return datatypes.EvidenceItem{ID: id, RelevanceScore: score}
	}

	t.Run("rank weighted mean", func(t *testing.T) {
		bundle := s.Assemble([]datatypes.EvidenceItem{item("b", 0.6), item("a", 0.9), item("c", 0.3)})
		require.Len(t, bundle.Items, 3)
		assert.Equal(t, "a", bundle.Items[0].ID)
		// (0.9 + 0.6/2 + 0.3/3) / (1 + 1/2 + 1/3)
		assert.InDelta(t, 1.3/(11.0/6.0), bundle.TotalScore, 1e-9)
		assert.True(t, bundle.HasSufficientEvidence)
	})

	t.Run("total score stays within unit range", func(t *testing.T) {
		bundle := s.Assemble([]datatypes.EvidenceItem{item("a", 1.0), item("b", 1.0), item("c", 1.0)})
		assert.InDelta(t, 1.0, bundle.TotalScore, 1e-9)
	})

	t.Run("weak tail drags the mean down", func(t *testing.T) {
		bundle := s.Assemble([]datatypes.EvidenceItem{item("a", 0.9), item("b", 0.1), item("c", 0.1)})
		assert.Less(t, bundle.TotalScore, 0.9)
	})

	t.Run("single weak item is insufficient", func(t *testing.T) {
		bundle := s.Assemble([]datatypes.EvidenceItem{item("a", 0.3)})
		assert.False(t, bundle.HasSufficientEvidence)
	})

	t.Run("minimum item count enforced", func(t *testing.T) {
		strict := NewEvidenceService(0.5, 2, 5, nil)
		bundle := strict.Assemble([]datatypes.EvidenceItem{item("a", 1.0)})
		assert.False(t, bundle.HasSufficientEvidence)

		bundle = strict.Assemble([]datatypes.EvidenceItem{item("a", 1.0), item("b", 1.0)})
		assert.True(t, bundle.HasSufficientEvidence)
	})

	t.Run("empty is insufficient", func(t *testing.T) {
		bundle := s.Assemble(nil)
		assert.False(t, bundle.HasSufficientEvidence)
		assert.Zero(t, bundle.TotalScore)
	})

	t.Run("bundle capped at max items", func(t *testing.T) {
		var items []datatypes.EvidenceItem
		for i := 0; i < 7; i++ {
			items = append(items, item(string(rune('a'+i)), 0.9))
		}
		bundle := s.Assemble(items)
		assert.Len(t, bundle.Items, 5)
	})
}
