// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osoriai/pms-copilot/services/orchestrator/storage"
)

func TestFewShotStore_DedupAndCap(t *testing.T) {
	store, err := NewFewShotStore(nil, 3)
	require.NoError(t, err)

	store.Add(Example{Question: "테스트 중인 태스크", Query: "q1"})
	store.Add(Example{Question: "테스트  중인   태스크", Query: "q1-dup"}) // whitespace variant
	store.Add(Example{Question: "백로그 목록", Query: "q2"})
	assert.Equal(t, 2, store.Count())

	store.Add(Example{Question: "회의록", Query: "q3"})
	store.Add(Example{Question: "담당자", Query: "q4"})
	assert.Equal(t, 3, store.Count(), "cap evicts the oldest example")

	// The oldest (테스트 중인 태스크) was evicted, so its dup can re-enter.
	store.Add(Example{Question: "테스트 중인 태스크", Query: "q1-again"})
	assert.Equal(t, 3, store.Count())
}

func TestFewShotStore_SelectByJaccard(t *testing.T) {
	store, err := NewFewShotStore(nil, 10)
	require.NoError(t, err)

	store.Add(Example{Question: "테스트 중인 태스크 보여줘", Query: "q-test"})
	store.Add(Example{Question: "백로그 우선순위 목록", Query: "q-backlog"})
	store.Add(Example{Question: "이번 주 마감 태스크", Query: "q-due"})

	got := store.Select("테스트 중인 태스크", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "q-test", got[0].Query, "highest keyword overlap first")

	t.Run("no overlap yields nothing", func(t *testing.T) {
		assert.Empty(t, store.Select("완전히 다른 질문입니다", 3))
	})

	t.Run("deterministic ordering", func(t *testing.T) {
		first := store.Select("태스크 보여줘", 3)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, store.Select("태스크 보여줘", 3))
		}
	})
}

func TestFewShotStore_PersistsAcrossReopen(t *testing.T) {
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	store, err := NewFewShotStore(db, 10)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		store.Add(Example{Question: fmt.Sprintf("질문 %d", i), Query: fmt.Sprintf("q%d", i)})
	}

	reopened, err := NewFewShotStore(db, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, reopened.Count())

	got := reopened.Select("질문 2", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "q2", got[0].Query)
}

func TestFewShotStore_SequenceSurvivesEvictionAndReopen(t *testing.T) {
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	store, err := NewFewShotStore(db, 2)
	require.NoError(t, err)
	store.Add(Example{Question: "첫 번째 질문", Query: "q one"})
	store.Add(Example{Question: "두 번째 질문", Query: "q two"})
	store.Add(Example{Question: "세 번째 질문", Query: "q three"}) // evicts the first
	require.Equal(t, 2, store.Count())

	// A reopened store must keep counting past the highest persisted key;
	// a counter reset here would hand out key 3 again and overwrite it.
	reopened, err := NewFewShotStore(db, 2)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Count())
	reopened.Add(Example{Question: "네 번째 질문", Query: "q four"}) // evicts the second

	final, err := NewFewShotStore(db, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Count())

	got := final.Select("세 번째 질문", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "q three", got[0].Query)

	got = final.Select("네 번째 질문", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "q four", got[0].Query)
}

func TestCleanQueryOutput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			"fenced sql",
			"```sql\nSELECT t1.id FROM task.tasks t1 LIMIT 10\n```",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10",
		},
		{
			"prose before query",
			"Here is the query you asked for:\nSELECT t1.id FROM task.tasks t1 LIMIT 10",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10",
		},
		{
			"trailing semicolon",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10;",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10",
		},
		{
			"fenced cypher",
			"```cypher\nMATCH (c:Chunk) RETURN c.content LIMIT 5\n```",
			"MATCH (c:Chunk) RETURN c.content LIMIT 5",
		},
		{
			"already clean",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10",
			"SELECT t1.id FROM task.tasks t1 LIMIT 10",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanQueryOutput(tc.raw))
		})
	}
}
