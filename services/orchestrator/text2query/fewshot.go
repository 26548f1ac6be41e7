// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package text2query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// DefaultMaxExamples caps the few-shot store.
const DefaultMaxExamples = 500

const fewshotPrefix = "t2q:ex:"

// Example is one learned (question, query) pair.
type Example struct {
	Question string   `json:"question"`
	Query    string   `json:"query"`
	Tables   []string `json:"tables"`
}

// FewShotStore holds learned examples for prompt construction.
//
// # Description
//
//	Grows on execution success, deduplicates on the normalized question,
//	and evicts oldest-first at the cap. Selection scores examples by
//	keyword Jaccard against the incoming question.
//
// # Thread Safety
//
//	Single-writer mutex; selection copies under the read lock.
type FewShotStore struct {
	db  *badger.DB
	max int

	mu       sync.RWMutex
	examples []storedExample
	byKey    map[string]bool
	seq      uint64
}

// storedExample pairs an example with its persistence key so eviction can
// delete from disk as well.
type storedExample struct {
	key string
	ex  Example
}

// NewFewShotStore opens the store over db, loading persisted examples.
// db may be nil for a memory-only store.
func NewFewShotStore(db *badger.DB, max int) (*FewShotStore, error) {
	if max <= 0 {
		max = DefaultMaxExamples
	}
	s := &FewShotStore{db: db, max: max, byKey: map[string]bool{}}
	if db == nil {
		return s, nil
	}

	var loaded []storedExample
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fewshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			var ex Example
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ex)
			})
			if err != nil {
				return err
			}
			loaded = append(loaded, storedExample{key: key, ex: ex})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading few-shot store: %w", err)
	}

	// Keys are sequence-numbered; sorting restores insertion order.
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].key < loaded[j].key })
	for _, p := range loaded {
		norm := normalizeQuestion(p.ex.Question)
		if s.byKey[norm] {
			continue
		}
		s.byKey[norm] = true
		s.examples = append(s.examples, p)
	}
	// Resume the counter from the highest persisted key, not the surviving
	// count: after evictions the two diverge, and a reused key would
	// overwrite a live example.
	if len(loaded) > 0 {
		last := strings.TrimPrefix(loaded[len(loaded)-1].key, fewshotPrefix)
		if n, err := strconv.ParseUint(last, 10, 64); err == nil {
			s.seq = n
		} else {
			s.seq = uint64(len(loaded))
		}
	}
	return s, nil
}

// Add stores an example. Duplicate questions (after normalization) are
// ignored; at the cap the oldest example is evicted.
func (s *FewShotStore) Add(ex Example) {
	norm := normalizeQuestion(ex.Question)
	if norm == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byKey[norm] {
		return
	}
	if len(s.examples) >= s.max {
		evicted := s.examples[0]
		s.examples = s.examples[1:]
		delete(s.byKey, normalizeQuestion(evicted.ex.Question))
		if s.db != nil && evicted.key != "" {
			_ = s.db.Update(func(txn *badger.Txn) error {
				return txn.Delete([]byte(evicted.key))
			})
		}
	}
	s.seq++
	key := fmt.Sprintf("%s%012d", fewshotPrefix, s.seq)
	s.byKey[norm] = true
	s.examples = append(s.examples, storedExample{key: key, ex: ex})

	if s.db != nil {
		payload, err := json.Marshal(ex)
		if err != nil {
			return
		}
		_ = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), payload)
		})
	}
}

// Count returns the number of stored examples.
func (s *FewShotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.examples)
}

// Select returns the k examples most similar to question by keyword
// Jaccard. Ties break toward older examples so output is deterministic.
func (s *FewShotStore) Select(question string, k int) []Example {
	if k <= 0 {
		return nil
	}
	qTokens := keywordSet(question)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(s.examples))
	for i, se := range s.examples {
		score := jaccard(qTokens, keywordSet(se.ex.Question))
		if score > 0 {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Example, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, s.examples[r.idx].ex)
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func keywordSet(q string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(q)) {
		tok = strings.Trim(tok, "?!.,;:'\"()")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
