// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Service owns the live schema graph and its reload lifecycle.
//
// # Description
//
//	The descriptor is loaded once at startup (fatal on failure). A file
//	watcher marks the graph stale when the descriptor changes on disk;
//	applying the change stays an operator action through Reload(), so a
//	bad descriptor push cannot take down a running service.
//
// # Thread Safety
//
//	Graph() returns an immutable snapshot; Reload() swaps it atomically.
type Service struct {
	path string

	mu    sync.RWMutex
	graph *Graph

	stale   atomic.Bool
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewService loads the descriptor at path and builds the initial graph.
func NewService(path string) (*Service, error) {
	mdl, err := LoadMDL(path)
	if err != nil {
		return nil, err
	}
	graph, err := NewGraph(mdl)
	if err != nil {
		return nil, err
	}
	return &Service{path: path, graph: graph, done: make(chan struct{})}, nil
}

// Graph returns the current schema graph snapshot.
func (s *Service) Graph() *Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// Stale reports whether the on-disk descriptor changed since the last load.
func (s *Service) Stale() bool {
	return s.stale.Load()
}

// Watch starts watching the descriptor's directory for changes. Changes
// only mark the graph stale; they are applied by Reload().
func (s *Service) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config pushes often
	// replace the file, which drops a direct file watch.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w

	go func() {
		target := filepath.Clean(s.path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					s.stale.Store(true)
					slog.Info("schema descriptor changed on disk, reload pending",
						"path", s.path, "op", ev.Op.String())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("schema watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Reload re-reads the descriptor and swaps in the new graph. On failure the
// running graph stays in place and the stale flag stays set.
func (s *Service) Reload() error {
	mdl, err := LoadMDL(s.path)
	if err != nil {
		return err
	}
	graph, err := NewGraph(mdl)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.graph = graph
	s.mu.Unlock()
	s.stale.Store(false)
	slog.Info("schema graph reloaded", "path", s.path, "tables", len(graph.Tables()))
	return nil
}

// Close stops the watcher.
func (s *Service) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
