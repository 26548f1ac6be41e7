// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package statusquery answers STATUS_* intents from a whitelisted metric
// catalog. No language model touches this path: every metric is a reviewed
// SQL template, selected by intent and filtered by access level.
package statusquery

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/osoriai/pms-copilot/services/orchestrator/datatypes"
)

//go:embed metric_catalog.yaml
var embeddedCatalog []byte

// Metric is one whitelisted status measurement.
type Metric struct {
	// ID keys the metric in plans and results.
	ID string `yaml:"id"`

	// Description is operator documentation.
	Description string `yaml:"description"`

	// SQL is the reviewed template. It must bind @project_id when
	// ProjectScoped and always returns a single scalar row.
	SQL string `yaml:"sql"`

	// Unit annotates the rendered value (percent, count, days).
	Unit string `yaml:"unit"`

	// RequiredAccessLevel gates who may see the metric.
	RequiredAccessLevel int `yaml:"required_access_level"`

	// ProjectScoped marks metrics that require a project binding.
	ProjectScoped bool `yaml:"project_scoped"`
}

// Catalog is the parsed metric catalog. Catalog order is meaningful: when
// two metrics compete for the same slot, the earlier entry wins.
type Catalog struct {
	// Metrics in declaration order.
	Metrics []Metric `yaml:"metrics"`

	// IntentMetrics maps intent name → metric ids, the fixed per-intent
	// selection.
	IntentMetrics map[string][]string `yaml:"intent_metrics"`

	byID map[string]*Metric
}

// LoadCatalog parses the embedded catalog. Invalid catalogs are fatal at
// startup.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(embeddedCatalog)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing metric catalog: %w", err)
	}
	if len(c.Metrics) == 0 {
		return nil, fmt.Errorf("metric catalog declares no metrics")
	}

	c.byID = make(map[string]*Metric, len(c.Metrics))
	for i := range c.Metrics {
		m := &c.Metrics[i]
		if m.ID == "" || m.SQL == "" {
			return nil, fmt.Errorf("metric %d is missing id or sql", i)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate metric id %q", m.ID)
		}
		c.byID[m.ID] = m
	}

	for intentName, ids := range c.IntentMetrics {
		for _, id := range ids {
			if _, ok := c.byID[id]; !ok {
				return nil, fmt.Errorf("intent %s references unknown metric %q", intentName, id)
			}
		}
	}
	return &c, nil
}

// Metric returns the metric by id.
func (c *Catalog) Metric(id string) (*Metric, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// MetricsForIntent returns the fixed metric selection for the intent, in
// catalog order, deduplicated (first occurrence wins).
func (c *Catalog) MetricsForIntent(i datatypes.Intent) []string {
	ids, ok := c.IntentMetrics[string(i)]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
