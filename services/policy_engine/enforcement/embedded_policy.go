// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement embeds the policy definitions into the binary so the
// rules are immutable at runtime and travel with the executable.
package enforcement

import (
	_ "embed"
)

// DataClassificationPatterns holds the raw byte content of
// data_classification_patterns.yaml, populated at compile time.
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte
