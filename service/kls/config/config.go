// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the recognised LSP initializationOptions/
// didChangeConfiguration options and detects the subset of changes callers
// must react to (swapping a debouncer, skipping a running refresh) instead
// of restarting the process.
package config

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"kotlinls/service/kls/protocol"
)

var validate = validator.New()

// Diagnostics holds the diagnostics.* option group.
type Diagnostics struct {
	Enabled      bool                        `json:"enabled"`
	Level        protocol.DiagnosticSeverity `json:"level" validate:"gte=0,lte=4"`
	DebounceTime int                         `json:"debounceTime" validate:"gte=0"`
}

// Indexing holds the indexing.* option group.
type Indexing struct {
	Enabled   bool `json:"enabled"`
	BatchSize int  `json:"batchSize" validate:"gte=0"`
}

// Completion holds the completion.* option group.
type Completion struct {
	SnippetsEnabled bool `json:"snippetsEnabled"`
}

// ExternalSources holds the externalSources.* option group.
type ExternalSources struct {
	UseKlsScheme          bool `json:"useKlsScheme"`
	AutoConvertToKotlin   bool `json:"autoConvertToKotlin"`
}

// Scripts holds the scripts.* option group.
type Scripts struct {
	Enabled             bool `json:"enabled"`
	BuildScriptsEnabled bool `json:"buildScriptsEnabled"`
}

// InlayHints holds the inlayHints.* option group.
type InlayHints struct {
	Type      bool `json:"type"`
	Parameter bool `json:"parameter"`
	Chained   bool `json:"chained"`
}

// Compiler holds the compiler.* option group.
type Compiler struct {
	// JVMTarget is the target bytecode level; "default" follows the build
	// toolchain's own setting rather than overriding it.
	JVMTarget string `json:"jvmTarget" validate:"omitempty,max=16"`
}

// Config is the full recognised-options table from the external interfaces
// section, as delivered through didChangeConfiguration's initializationOptions
// payload.
type Config struct {
	Diagnostics     Diagnostics     `json:"diagnostics"`
	Indexing        Indexing        `json:"indexing"`
	Completion      Completion      `json:"completion"`
	ExternalSources ExternalSources `json:"externalSources"`
	Scripts         Scripts         `json:"scripts"`
	InlayHints      InlayHints      `json:"inlayHints"`
	Compiler        Compiler        `json:"compiler"`
}

// Default returns the documented option defaults.
func Default() Config {
	return Config{
		Diagnostics: Diagnostics{Enabled: true, Level: protocol.SeverityHint, DebounceTime: 250},
		Indexing:    Indexing{Enabled: true, BatchSize: 50},
		Compiler:    Compiler{JVMTarget: "default"},
	}
}

// Parse decodes a didChangeConfiguration initializationOptions payload into
// a Config seeded with Default(), then validates the struct-tag invariants.
func Parse(raw json.RawMessage) (Config, error) {
	cfg := Default()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DebounceDuration converts DebounceTime (ms) to a time.Duration, applying
// DiagnosticsManager's own default when the configured value is zero.
func (c Config) DebounceDuration() time.Duration {
	if c.Diagnostics.DebounceTime <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.Diagnostics.DebounceTime) * time.Millisecond
}

// Diff reports which cross-cutting settings changed between c (the prior
// config) and next, so a caller can react surgically instead of treating
// every didChangeConfiguration as a full restart.
type Diff struct {
	DebounceTimeChanged bool
	DiagnosticsLevelChanged bool
	IndexingEnabledChanged  bool
	IndexingBatchSizeChanged bool
}

// Apply computes the Diff between c and next.
func (c Config) Apply(next Config) Diff {
	return Diff{
		DebounceTimeChanged:     c.Diagnostics.DebounceTime != next.Diagnostics.DebounceTime,
		DiagnosticsLevelChanged: c.Diagnostics.Level != next.Diagnostics.Level,
		IndexingEnabledChanged:  c.Indexing.Enabled != next.Indexing.Enabled,
		IndexingBatchSizeChanged: c.Indexing.BatchSize != next.Indexing.BatchSize,
	}
}

// HasChanges reports whether any field the caller must react to changed.
func (d Diff) HasChanges() bool {
	return d.DebounceTimeChanged || d.DiagnosticsLevelChanged || d.IndexingEnabledChanged || d.IndexingBatchSizeChanged
}
