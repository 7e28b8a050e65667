// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks the shape of inputs that cross a trust boundary
// before they reach a file-system lookup or a symbol-store write.
//
// ValidateURI guards the document URI an editor sends over the wire
// (cmd/kls's textDocument/definition handler) before it becomes a cache key
// or reaches definition.Orchestrator. ValidateFQName and ValidateModuleID guard
// fields on symbolindex.Symbol that the go-playground/validator struct tags
// can check for length but not for character-set or path-traversal shape.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// fqNamePattern matches fully-qualified declaration names: dot-separated
// identifiers. An extension function's receiver type is tracked separately
// (symbolindex.Symbol.ExtensionReceiverType), not folded into this name.
var fqNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// moduleIDPattern matches module identifiers used to scope symbol visibility.
var moduleIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-:]{1,120}$`)

// ValidateURI validates an editor-supplied document URI.
//
// Valid URIs:
//   - Parse as an absolute URL (file://, kls://, jar://)
//   - Do not contain ".." path-traversal segments once decoded
//
// Returns an error if the URI is malformed or attempts to escape its root.
func ValidateURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("uri cannot be empty")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("uri %q missing scheme", uri)
	}
	for _, seg := range strings.Split(parsed.Path, "/") {
		if seg == ".." {
			return fmt.Errorf("uri %q contains a path-traversal segment", uri)
		}
	}
	return nil
}

// ValidateFQName validates a fully-qualified symbol name before it is
// persisted to the symbol index. Mirrors the 255-character storage cap.
func ValidateFQName(name string) error {
	if name == "" {
		return fmt.Errorf("fully-qualified name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("fully-qualified name %q exceeds 255 characters", name)
	}
	if !fqNamePattern.MatchString(name) {
		return fmt.Errorf("invalid fully-qualified name format: %q", name)
	}
	return nil
}

// ValidateModuleID validates a module identifier used to scope a query.
func ValidateModuleID(moduleID string) error {
	if moduleID == "" {
		return nil // dependency-scope symbols use an empty/null module id
	}
	if !moduleIDPattern.MatchString(moduleID) {
		return fmt.Errorf("invalid module id format: %q", moduleID)
	}
	return nil
}

// SanitizeShortName trims and validates a symbol's short (unqualified) name.
// Returns the trimmed name if valid, or an error if invalid.
func SanitizeShortName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("short name cannot be empty")
	}
	if len(trimmed) > 80 {
		return "", fmt.Errorf("short name %q exceeds 80 characters", trimmed)
	}
	return trimmed, nil
}
