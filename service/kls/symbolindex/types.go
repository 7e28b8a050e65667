// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package symbolindex

import "kotlinls/service/kls/protocol"

// Kind classifies a persisted declaration.
type Kind string

const (
	KindClass    Kind = "CLASS"
	KindFunction Kind = "FUNCTION"
	KindVariable Kind = "VARIABLE"
	KindProperty Kind = "PROPERTY"
	KindObject   Kind = "OBJECT"
	KindTypeAlias Kind = "TYPEALIAS"
)

// Visibility mirrors JVM-language declaration visibility.
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityProtected Visibility = "PROTECTED"
	VisibilityInternal  Visibility = "INTERNAL"
	VisibilityPrivate   Visibility = "PRIVATE"
)

// Symbol is a single persisted declaration. Field-length constraints mirror
// the storage column widths and are enforced by the validator's Struct check
// before any insert.
type Symbol struct {
	ID                    int64      `validate:"-"`
	FQName                string     `validate:"required,max=255"`
	ShortName             string     `validate:"required,max=80"`
	Kind                  Kind       `validate:"required"`
	Visibility            Visibility `validate:"required"`
	ExtensionReceiverType string     `validate:"omitempty,max=255"`
	Location              *protocol.Location
	SourceJar             string `validate:"omitempty"`
	// ModuleID is empty for dependency symbols, which are visible from every
	// module; non-empty ModuleID scopes visibility to that module plus the
	// dependency symbols.
	ModuleID string `validate:"omitempty,max=120"`
}

// clone returns a defensive deep copy of the symbol.
func (s Symbol) clone() Symbol {
	c := s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	return c
}

// Metadata describes the last completed full refresh of the index.
type Metadata struct {
	BuildFileVersion int64
	IndexedAtMillis  int64
	SymbolCount      int
}

// JarMetadata records the last time a single jar was incrementally indexed.
type JarMetadata struct {
	JarPath     string
	IndexedAtMillis int64
	SymbolCount int
}

// Stats is a point-in-time snapshot of index size and health.
type Stats struct {
	SymbolCount int
	IsIndexing  bool
	Metadata    Metadata
}
