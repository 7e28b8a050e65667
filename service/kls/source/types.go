// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source owns the live, per-file compilation state of every file
// the workspace knows about: its editor content, its parsed and compiled
// trees, and the declarations it contributes to the symbol index. It is
// the seam between editor events and the opaque Compiler façade.
package source

import (
	"context"
	"strings"

	"kotlinls/service/kls/symbolindex"
)

// Kind classifies a file for compilation partitioning.
type Kind int

const (
	KindDefault Kind = iota
	KindBuildScript
)

var buildScriptSuffixes = []string{"build.gradle.kts", "build.gradle", "pom.xml", "settings.gradle.kts", "settings.gradle"}

// ClassifyPath returns KindBuildScript for a recognised build script file
// name, KindDefault otherwise.
func ClassifyPath(path string) Kind {
	for _, suffix := range buildScriptSuffixes {
		if strings.HasSuffix(path, suffix) {
			return KindBuildScript
		}
	}
	return KindDefault
}

// ParsedTree is the opaque syntax tree produced by the Compiler façade,
// carrying enough surface (the source text it was parsed from, and its
// top-level declarations) for SourcePath to detect staleness and compute
// index deltas without understanding the tree's internal shape.
type ParsedTree struct {
	Text         string
	Declarations []symbolindex.Symbol
}

// BindingContext is the opaque result of a compile; SourcePath treats it as
// a value to store and hand back, never to inspect.
type BindingContext struct {
	Files []string
}

// Compiler is the façade this package compiles against. It is intentionally
// narrow: parsing, compiling, and generated-code lifecycle only.
type Compiler interface {
	Parse(ctx context.Context, uri, content string) (*ParsedTree, error)
	Compile(ctx context.Context, files []*SourceFile) (*BindingContext, error)
	RemoveGeneratedCode(ctx context.Context, tree *ParsedTree) error
}

// CompilerProvider resolves the Compiler that should compile a given
// module (or the shared compiler when moduleID is empty).
type CompilerProvider interface {
	CompilerForModule(ctx context.Context, moduleID string) (Compiler, error)
}

// ContentProvider fetches file content on demand for URIs SourcePath does
// not yet track, used to materialise temporary files.
type ContentProvider interface {
	Content(ctx context.Context, uri string) (string, error)
}

// IndexingSink receives lazily-computed declaration deltas as files are
// compiled or removed. Both decl closures are only ever invoked by an
// implementation that has decided indexing is enabled — an implementation
// that skips calling them costs SourcePath nothing beyond the closure
// allocation itself.
type IndexingSink interface {
	OnFileCompiled(ctx context.Context, uri, moduleID string, oldDecls, newDecls func() []symbolindex.Symbol)
	OnFileRemoved(ctx context.Context, uri, moduleID string, oldDecls func() []symbolindex.Symbol)
}

// SourceFile is a defensive, read-only snapshot of one file's state,
// returned to callers outside the package. Mutating it has no effect on
// the underlying entry.
type SourceFile struct {
	URI            string
	Content        string
	Version        int
	Path           string
	Language       string
	IsTemporary    bool
	ModuleID       string
	Parsed         *ParsedTree
	CompiledTree   *ParsedTree
	BindingContext *BindingContext
	Kind           Kind
}
