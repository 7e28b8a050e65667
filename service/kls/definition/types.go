// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package definition orchestrates goto-definition: import-directive
// resolution, reference-expression resolution against a compiled binding
// context, and an archive fallback chain (workspace symbol index, per-module
// text search, decompile) when the declaration does not live in an editable
// workspace file.
package definition

import (
	"context"

	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/protocol"
)

// DeclarationHandle is what a reference resolves to before the orchestrator
// decides how to turn it into an editor-navigable location.
type DeclarationHandle struct {
	FQName   string
	Location *protocol.Location // nil when the compiler could not resolve a concrete location
}

// ImportResolver answers whether the cursor sits inside an import directive
// and, if so, which fully-qualified name it names. Implemented by whatever
// understands the file's lexical structure; this package only consumes it.
type ImportResolver interface {
	ResolveImportAt(ctx context.Context, uri string, pos protocol.Position) (fqName string, ok bool, err error)
}

// ReferenceResolver resolves the reference expression under the cursor to a
// declaration handle via the file's compiled binding context.
type ReferenceResolver interface {
	ResolveReferenceAt(ctx context.Context, uri string, pos protocol.Position) (DeclarationHandle, bool, error)
}

// TextSearcher performs the per-module source-directory text-search
// fallback: parse candidate files with the Compiler façade, descend the
// declaration path, and return the name-identifier range of the first match.
type TextSearcher interface {
	SearchModule(ctx context.Context, moduleID, fqName string) (protocol.Location, bool, error)
}

// Decompiler produces a kls: URI addressing a declaration's decompiled
// source when no workspace-resident location can be found for it.
type Decompiler interface {
	Decompile(ctx context.Context, fqName, archivePath string) (klsuri.KlsURI, bool, error)
}
