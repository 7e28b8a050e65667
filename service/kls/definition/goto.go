// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package definition

import (
	"context"
	"log/slog"

	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/module"
	"kotlinls/service/kls/protocol"
	"kotlinls/service/kls/symbolindex"
)

// Orchestrator implements the goto-definition operation described by
// SPEC_FULL.md §4.L: import resolution, reference resolution, and the
// archive fallback chain.
type Orchestrator struct {
	index          *symbolindex.Index
	modules        *module.Registry
	archiveRoots   klsuri.ArchiveRoots
	workspaceRoots func() []string

	imports    ImportResolver
	refs       ReferenceResolver
	textSearch TextSearcher
	decompiler Decompiler

	log *slog.Logger
}

// New builds an Orchestrator. imports/refs/textSearch/decompiler may be nil,
// in which case the corresponding step of the fallback chain is skipped
// rather than erroring — a partially-wired compiler backend still gets the
// steps it can support.
func New(
	index *symbolindex.Index,
	modules *module.Registry,
	archiveRoots klsuri.ArchiveRoots,
	workspaceRoots func() []string,
	imports ImportResolver,
	refs ReferenceResolver,
	textSearch TextSearcher,
	decompiler Decompiler,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if workspaceRoots == nil {
		workspaceRoots = func() []string { return nil }
	}
	return &Orchestrator{
		index: index, modules: modules, archiveRoots: archiveRoots, workspaceRoots: workspaceRoots,
		imports: imports, refs: refs, textSearch: textSearch, decompiler: decompiler, log: log,
	}
}

// GoToDefinition resolves the declaration referenced at pos in uri, per the
// orchestration order in the package doc.
func (o *Orchestrator) GoToDefinition(ctx context.Context, uri string, pos protocol.Position) ([]protocol.Location, error) {
	moduleID := o.moduleIDFor(uri)

	if o.imports != nil {
		if fqName, ok, err := o.imports.ResolveImportAt(ctx, uri, pos); err != nil {
			return nil, err
		} else if ok {
			return o.resolveImportedName(ctx, fqName, moduleID)
		}
	}

	if o.refs == nil {
		return nil, nil
	}
	handle, ok, err := o.refs.ResolveReferenceAt(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if loc := o.concreteWorkspaceLocation(handle.Location); loc != nil {
		return []protocol.Location{*loc}, nil
	}

	return o.archiveFallback(ctx, handle.FQName, moduleID)
}

// resolveImportedName looks the name up workspace-wide first, then narrowed
// to the requesting file's module scope, per SPEC_FULL.md §4.L step (1).
func (o *Orchestrator) resolveImportedName(ctx context.Context, fqName, moduleID string) ([]protocol.Location, error) {
	if o.index == nil {
		return nil, nil
	}
	sym, ok, err := o.index.FindByFQName(ctx, fqName, "")
	if err != nil {
		return nil, err
	}
	if !ok && moduleID != "" {
		sym, ok, err = o.index.FindByFQName(ctx, fqName, moduleID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, nil
	}
	if loc := o.concreteWorkspaceLocation(sym.Location); loc != nil {
		return []protocol.Location{*loc}, nil
	}
	return o.archiveFallback(ctx, fqName, moduleID)
}

// concreteWorkspaceLocation returns loc unchanged when it is non-nil and
// resolves to an editable workspace file, or nil when it should instead go
// through the archive fallback chain.
func (o *Orchestrator) concreteWorkspaceLocation(loc *protocol.Location) *protocol.Location {
	if loc == nil {
		return nil
	}
	path := klsuri.FileURIToPath(loc.URI)
	if o.archiveRoots.IsArchivePath(path, o.workspaceRoots()) {
		return nil
	}
	return loc
}

// archiveFallback runs SPEC_FULL.md §4.L step (4)'s ordered fallback chain:
// workspace symbol index, per-module text search, decompile.
func (o *Orchestrator) archiveFallback(ctx context.Context, fqName, moduleID string) ([]protocol.Location, error) {
	if fqName == "" {
		return nil, nil
	}

	if o.index != nil {
		if sym, ok, err := o.index.FindByFQName(ctx, fqName, moduleID); err != nil {
			return nil, err
		} else if ok {
			if loc := o.concreteWorkspaceLocation(sym.Location); loc != nil {
				return []protocol.Location{*loc}, nil
			}
		}
	}

	if o.textSearch != nil && moduleID != "" {
		if loc, ok, err := o.textSearch.SearchModule(ctx, moduleID, fqName); err != nil {
			return nil, err
		} else if ok {
			return []protocol.Location{loc}, nil
		}
	}

	if o.decompiler != nil {
		archivePath := o.archivePathFor(ctx, fqName)
		if uri, ok, err := o.decompiler.Decompile(ctx, fqName, archivePath); err != nil {
			return nil, err
		} else if ok {
			return []protocol.Location{{URI: uri.String()}}, nil
		}
	}

	return nil, nil
}

// archivePathFor looks up the indexed symbol's recorded source jar, if any,
// so the decompiler knows which archive to open.
func (o *Orchestrator) archivePathFor(ctx context.Context, fqName string) string {
	if o.index == nil {
		return ""
	}
	sym, ok, err := o.index.FindByFQName(ctx, fqName, "")
	if err != nil || !ok {
		return ""
	}
	return sym.SourceJar
}

func (o *Orchestrator) moduleIDFor(uri string) string {
	if o.modules == nil {
		return ""
	}
	info, ok := o.modules.FindModuleForFile(klsuri.FileURIToPath(uri))
	if !ok {
		return ""
	}
	return info.Name
}
