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
	"testing"

	"kotlinls/service/kls/db"
	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/module"
	"kotlinls/service/kls/protocol"
	"kotlinls/service/kls/symbolindex"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *symbolindex.Index {
	t.Helper()
	svc, err := db.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return symbolindex.New(svc, nil)
}

func insertSymbol(t *testing.T, idx *symbolindex.Index, sym symbolindex.Symbol) {
	t.Helper()
	require.NoError(t, idx.ApplyFileDelta(context.Background(), sym.ModuleID, nil, []symbolindex.Symbol{sym}))
}

type fakeImportResolver struct {
	fqName string
	ok     bool
}

func (f *fakeImportResolver) ResolveImportAt(ctx context.Context, uri string, pos protocol.Position) (string, bool, error) {
	return f.fqName, f.ok, nil
}

type fakeRefResolver struct {
	handle DeclarationHandle
	ok     bool
}

func (f *fakeRefResolver) ResolveReferenceAt(ctx context.Context, uri string, pos protocol.Position) (DeclarationHandle, bool, error) {
	return f.handle, f.ok, nil
}

type fakeTextSearcher struct {
	loc protocol.Location
	ok  bool
}

func (f *fakeTextSearcher) SearchModule(ctx context.Context, moduleID, fqName string) (protocol.Location, bool, error) {
	return f.loc, f.ok, nil
}

type fakeDecompiler struct {
	uri klsuri.KlsURI
	ok  bool
}

func (f *fakeDecompiler) Decompile(ctx context.Context, fqName, archivePath string) (klsuri.KlsURI, bool, error) {
	return f.uri, f.ok, nil
}

func TestGoToDefinitionOnImportResolvesViaWorkspaceIndex(t *testing.T) {
	idx := newTestIndex(t)
	insertSymbol(t, idx, symbolindex.Symbol{
		FQName: "com.example.Foo", ShortName: "Foo", Kind: symbolindex.KindClass, Visibility: symbolindex.VisibilityPublic,
		Location: &protocol.Location{URI: "file:///ws/src/Foo.kt", Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 6}, End: protocol.Position{Line: 0, Character: 9},
		}},
	})

	orch := New(idx, module.New(), klsuri.ArchiveRoots{}, func() []string { return []string{"/ws"} },
		&fakeImportResolver{fqName: "com.example.Foo", ok: true}, nil, nil, nil, nil)

	locs, err := orch.GoToDefinition(context.Background(), "file:///ws/src/Main.kt", protocol.Position{})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "file:///ws/src/Foo.kt", locs[0].URI)
}

func TestGoToDefinitionReturnsConcreteWorkspaceLocationDirectly(t *testing.T) {
	handle := DeclarationHandle{
		FQName: "com.example.Bar",
		Location: &protocol.Location{URI: "file:///ws/src/Bar.kt", Range: protocol.Range{
			Start: protocol.Position{Line: 1, Character: 0}, End: protocol.Position{Line: 1, Character: 3},
		}},
	}
	orch := New(nil, nil, klsuri.ArchiveRoots{}, func() []string { return []string{"/ws"} },
		nil, &fakeRefResolver{handle: handle, ok: true}, nil, nil, nil)

	locs, err := orch.GoToDefinition(context.Background(), "file:///ws/src/Main.kt", protocol.Position{})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "file:///ws/src/Bar.kt", locs[0].URI)
}

func TestGoToDefinitionFallsBackToArchiveWhenLocationOutsideWorkspace(t *testing.T) {
	handle := DeclarationHandle{
		FQName:   "java.lang.String",
		Location: &protocol.Location{URI: "file:///usr/lib/jvm/jdk/src.zip!/java/lang/String.java"},
	}
	roots := klsuri.ArchiveRoots{JDKHome: "/usr/lib/jvm/jdk"}
	decompiled := klsuri.KlsURI{ArchivePath: "/usr/lib/jvm/jdk/src.zip", EntryPath: "java/lang/String.java", FQName: "java.lang.String"}

	orch := New(nil, nil, roots, func() []string { return []string{"/ws"} },
		nil, &fakeRefResolver{handle: handle, ok: true}, nil, &fakeDecompiler{uri: decompiled, ok: true}, nil)

	locs, err := orch.GoToDefinition(context.Background(), "file:///ws/src/Main.kt", protocol.Position{})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, decompiled.String(), locs[0].URI)
}

func TestGoToDefinitionFallsBackToTextSearchBeforeDecompile(t *testing.T) {
	reg := module.New()
	reg.Set([]module.Info{{Name: "app", RootPath: "/ws/app", SourceDirs: []string{"/ws/app/src"}}})

	handle := DeclarationHandle{FQName: "app.Widget", Location: nil}
	textLoc := protocol.Location{URI: "file:///ws/app/src/Widget.kt"}

	orch := New(nil, reg, klsuri.ArchiveRoots{}, func() []string { return []string{"/ws"} },
		nil, &fakeRefResolver{handle: handle, ok: true}, &fakeTextSearcher{loc: textLoc, ok: true}, &fakeDecompiler{ok: true}, nil)

	locs, err := orch.GoToDefinition(context.Background(), "file:///ws/app/src/Main.kt", protocol.Position{})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "file:///ws/app/src/Widget.kt", locs[0].URI)
}

func TestGoToDefinitionNoResolversReturnsNil(t *testing.T) {
	orch := New(nil, nil, klsuri.ArchiveRoots{}, nil, nil, nil, nil, nil, nil)
	locs, err := orch.GoToDefinition(context.Background(), "file:///a.kt", protocol.Position{})
	require.NoError(t, err)
	require.Nil(t, locs)
}

func TestGoToDefinitionUnresolvedReferenceReturnsNil(t *testing.T) {
	orch := New(nil, nil, klsuri.ArchiveRoots{}, nil, nil, &fakeRefResolver{ok: false}, nil, nil, nil)
	locs, err := orch.GoToDefinition(context.Background(), "file:///a.kt", protocol.Position{})
	require.NoError(t, err)
	require.Nil(t, locs)
}
