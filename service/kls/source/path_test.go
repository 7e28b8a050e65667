// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"sync"
	"testing"

	"kotlinls/service/kls/module"
	"kotlinls/service/kls/symbolindex"

	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	parse   func(ctx context.Context, uri, content string) (*ParsedTree, error)
	compile func(ctx context.Context, files []*SourceFile) (*BindingContext, error)
	remove  func(ctx context.Context, tree *ParsedTree) error
}

func (c *fakeCompiler) Parse(ctx context.Context, uri, content string) (*ParsedTree, error) {
	if c.parse != nil {
		return c.parse(ctx, uri, content)
	}
	return &ParsedTree{Text: content}, nil
}

func (c *fakeCompiler) Compile(ctx context.Context, files []*SourceFile) (*BindingContext, error) {
	if c.compile != nil {
		return c.compile(ctx, files)
	}
	bc := &BindingContext{}
	for _, f := range files {
		bc.Files = append(bc.Files, f.URI)
	}
	return bc, nil
}

func (c *fakeCompiler) RemoveGeneratedCode(ctx context.Context, tree *ParsedTree) error {
	if c.remove != nil {
		return c.remove(ctx, tree)
	}
	return nil
}

type fakeCompilerProvider struct {
	compiler Compiler
}

func (p *fakeCompilerProvider) CompilerForModule(ctx context.Context, moduleID string) (Compiler, error) {
	return p.compiler, nil
}

type fakeContentProvider struct {
	content map[string]string
}

func (p *fakeContentProvider) Content(ctx context.Context, uri string) (string, error) {
	return p.content[uri], nil
}

type deltaCall struct {
	uri, moduleID string
	old, new      []symbolindex.Symbol
}

type fakeSink struct {
	mu       sync.Mutex
	compiled []deltaCall
	removed  []deltaCall
}

func (s *fakeSink) OnFileCompiled(ctx context.Context, uri, moduleID string, oldDecls, newDecls func() []symbolindex.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiled = append(s.compiled, deltaCall{uri: uri, moduleID: moduleID, old: oldDecls(), new: newDecls()})
}

func (s *fakeSink) OnFileRemoved(ctx context.Context, uri, moduleID string, oldDecls func() []symbolindex.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, deltaCall{uri: uri, moduleID: moduleID, old: oldDecls()})
}

func newTestPath(compiler Compiler, sink IndexingSink, reg *module.Registry) *Path {
	if reg == nil {
		reg = module.New()
	}
	return New(reg, &fakeCompilerProvider{compiler: compiler}, sink, nil, nil)
}

func TestPutThenContentAndParsedFileMatch(t *testing.T) {
	p := newTestPath(&fakeCompiler{}, nil, nil)
	sf, err := p.Put("file:///a.kt", "class Foo", "kotlin", false)
	require.NoError(t, err)
	require.Equal(t, "class Foo", sf.Content)

	content, ok := p.Content("file:///a.kt")
	require.True(t, ok)
	require.Equal(t, "class Foo", content)

	tree, err := p.ParsedFile(context.Background(), "file:///a.kt")
	require.NoError(t, err)
	require.Equal(t, "class Foo", tree.Text)
}

func TestPutRejectsCarriageReturn(t *testing.T) {
	p := newTestPath(&fakeCompiler{}, nil, nil)
	_, err := p.Put("file:///a.kt", "class Foo\r\n", "kotlin", false)
	require.Error(t, err)
}

func TestConcurrentPutsAllPresentInAll(t *testing.T) {
	p := newTestPath(&fakeCompiler{}, nil, nil)
	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			uri := "file:///f" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".kt"
			_, err := p.Put(uri, "x", "kotlin", false)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, p.All(), n)
}

func TestDeleteEmitsRemovalDeltaAndRemovesGeneratedCode(t *testing.T) {
	removeCalled := false
	compiler := &fakeCompiler{
		compile: func(ctx context.Context, files []*SourceFile) (*BindingContext, error) {
			return &BindingContext{}, nil
		},
		remove: func(ctx context.Context, tree *ParsedTree) error {
			removeCalled = true
			return nil
		},
	}
	sink := &fakeSink{}
	p := newTestPath(compiler, sink, nil)

	p.Put("file:///a.kt", "class Foo", "kotlin", false)
	// Compile first so Save has a compiled tree to snapshot; Delete only
	// removes generated code for a file with a lastSavedTree.
	_, err := p.CompileFiles(context.Background(), []string{"file:///a.kt"})
	require.NoError(t, err)
	p.Save("file:///a.kt")

	ok, err := p.Delete(context.Background(), "file:///a.kt")
	require.NoError(t, err)
	require.True(t, ok)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.removed, 1)
	require.True(t, removeCalled)

	_, ok = p.Content("file:///a.kt")
	require.False(t, ok)
}

func TestDeleteUnknownURIReturnsFalse(t *testing.T) {
	p := newTestPath(&fakeCompiler{}, nil, nil)
	ok, err := p.Delete(context.Background(), "file:///missing.kt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileFilesEmitsIndexDeltaPerFile(t *testing.T) {
	compiler := &fakeCompiler{
		parse: func(ctx context.Context, uri, content string) (*ParsedTree, error) {
			return &ParsedTree{Text: content, Declarations: []symbolindex.Symbol{
				{FQName: "pkg.Foo", ShortName: "Foo", Kind: symbolindex.KindClass, Visibility: symbolindex.VisibilityPublic},
			}}, nil
		},
	}
	sink := &fakeSink{}
	p := newTestPath(compiler, sink, nil)

	p.Put("file:///a.kt", "class Foo", "kotlin", false)
	_, err := p.ParsedFile(context.Background(), "file:///a.kt") // populate e.parsed with declarations
	require.NoError(t, err)

	_, err = p.CompileFiles(context.Background(), []string{"file:///a.kt"})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.compiled, 1)
	require.Equal(t, "file:///a.kt", sink.compiled[0].uri)
	require.Len(t, sink.compiled[0].new, 1)
	require.Equal(t, "pkg.Foo", sink.compiled[0].new[0].FQName)
}

func TestModuleAssignmentFromRegistry(t *testing.T) {
	reg := module.New()
	reg.Set([]module.Info{{Name: "app", RootPath: "/ws/app", SourceDirs: []string{"/ws/app/src"}}})

	p := newTestPath(&fakeCompiler{}, nil, reg)
	sf, err := p.Put("file:///ws/app/src/Main.kt", "fun main() {}", "kotlin", false)
	require.NoError(t, err)
	require.Equal(t, "app", sf.ModuleID)
}

func TestTemporaryFilesHaveNoModule(t *testing.T) {
	reg := module.New()
	reg.Set([]module.Info{{Name: "app", RootPath: "/ws/app", SourceDirs: []string{"/ws/app/src"}}})

	p := newTestPath(&fakeCompiler{}, nil, reg)
	sf, err := p.Put("file:///ws/app/src/Main.kt", "fun main() {}", "kotlin", true)
	require.NoError(t, err)
	require.Empty(t, sf.ModuleID)
	require.True(t, sf.IsTemporary)
}

func TestMaterializeTemporaryFromContentProvider(t *testing.T) {
	reg := module.New()
	provider := &fakeContentProvider{content: map[string]string{"file:///lib.kt": "class Lib"}}
	p := New(reg, &fakeCompilerProvider{compiler: &fakeCompiler{}}, nil, provider, nil)

	tree, err := p.ParsedFile(context.Background(), "file:///lib.kt")
	require.NoError(t, err)
	require.Equal(t, "class Lib", tree.Text)

	content, ok := p.Content("file:///lib.kt")
	require.True(t, ok)
	require.Equal(t, "class Lib", content)
}

func TestAllInModuleFiltersByModule(t *testing.T) {
	reg := module.New()
	reg.Set([]module.Info{
		{Name: "app", RootPath: "/ws/app", SourceDirs: []string{"/ws/app/src"}},
		{Name: "lib", RootPath: "/ws/lib", SourceDirs: []string{"/ws/lib/src"}},
	})
	p := newTestPath(&fakeCompiler{}, nil, reg)
	p.Put("file:///ws/app/src/A.kt", "a", "kotlin", false)
	p.Put("file:///ws/lib/src/B.kt", "b", "kotlin", false)

	appFiles := p.AllInModule("app")
	require.Len(t, appFiles, 1)
	require.Equal(t, "file:///ws/app/src/A.kt", appFiles[0].URI)
}

func TestOpenFilesTracksVersionsAndClose(t *testing.T) {
	of := NewOpenFiles()
	of.Open("file:///a.kt", 1)
	require.True(t, of.IsOpen("file:///a.kt"))

	of.UpdateVersion("file:///a.kt", 2)
	v, ok := of.Version("file:///a.kt")
	require.True(t, ok)
	require.Equal(t, 2, v)

	require.True(t, of.Close("file:///a.kt"))
	require.False(t, of.IsOpen("file:///a.kt"))
	require.False(t, of.Close("file:///a.kt"))
}
