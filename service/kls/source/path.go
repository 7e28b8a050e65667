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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/module"
	"kotlinls/service/kls/symbolindex"
)

// MaxConcurrentPartitions bounds how many module partitions CompileFiles
// compiles at once. Partitions target distinct module compilers, so running
// them concurrently is safe; the cap keeps a single huge multi-module edit
// from spawning one goroutine per module unbounded.
const MaxConcurrentPartitions = 8

type fileEntry struct {
	uri string

	contentMu   sync.RWMutex
	content     string
	version     int
	language    string
	path        string
	isTemporary bool

	parseDataMu    sync.Mutex
	parsed         *ParsedTree
	compiledTree   *ParsedTree
	bindingContext *BindingContext
	moduleID       string
	lastSavedTree  *ParsedTree
}

// Path is SourcePath: a concurrent URI -> file-state map, guarded at the
// map level by a reader-writer lock, with finer per-file locking for
// content and for the {parsed, compiledTree, bindingContext, moduleId}
// tuple so a long compile never blocks a content read on an unrelated
// field of the same file, let alone an unrelated file.
type Path struct {
	mu    sync.RWMutex
	files map[string]*fileEntry

	registry  *module.Registry
	compilers CompilerProvider
	indexSink IndexingSink
	content   ContentProvider

	log *slog.Logger
}

// New builds an empty Path. indexSink and content may be nil: a nil
// indexSink means index deltas are dropped (indexing entirely disabled); a
// nil content provider means sourceFile on an unknown URI fails instead of
// materialising a temporary file.
func New(registry *module.Registry, compilers CompilerProvider, indexSink IndexingSink, content ContentProvider, log *slog.Logger) *Path {
	if log == nil {
		log = slog.Default()
	}
	return &Path{
		files:     make(map[string]*fileEntry),
		registry:  registry,
		compilers: compilers,
		indexSink: indexSink,
		content:   content,
		log:       log,
	}
}

// Put creates or updates the file at uri. content must not contain '\r'.
// Temporary files are never assigned a module; otherwise the module is
// looked up from the registry by the URI's filesystem path.
func (p *Path) Put(uri, content, language string, temporary bool) (*SourceFile, error) {
	if strings.ContainsRune(content, '\r') {
		return nil, fmt.Errorf("source: put %q: content must not contain '\\r'", uri)
	}

	p.mu.Lock()
	e, ok := p.files[uri]
	if !ok {
		e = &fileEntry{uri: uri}
		p.files[uri] = e
	}
	p.mu.Unlock()

	path := klsuri.FileURIToPath(uri)
	moduleID := ""
	if !temporary && p.registry != nil {
		if info, ok := p.registry.FindModuleForFile(path); ok {
			moduleID = info.Name
		}
	}

	e.contentMu.Lock()
	e.content = content
	e.version++
	e.language = language
	e.path = path
	e.isTemporary = temporary
	version := e.version
	e.contentMu.Unlock()

	e.parseDataMu.Lock()
	e.moduleID = moduleID
	e.parseDataMu.Unlock()

	_ = version
	return p.snapshot(e), nil
}

// Delete removes uri, then off-lock notifies the indexing sink with the
// file's last-known declarations as a removal, and asks the owning
// compiler to drop any code generated from the file's last saved tree.
func (p *Path) Delete(ctx context.Context, uri string) (bool, error) {
	p.mu.Lock()
	e, ok := p.files[uri]
	if ok {
		delete(p.files, uri)
	}
	p.mu.Unlock()
	if !ok {
		return false, nil
	}

	e.parseDataMu.Lock()
	moduleID := e.moduleID
	oldTree := e.compiledTree
	savedTree := e.lastSavedTree
	e.parseDataMu.Unlock()

	if p.indexSink != nil {
		p.indexSink.OnFileRemoved(ctx, uri, moduleID, func() []symbolindex.Symbol {
			if oldTree == nil {
				return nil
			}
			return oldTree.Declarations
		})
	}

	if savedTree != nil && p.compilers != nil {
		compiler, err := p.compilers.CompilerForModule(ctx, moduleID)
		if err != nil {
			p.log.Warn("delete: could not resolve compiler to remove generated code", "uri", uri, "error", err)
		} else if err := compiler.RemoveGeneratedCode(ctx, savedTree); err != nil {
			p.log.Warn("delete: failed to remove generated code", "uri", uri, "error", err)
		}
	}

	return true, nil
}

// Content returns the file's current editor-view content.
func (p *Path) Content(uri string) (string, bool) {
	e := p.get(uri)
	if e == nil {
		return "", false
	}
	e.contentMu.RLock()
	defer e.contentMu.RUnlock()
	return e.content, true
}

// ParsedFile returns the file's parsed tree, reparsing lazily if the
// content has changed since the tree was last produced.
func (p *Path) ParsedFile(ctx context.Context, uri string) (*ParsedTree, error) {
	e := p.get(uri)
	if e == nil {
		var err error
		e, err = p.materializeTemporary(ctx, uri)
		if err != nil {
			return nil, err
		}
	}

	e.contentMu.RLock()
	content := e.content
	moduleID := ""
	e.contentMu.RUnlock()

	e.parseDataMu.Lock()
	defer e.parseDataMu.Unlock()
	moduleID = e.moduleID

	if e.parsed != nil && e.parsed.Text == content {
		return e.parsed, nil
	}

	compiler, err := p.compilers.CompilerForModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("source: resolve compiler for parse %q: %w", uri, err)
	}
	tree, err := compiler.Parse(ctx, uri, content)
	if err != nil {
		return nil, fmt.Errorf("source: parse %q: %w", uri, err)
	}
	e.parsed = tree
	return tree, nil
}

// CurrentVersion returns the file's version after ensuring its compiled
// tree reflects the current content (compiling first if it does not).
func (p *Path) CurrentVersion(ctx context.Context, uri string) (int, error) {
	e := p.get(uri)
	if e == nil {
		return 0, fmt.Errorf("source: unknown file %q", uri)
	}

	e.contentMu.RLock()
	content := e.content
	version := e.version
	e.contentMu.RUnlock()

	e.parseDataMu.Lock()
	stale := e.compiledTree == nil || e.compiledTree.Text != content
	e.parseDataMu.Unlock()

	if stale {
		if _, err := p.CompileFiles(ctx, []string{uri}); err != nil {
			return 0, err
		}
	}
	return version, nil
}

// LatestCompiledVersion returns the file's version without triggering a
// compile, even if the compiled tree is stale relative to content.
func (p *Path) LatestCompiledVersion(uri string) (int, bool) {
	e := p.get(uri)
	if e == nil {
		return 0, false
	}
	e.contentMu.RLock()
	defer e.contentMu.RUnlock()
	return e.version, true
}

// CompileFiles compiles uris, partitioned by Kind and then by module, and
// returns a composite BindingContext. A single file's compile failure does
// not abort the rest of the batch; the returned error, if non-nil, is the
// first one encountered.
func (p *Path) CompileFiles(ctx context.Context, uris []string) (*BindingContext, error) {
	entries := make([]*fileEntry, 0, len(uris))
	for _, uri := range uris {
		if e := p.get(uri); e != nil {
			entries = append(entries, e)
		}
	}

	partitions := partitionByKindAndModule(entries)
	composite := &BindingContext{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(MaxConcurrentPartitions)
	for _, part := range partitions {
		part := part
		g.Go(func() error {
			bc, err := p.compilePartition(ctx, part)
			if err != nil {
				return err
			}
			if bc != nil {
				mu.Lock()
				composite.Files = append(composite.Files, bc.Files...)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return composite, err
}

type partition struct {
	kind     Kind
	moduleID string
	entries  []*fileEntry
}

func partitionByKindAndModule(entries []*fileEntry) []partition {
	index := make(map[string]int)
	var parts []partition
	for _, e := range entries {
		e.contentMu.RLock()
		path := e.path
		e.contentMu.RUnlock()
		kind := ClassifyPath(path)

		e.parseDataMu.Lock()
		moduleID := e.moduleID
		e.parseDataMu.Unlock()
		if kind == KindBuildScript {
			moduleID = "" // build scripts always compile with the shared, module-less compiler
		}

		key := fmt.Sprintf("%d:%s", kind, moduleID)
		if i, ok := index[key]; ok {
			parts[i].entries = append(parts[i].entries, e)
			continue
		}
		index[key] = len(parts)
		parts = append(parts, partition{kind: kind, moduleID: moduleID, entries: []*fileEntry{e}})
	}
	return parts
}

func (p *Path) compilePartition(ctx context.Context, part partition) (*BindingContext, error) {
	compiler, err := p.compilers.CompilerForModule(ctx, part.moduleID)
	if err != nil {
		return nil, fmt.Errorf("source: resolve compiler for module %q: %w", part.moduleID, err)
	}

	type oldDecl struct {
		uri   string
		decls []symbolindex.Symbol
	}
	olds := make([]oldDecl, 0, len(part.entries))
	for _, e := range part.entries {
		e.parseDataMu.Lock()
		var old []symbolindex.Symbol
		if e.compiledTree != nil {
			old = e.compiledTree.Declarations
		}
		e.parseDataMu.Unlock()
		olds = append(olds, oldDecl{uri: e.uri, decls: old})
	}

	// Per SPEC_FULL.md §4.F, a partition compiles against the full set of
	// files sharing its module (or all() for the module-less partition),
	// not just the requested/changed entries — a file's binding context
	// must see its sibling files even when only one of them was edited.
	var snapshots []*SourceFile
	if part.moduleID == "" {
		snapshots = p.All()
	} else {
		snapshots = p.AllInModule(part.moduleID)
	}

	bc, err := compiler.Compile(ctx, snapshots)
	if err != nil {
		p.log.Warn("compile failed for partition", "kind", part.kind, "module", part.moduleID, "error", err)
		return nil, err
	}

	for i, e := range part.entries {
		e.contentMu.RLock()
		content := e.content
		e.contentMu.RUnlock()

		e.parseDataMu.Lock()
		var newTree *ParsedTree
		if e.parsed != nil && e.parsed.Text == content {
			newTree = e.parsed
		} else {
			newTree = &ParsedTree{Text: content}
		}
		e.compiledTree = newTree
		e.bindingContext = bc
		moduleID := e.moduleID
		e.parseDataMu.Unlock()

		if p.indexSink != nil {
			old := olds[i].decls
			newDecls := newTree.Declarations
			p.indexSink.OnFileCompiled(ctx, e.uri, moduleID,
				func() []symbolindex.Symbol { return old },
				func() []symbolindex.Symbol { return newDecls })
		}
	}

	return bc, nil
}

// CompileAllFiles compiles every known file, logging and continuing past
// any individual partition's failure.
func (p *Path) CompileAllFiles(ctx context.Context) {
	uris := p.allURIs()
	if _, err := p.CompileFiles(ctx, uris); err != nil {
		p.log.Warn("compileAllFiles: one or more files failed to compile", "error", err)
	}
}

// Save snapshots the file's current compiled tree as its last-saved tree.
func (p *Path) Save(uri string) {
	e := p.get(uri)
	if e == nil {
		return
	}
	e.parseDataMu.Lock()
	e.lastSavedTree = e.compiledTree
	e.parseDataMu.Unlock()
}

// SaveAllFiles calls Save on every known file.
func (p *Path) SaveAllFiles() {
	for _, uri := range p.allURIs() {
		p.Save(uri)
	}
}

// CleanFiles asks each file's compiler to remove code generated from its
// last-saved tree, best-effort, and clears that tree afterward.
func (p *Path) CleanFiles(ctx context.Context, uris []string) {
	for _, uri := range uris {
		e := p.get(uri)
		if e == nil {
			continue
		}
		e.parseDataMu.Lock()
		tree := e.lastSavedTree
		moduleID := e.moduleID
		e.lastSavedTree = nil
		e.parseDataMu.Unlock()

		if tree == nil || p.compilers == nil {
			continue
		}
		compiler, err := p.compilers.CompilerForModule(ctx, moduleID)
		if err != nil {
			p.log.Warn("cleanFiles: could not resolve compiler", "uri", uri, "error", err)
			continue
		}
		if err := compiler.RemoveGeneratedCode(ctx, tree); err != nil {
			p.log.Warn("cleanFiles: failed to remove generated code", "uri", uri, "error", err)
		}
	}
}

// CleanAllFiles calls CleanFiles on every known file.
func (p *Path) CleanAllFiles(ctx context.Context) {
	p.CleanFiles(ctx, p.allURIs())
}

// RefreshModuleAssignments recomputes every non-temporary file's module
// assignment from the current registry state.
func (p *Path) RefreshModuleAssignments() {
	p.mu.RLock()
	entries := make([]*fileEntry, 0, len(p.files))
	for _, e := range p.files {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	for _, e := range entries {
		e.contentMu.RLock()
		path := e.path
		temporary := e.isTemporary
		e.contentMu.RUnlock()
		if temporary {
			continue
		}

		moduleID := ""
		if p.registry != nil {
			if info, ok := p.registry.FindModuleForFile(path); ok {
				moduleID = info.Name
			}
		}
		e.parseDataMu.Lock()
		e.moduleID = moduleID
		e.parseDataMu.Unlock()
	}
}

// Refresh recomputes module assignments and recompiles everything.
func (p *Path) Refresh(ctx context.Context) {
	p.RefreshModuleAssignments()
	p.CompileAllFiles(ctx)
}

// All returns a snapshot of every known file.
func (p *Path) All() []*SourceFile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*SourceFile, 0, len(p.files))
	for _, e := range p.files {
		out = append(out, p.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// AllInModule returns every known file currently assigned to moduleID.
func (p *Path) AllInModule(moduleID string) []*SourceFile {
	var out []*SourceFile
	for _, f := range p.All() {
		if f.ModuleID == moduleID {
			out = append(out, f)
		}
	}
	return out
}

func (p *Path) get(uri string) *fileEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.files[uri]
}

func (p *Path) allURIs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.files))
	for uri := range p.files {
		out = append(out, uri)
	}
	return out
}

// materializeTemporary creates a temporary SourceFile for an unknown URI by
// fetching its content through the configured ContentProvider. The map
// lock is released during the I/O wait; the map is checked again on
// reacquisition in case another goroutine materialised the same URI first.
func (p *Path) materializeTemporary(ctx context.Context, uri string) (*fileEntry, error) {
	if p.content == nil {
		return nil, fmt.Errorf("source: unknown file %q and no content provider configured", uri)
	}
	content, err := p.content.Content(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("source: fetch temporary content for %q: %w", uri, err)
	}

	p.mu.Lock()
	if e, ok := p.files[uri]; ok {
		p.mu.Unlock()
		return e, nil
	}
	e := &fileEntry{uri: uri, content: content, version: 1, path: klsuri.FileURIToPath(uri), isTemporary: true}
	p.files[uri] = e
	p.mu.Unlock()
	return e, nil
}

func (p *Path) snapshot(e *fileEntry) *SourceFile {
	e.contentMu.RLock()
	sf := &SourceFile{
		URI:         e.uri,
		Content:     e.content,
		Version:     e.version,
		Path:        e.path,
		Language:    e.language,
		IsTemporary: e.isTemporary,
		Kind:        ClassifyPath(e.path),
	}
	e.contentMu.RUnlock()

	e.parseDataMu.Lock()
	sf.ModuleID = e.moduleID
	sf.Parsed = e.parsed
	sf.CompiledTree = e.compiledTree
	sf.BindingContext = e.bindingContext
	e.parseDataMu.Unlock()

	return sf
}
