// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kotlinls/service/kls/module"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxModuleCompilers bounds the per-module Compiler cache. Exceeding it
// evicts the least-recently-used module's Compiler, closing it.
const MaxModuleCompilers = 5

// CompilerClassPath holds the workspace roots, resolved classpath, and
// output directory behind one reader-writer lock, and owns the background
// resolution state machine plus the per-module Compiler LRU.
type CompilerClassPath struct {
	pathMu sync.RWMutex
	workspaceRoots       []string
	buildScriptClassPath []string
	classPath            []Entry
	sourceClassPath      []string
	outputDirectory      string
	registry             *module.Registry

	stateMu       sync.Mutex
	state         State
	resolveCancel context.CancelFunc
	resolveDone   chan struct{}

	resolverCache *resolverCache
	resolver      ClassPathResolver
	factory       CompilerFactory
	onReady       func(Diff)

	sharedMu       sync.Mutex
	sharedCompiler Compiler

	compilers *lru.Cache[string, Compiler]

	watcher *fsnotify.Watcher
	log     *slog.Logger

	closeOnce sync.Once
}

// New builds a CompilerClassPath in state PENDING with an empty registry.
// outputDirectory is not created here; Close removes it.
func New(resolver ClassPathResolver, factory CompilerFactory, outputDirectory string, log *slog.Logger) (*CompilerClassPath, error) {
	if log == nil {
		log = slog.Default()
	}

	cp := &CompilerClassPath{
		state:           Pending,
		resolverCache:   newResolverCache(),
		resolver:        resolver,
		factory:         factory,
		outputDirectory: outputDirectory,
		registry:        module.New(),
		log:             log,
	}

	onEvict := func(moduleID string, compiler Compiler) {
		if err := compiler.Close(); err != nil {
			log.Warn("error closing evicted module compiler", "module", moduleID, "error", err)
		}
	}
	compilers, err := lru.NewWithEvict(MaxModuleCompilers, onEvict)
	if err != nil {
		return nil, fmt.Errorf("classpath: build module compiler cache: %w", err)
	}
	cp.compilers = compilers

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("build-file watcher unavailable, changedOnDisk must be called explicitly", "error", err)
	} else {
		cp.watcher = watcher
		go cp.watchLoop()
	}

	return cp, nil
}

// OnReady registers the callback invoked exactly once per PENDING/RESOLVING
// -> READY transition, with the classpath diff that produced it.
func (cp *CompilerClassPath) OnReady(fn func(Diff)) {
	cp.stateMu.Lock()
	cp.onReady = fn
	cp.stateMu.Unlock()
}

// State returns the current resolution state.
func (cp *CompilerClassPath) State() State {
	cp.stateMu.Lock()
	defer cp.stateMu.Unlock()
	return cp.state
}

// ClassPath returns a defensive copy of the current resolved classpath.
func (cp *CompilerClassPath) ClassPath() []Entry {
	cp.pathMu.RLock()
	defer cp.pathMu.RUnlock()
	out := make([]Entry, len(cp.classPath))
	copy(out, cp.classPath)
	return out
}

// ModuleRegistry exposes the current module registry.
func (cp *CompilerClassPath) ModuleRegistry() *module.Registry { return cp.registry }

// WorkspaceRoots returns a defensive copy of the registered workspace roots,
// for callers (e.g. the goto-definition orchestrator) that need to classify
// a path as in-workspace versus archive-backed.
func (cp *CompilerClassPath) WorkspaceRoots() []string {
	cp.pathMu.RLock()
	defer cp.pathMu.RUnlock()
	out := make([]string, len(cp.workspaceRoots))
	copy(out, cp.workspaceRoots)
	return out
}

// AddWorkspaceRoot registers root and schedules a background resolution.
// It returns as soon as the RESOLVING transition and the goroutine launch
// are complete, never blocking on the resolution itself.
func (cp *CompilerClassPath) AddWorkspaceRoot(root string) error {
	cp.pathMu.Lock()
	for _, r := range cp.workspaceRoots {
		if r == root {
			cp.pathMu.Unlock()
			return nil
		}
	}
	cp.workspaceRoots = append(cp.workspaceRoots, root)
	roots := append([]string(nil), cp.workspaceRoots...)
	cp.pathMu.Unlock()

	if cp.watcher != nil {
		if err := cp.watcher.Add(root); err != nil {
			cp.log.Warn("failed to watch workspace root", "root", root, "error", err)
		}
	}

	cp.startBackgroundResolution(roots[0])
	return nil
}

// ChangedOnDisk reacts to an on-disk build script change: it triggers the
// same RESOLVING transition as AddWorkspaceRoot.
func (cp *CompilerClassPath) ChangedOnDisk(buildScriptPath string) error {
	cp.pathMu.RLock()
	roots := append([]string(nil), cp.workspaceRoots...)
	cp.pathMu.RUnlock()

	root := buildScriptPath
	if len(roots) > 0 {
		root = roots[0]
	}
	cp.resolverCache.invalidate()
	cp.startBackgroundResolution(root)
	return nil
}

func (cp *CompilerClassPath) watchLoop() {
	for {
		select {
		case event, ok := <-cp.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				switch filepath.Base(event.Name) {
				case "build.gradle", "build.gradle.kts", "pom.xml", "settings.gradle", "settings.gradle.kts":
					_ = cp.ChangedOnDisk(event.Name)
				}
			}
		case err, ok := <-cp.watcher.Errors:
			if !ok {
				return
			}
			cp.log.Warn("build-file watcher error", "error", err)
		}
	}
}

// startBackgroundResolution cancels any in-flight resolution (without
// interrupting it, per specification), transitions to RESOLVING, and
// launches the refresh algorithm asynchronously.
func (cp *CompilerClassPath) startBackgroundResolution(workspaceRoot string) {
	cp.stateMu.Lock()
	if cp.resolveCancel != nil {
		cp.resolveCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cp.resolveCancel = cancel
	cp.state = Resolving
	done := make(chan struct{})
	cp.resolveDone = done
	cp.stateMu.Unlock()

	go cp.runResolution(ctx, workspaceRoot, done)
}

func (cp *CompilerClassPath) runResolution(ctx context.Context, workspaceRoot string, done chan struct{}) {
	defer close(done)

	version, verErr := cp.resolver.CurrentBuildFileVersion(ctx, workspaceRoot)
	if ctx.Err() != nil {
		return
	}
	var result ResolveResult
	var err error
	if verErr != nil {
		// No cheap probe available; fall back to an unconditional resolve.
		result, err = cp.resolver.Resolve(ctx, workspaceRoot)
	} else {
		result, err = cp.resolverCache.resolve(ctx, version, workspaceRoot, cp.resolver)
	}
	if ctx.Err() != nil {
		return // superseded; the newer resolution owns the state transition
	}
	if err != nil {
		cp.log.Warn("classpath resolution failed", "workspace_root", workspaceRoot, "error", err)
		cp.stateMu.Lock()
		cp.state = Failed
		cp.stateMu.Unlock()
		return
	}

	newEntries := make([]Entry, 0, len(result.CompiledJars))
	sourceByCompiled := make(map[string]string, len(result.SourceJars))
	for i, jar := range result.CompiledJars {
		entry := Entry{CompiledJar: jar}
		if i < len(result.SourceJars) {
			entry.SourceJar = result.SourceJars[i]
			sourceByCompiled[jar] = result.SourceJars[i]
		}
		newEntries = append(newEntries, entry)
	}

	cp.pathMu.Lock()
	oldEntries := cp.classPath
	diff := diffEntries(oldEntries, newEntries)
	cp.classPath = newEntries
	cp.pathMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	infos := make([]module.Info, 0, len(result.ModuleClassPaths))
	for _, info := range result.ModuleClassPaths {
		infos = append(infos, info)
	}
	cp.registry.Set(infos)

	cp.compilers.Purge()

	if diff.HasChanges() {
		cp.sharedMu.Lock()
		if cp.sharedCompiler != nil {
			if err := cp.sharedCompiler.Close(); err != nil {
				cp.log.Warn("error closing shared compiler during refresh", "error", err)
			}
			cp.sharedCompiler = nil
		}
		cp.sharedMu.Unlock()
	}

	cp.stateMu.Lock()
	cp.state = Ready
	onReady := cp.onReady
	cp.stateMu.Unlock()

	if onReady != nil {
		onReady(diff)
	}
}

// WaitForResolution blocks until the in-flight resolution completes or
// timeout elapses, whichever is first. Returns nil if there is no
// resolution in flight.
func (cp *CompilerClassPath) WaitForResolution(timeout time.Duration) error {
	cp.stateMu.Lock()
	done := cp.resolveDone
	cp.stateMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("classpath: resolution did not complete within %s", timeout)
	}
}

// GetCompilerForModule returns the shared Compiler when moduleID is empty
// or unknown to the registry; otherwise it returns (creating if necessary)
// the module-scoped Compiler, marking it most-recently-used.
func (cp *CompilerClassPath) GetCompilerForModule(moduleID string) (Compiler, error) {
	if moduleID == "" {
		return cp.sharedCompilerInstance()
	}
	if _, ok := cp.registry.Get(moduleID); !ok {
		return cp.sharedCompilerInstance()
	}

	if c, ok := cp.compilers.Get(moduleID); ok {
		return c, nil
	}

	snapshot := cp.snapshotFor(moduleID)
	compiler, err := cp.factory(snapshot)
	if err != nil {
		return nil, fmt.Errorf("classpath: build compiler for module %q: %w", moduleID, err)
	}
	cp.compilers.Add(moduleID, compiler)
	return compiler, nil
}

func (cp *CompilerClassPath) sharedCompilerInstance() (Compiler, error) {
	cp.sharedMu.Lock()
	defer cp.sharedMu.Unlock()
	if cp.sharedCompiler != nil {
		return cp.sharedCompiler, nil
	}
	compiler, err := cp.factory(cp.snapshotFor(""))
	if err != nil {
		return nil, fmt.Errorf("classpath: build shared compiler: %w", err)
	}
	cp.sharedCompiler = compiler
	return compiler, nil
}

func (cp *CompilerClassPath) snapshotFor(moduleID string) Snapshot {
	cp.pathMu.RLock()
	defer cp.pathMu.RUnlock()
	return Snapshot{
		WorkspaceRoots:       append([]string(nil), cp.workspaceRoots...),
		ClassPath:            append([]Entry(nil), cp.classPath...),
		BuildScriptClassPath: append([]string(nil), cp.buildScriptClassPath...),
		OutputDirectory:      cp.outputDirectory,
		ModuleID:             moduleID,
	}
}

// Close cancels any in-flight resolution, stops the file watcher, closes
// every cached Compiler (shared and per-module), and removes the output
// directory.
func (cp *CompilerClassPath) Close() error {
	var closeErr error
	cp.closeOnce.Do(func() {
		cp.stateMu.Lock()
		if cp.resolveCancel != nil {
			cp.resolveCancel()
		}
		cp.stateMu.Unlock()

		if cp.watcher != nil {
			closeErr = cp.watcher.Close()
		}

		cp.compilers.Purge()

		cp.sharedMu.Lock()
		if cp.sharedCompiler != nil {
			if err := cp.sharedCompiler.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
			cp.sharedCompiler = nil
		}
		cp.sharedMu.Unlock()

		if cp.outputDirectory != "" {
			if err := os.RemoveAll(cp.outputDirectory); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}
