// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classpath resolves and holds the workspace's compilation
// classpath in the background, memoises resolver output per build-file
// version, and owns a bounded per-module Compiler cache so that same-named
// declarations in two modules never resolve ambiguously against each
// other's classfiles.
package classpath

import (
	"context"

	"kotlinls/service/kls/module"
)

// Entry is one classpath jar, with an optional matching sources jar.
// Equality is by CompiledJar alone.
type Entry struct {
	CompiledJar string
	SourceJar   string
}

// Equal compares two entries by CompiledJar, per the specification's
// equality rule.
func (e Entry) Equal(o Entry) bool { return e.CompiledJar == o.CompiledJar }

// Diff is the result of comparing two classpath snapshots.
type Diff struct {
	Added   []Entry
	Removed []Entry
}

// HasChanges reports whether the diff is non-empty.
func (d Diff) HasChanges() bool { return len(d.Added) > 0 || len(d.Removed) > 0 }

func diffEntries(oldEntries, newEntries []Entry) Diff {
	oldSet := make(map[string]Entry, len(oldEntries))
	for _, e := range oldEntries {
		oldSet[e.CompiledJar] = e
	}
	newSet := make(map[string]Entry, len(newEntries))
	for _, e := range newEntries {
		newSet[e.CompiledJar] = e
	}

	var diff Diff
	for jar, e := range newSet {
		if _, ok := oldSet[jar]; !ok {
			diff.Added = append(diff.Added, e)
		}
	}
	for jar, e := range oldSet {
		if _, ok := newSet[jar]; !ok {
			diff.Removed = append(diff.Removed, e)
		}
	}
	return diff
}

// State is a position in the classpath resolution lifecycle.
type State int

const (
	Pending State = iota
	Resolving
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Resolving:
		return "RESOLVING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ResolveResult is what the external build-tool integration produces for a
// workspace root. Resolution itself (invoking Gradle/Maven tooling) is
// outside this package's scope; ClassPathResolver is the seam.
type ResolveResult struct {
	CompiledJars     []string
	SourceJars       []string
	ModuleClassPaths map[string]module.Info
	BuildFileVersion int64
}

// ClassPathResolver is the external build-tool integration seam. A real
// implementation shells out to Gradle/Maven tooling; this package only
// consumes its output.
type ClassPathResolver interface {
	// CurrentBuildFileVersion is a cheap probe (mtime/hash based) letting
	// the caller check whether a full Resolve is even necessary before
	// paying its cost.
	CurrentBuildFileVersion(ctx context.Context, workspaceRoot string) (int64, error)
	Resolve(ctx context.Context, workspaceRoot string) (ResolveResult, error)
}

// Compiler is the opaque compiler front-end façade. This package only needs
// to construct and close instances; parsing/binding are out of scope here.
type Compiler interface {
	Close() error
}

// Snapshot is the immutable view handed to CompilerFactory when
// constructing a Compiler for a module (or the shared, module-less
// Compiler when moduleID is empty).
type Snapshot struct {
	WorkspaceRoots       []string
	ClassPath            []Entry
	BuildScriptClassPath []string
	OutputDirectory      string
	ModuleID             string
}

// CompilerFactory constructs a Compiler bound to snapshot.
type CompilerFactory func(snapshot Snapshot) (Compiler, error)
