// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kotlinls/service/kls/classpath"
	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/source"
)

// stubCompiler satisfies both classpath.Compiler and source.Compiler with
// the regex-based declaration scanner, standing in for a real Kotlin
// front end. Real semantic analysis (type binding, resolution) is out of
// scope for this core; this lets the CLI exercise the full source/classpath
// state machine without one.
type stubCompiler struct{}

func (stubCompiler) Close() error { return nil }

func (stubCompiler) Parse(ctx context.Context, uri, content string) (*source.ParsedTree, error) {
	f, err := os.CreateTemp("", "kls-scan-*.kt")
	if err != nil {
		return &source.ParsedTree{Text: content}, nil
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return &source.ParsedTree{Text: content}, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return &source.ParsedTree{Text: content}, nil
	}
	decls := scanDeclarations(klsuri.FileURIToPath(uri), f)
	f.Close()
	return &source.ParsedTree{Text: content, Declarations: decls}, nil
}

func (stubCompiler) Compile(ctx context.Context, files []*source.SourceFile) (*source.BindingContext, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.URI
	}
	return &source.BindingContext{Files: names}, nil
}

func (stubCompiler) RemoveGeneratedCode(ctx context.Context, tree *source.ParsedTree) error { return nil }

// stubCompilerProvider hands out the single shared stubCompiler for every
// module; this core does not model per-module compiler configuration beyond
// what classpath.CompilerFactory already captures.
type stubCompilerProvider struct{}

func (stubCompilerProvider) CompilerForModule(ctx context.Context, moduleID string) (source.Compiler, error) {
	return stubCompiler{}, nil
}

func stubCompilerFactory(classpath.Snapshot) (classpath.Compiler, error) {
	return stubCompiler{}, nil
}

// stubClassPathResolver walks the workspace root for *.jar files instead of
// shelling out to Gradle/Maven tooling, which is out of scope for this core.
// CurrentBuildFileVersion uses the newest mtime among recognised build
// scripts so repeated resolutions without an edit are cheap no-ops.
type stubClassPathResolver struct{}

var buildScriptNames = []string{"build.gradle.kts", "build.gradle", "pom.xml", "settings.gradle.kts", "settings.gradle"}

func (stubClassPathResolver) CurrentBuildFileVersion(ctx context.Context, workspaceRoot string) (int64, error) {
	var newest time.Time
	_ = filepath.WalkDir(workspaceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		for _, name := range buildScriptNames {
			if d.Name() == name {
				if info, statErr := d.Info(); statErr == nil && info.ModTime().After(newest) {
					newest = info.ModTime()
				}
			}
		}
		return nil
	})
	return newest.UnixNano(), nil
}

func (stubClassPathResolver) Resolve(ctx context.Context, workspaceRoot string) (classpath.ResolveResult, error) {
	var jars []string
	_ = filepath.WalkDir(workspaceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "build" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(path), ".jar") {
			jars = append(jars, path)
		}
		return nil
	})
	version, _ := stubClassPathResolver{}.CurrentBuildFileVersion(ctx, workspaceRoot)
	return classpath.ResolveResult{
		CompiledJars:     jars,
		BuildFileVersion: version,
	}, nil
}
