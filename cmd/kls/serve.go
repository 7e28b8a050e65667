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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kotlinls/service/kls/cache"
	"kotlinls/service/kls/classpath"
	"kotlinls/service/kls/db"
	"kotlinls/service/kls/definition"
	"kotlinls/service/kls/diagnostics"
	"kotlinls/service/kls/executor"
	"kotlinls/service/kls/indexing"
	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/protocol"
	"kotlinls/service/kls/source"
	"kotlinls/service/kls/symbolindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server core over stdio with a side debug HTTP surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// diskContentProvider reads file content directly off the filesystem for
// source.Path's materialize-on-demand path, for URIs the editor never
// explicitly opened.
type diskContentProvider struct{}

func (diskContentProvider) Content(ctx context.Context, uri string) (string, error) {
	b, err := os.ReadFile(klsuri.FileURIToPath(uri))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", uri, err)
	}
	return string(b), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger("kls-serve")
	defer log.Close()
	slogger := log.Slog()

	shutdownTelemetry, err := initTelemetry(cmd.Context(), defaultTelemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	svc, err := db.Open(storagePath, slogger)
	if err != nil {
		return fmt.Errorf("open symbol database: %w", err)
	}

	idx := symbolindex.New(svc, slogger)
	idxService := indexing.New(idx, slogger)
	idxService.SetEnabled(true)

	outputDir, err := os.MkdirTemp("", "kls-classpath-*")
	if err != nil {
		return fmt.Errorf("create classpath output dir: %w", err)
	}

	cp, err := classpath.New(stubClassPathResolver{}, stubCompilerFactory, outputDir, slogger)
	if err != nil {
		return fmt.Errorf("build classpath: %w", err)
	}

	cacheMgr := cache.NewManager(cache.DefaultCapacity)
	pool := executor.New(executor.DefaultGeneralConcurrency)

	sourcePath := source.New(cp.ModuleRegistry(), stubCompilerProvider{}, idxService, diskContentProvider{}, slogger)
	openFiles := source.NewOpenFiles()

	diagMgr := diagnostics.New(diagnostics.DefaultDebounceTime,
		func() bool { return cp.State() == classpath.Ready },
		func(uri string) bool { _, open := openFiles.Version(uri); return open },
		slogger)
	diagMgr.SetLintAction(func(ctx context.Context, uris []string, cancelled func() bool) map[string][]protocol.Diagnostic {
		result := make(map[string][]protocol.Diagnostic, len(uris))
		for _, uri := range uris {
			if cancelled() {
				return result
			}
			if _, err := sourcePath.CompileFiles(ctx, []string{uri}); err != nil {
				slogger.Warn("lint compile failed", "uri", uri, "error", err)
			}
			result[uri] = nil
		}
		return result
	})

	defRoots := klsuri.DefaultArchiveRoots()
	orchestrator := definition.New(idx, cp.ModuleRegistry(), defRoots,
		cp.WorkspaceRoots,
		nil, nil, nil, nil, slogger)

	debug := newDebugServer(debugAddr, idx, cp)
	debugDone := make(chan error, 1)
	go func() { debugDone <- debug.Start() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := newStdioLoop(os.Stdin, os.Stdout, slogger)
	loop.orchestrator = orchestrator
	loop.cacheMgr = cacheMgr
	loop.pool = pool
	loop.fileVersion = func(uri string) int {
		v, _ := openFiles.Version(uri)
		return v
	}
	diagMgr.Connect(lspClient{loop: loop})

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run() }()

	slogger.Info("kls serving", "debugAddr", debugAddr, "storagePath", storagePath)

	var runErr error
	select {
	case <-ctx.Done():
		slogger.Info("signal received, shutting down")
	case runErr = <-loopDone:
		slogger.Info("stdio loop ended")
	case runErr = <-debugDone:
		slogger.Warn("debug server exited", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = debug.Shutdown(shutdownCtx)
	diagMgr.Close()
	pool.Close()
	_ = cp.Close()
	_ = svc.Close()
	_ = shutdownTelemetry(shutdownCtx)

	return runErr
}
