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
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kotlinls/service/kls/db"
	"kotlinls/service/kls/symbolindex"
)

var indexBatchSize int

var indexCmd = &cobra.Command{
	Use:   "index <workspace-root>",
	Short: "Rebuild the persisted symbol index from a workspace directory offline",
	Long: "index walks <workspace-root> for .kt files with a best-effort declaration\n" +
		"scanner and rebuilds the persisted symbol index against --storage-path.\n" +
		"It does not start a language server session; use serve for that.",
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", symbolindex.DefaultBatchSize, "packages indexed per batch")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := args[0]
	runID := uuid.New().String()
	baseLog := newLogger("kls-index")
	defer baseLog.Close()
	log := baseLog.Slog().With("runId", runID)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("scanning workspace for declarations", "root", root)
	scanner, err := newSourceScanner(root)
	if err != nil {
		return fmt.Errorf("scan workspace: %w", err)
	}

	svc, err := db.Open(storagePath, log)
	if err != nil {
		return fmt.Errorf("open symbol database: %w", err)
	}
	defer svc.Close()

	idx := symbolindex.New(svc, log)

	start := time.Now()
	err = idx.Refresh(ctx, scanner, "", symbolindex.RefreshOptions{
		BuildFileVersion: time.Now().UnixNano(),
		BatchSize:        indexBatchSize,
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read index stats after rebuild: %w", err)
	}
	log.Info("rebuild complete", "symbolCount", stats.SymbolCount, "elapsed", time.Since(start).String())
	return nil
}
