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

	"github.com/spf13/cobra"

	"kotlinls/service/kls/db"
)

var (
	backupBucket string
	backupObject string
)

var backupCmd = &cobra.Command{
	Use:   "backup-db",
	Short: "Upload the persisted symbol database to a GCS bucket",
	Long: "backup-db snapshots --storage-path to gs://<bucket>/<object>, for\n" +
		"enterprise deployments that want the index to survive workspace-machine\n" +
		"loss. Off by default; only runs when explicitly invoked.",
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupBucket, "bucket", "", "destination GCS bucket (required)")
	backupCmd.Flags().StringVar(&backupObject, "object", "kls-index-backup.db", "destination object name")
	backupCmd.MarkFlagRequired("bucket")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	baseLog := newLogger("kls-backup")
	defer baseLog.Close()
	log := baseLog.Slog()

	svc, err := db.Open(storagePath, log)
	if err != nil {
		return fmt.Errorf("open symbol database: %w", err)
	}
	defer svc.Close()

	if err := svc.BackupToGCS(cmd.Context(), backupBucket, backupObject); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	return nil
}
