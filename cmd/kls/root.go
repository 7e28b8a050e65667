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
	"github.com/spf13/cobra"

	"kotlinls/pkg/logging"
)

var (
	storagePath string
	debugAddr   string
	logLevel    string
	jsonLogs    bool
	logDir      string
)

var rootCmd = &cobra.Command{
	Use:   "kls",
	Short: "Kotlin language server backend core",
	Long: "kls hosts the language-server backend core: a persisted symbol index,\n" +
		"background classpath resolution, per-file compile state, debounced\n" +
		"diagnostics, and goto-definition — behind a stdio transport shim and a\n" +
		"debug HTTP surface.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage-path", "",
		"directory holding the persisted symbol database (kls_database.db); empty uses an in-memory store")
	rootCmd.PersistentFlags().StringVar(&debugAddr, "debug-addr", "127.0.0.1:8787",
		"bind address for the /healthz, /debug/stats, and /metrics HTTP surface")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"minimum log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of text")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"directory for a persisted JSON log file in addition to stderr; empty disables file logging")
}

func newLogger(service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   parseLevel(logLevel),
		Service: service,
		JSON:    jsonLogs,
		LogDir:  logDir,
	})
}

func parseLevel(raw string) logging.Level {
	switch raw {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
