// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package db owns the single relational store backing the symbol index: a
// sqlite file (or an in-memory database when persistence is unavailable),
// schema-versioned so that an incompatible on-disk schema is wiped and
// recreated rather than migrated in place.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is embedded in every build. A stored DatabaseMetadata row
// whose version differs triggers a full wipe-and-recreate; there is no
// supported in-place migration path.
const SchemaVersion = 6

const schemaDDL = `
CREATE TABLE IF NOT EXISTS database_metadata (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	line      INTEGER NOT NULL,
	character INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ranges (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	start_id INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
	end_id   INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS locations (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	uri      TEXT NOT NULL,
	range_id INTEGER NOT NULL REFERENCES ranges(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS symbols (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	fqname                 TEXT NOT NULL,
	shortname              TEXT NOT NULL,
	kind                   TEXT NOT NULL,
	visibility             TEXT NOT NULL,
	extensionreceivertype  TEXT,
	location_id            INTEGER REFERENCES locations(id) ON DELETE SET NULL,
	sourcejar              TEXT,
	moduleid               TEXT
);

CREATE INDEX IF NOT EXISTS idx_symbols_fqname    ON symbols(fqname);
CREATE INDEX IF NOT EXISTS idx_symbols_shortname ON symbols(shortname);
CREATE INDEX IF NOT EXISTS idx_symbols_sourcejar ON symbols(sourcejar);
CREATE INDEX IF NOT EXISTS idx_symbols_moduleid  ON symbols(moduleid);

CREATE TABLE IF NOT EXISTS symbol_index_metadata (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	buildfileversion INTEGER NOT NULL,
	indexedat        INTEGER NOT NULL,
	symbolcount      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS indexed_jars (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	jarpath     TEXT NOT NULL UNIQUE,
	indexedat   INTEGER NOT NULL,
	symbolcount INTEGER NOT NULL
);
`

// Service owns the database handle and enforces the schema-version policy.
//
// Thread Safety:
//
//	Service itself holds no mutable state beyond the *sql.DB, which is safe
//	for concurrent use; callers coordinate write ordering via the symbol
//	index's own lock (see symbolindex.Index), not via this type.
type Service struct {
	db       *sql.DB
	path     string
	inMemory bool
	log      *slog.Logger
}

// Open opens (creating if necessary) the sqlite database file
// kls_database.db inside the directory storagePath. If storagePath is empty,
// or it is not a directory and cannot be created as one, an in-memory
// database is used instead and persistence is disabled — callers can check
// InMemory() to log this degraded mode.
func Open(storagePath string, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := ":memory:"
	inMemory := true
	if storagePath != "" {
		if err := os.MkdirAll(storagePath, 0o750); err != nil {
			log.Warn("falling back to in-memory database", "path", storagePath, "error", err)
		} else {
			dsn = filepath.Join(storagePath, "kls_database.db")
			inMemory = false
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", dsn, err)
	}
	// The symbol index serialises its own writes; a single connection avoids
	// SQLITE_BUSY without needing WAL-mode tuning for this workload.
	sqlDB.SetMaxOpenConns(1)

	svc := &Service{db: sqlDB, path: dsn, inMemory: inMemory, log: log}
	if err := svc.ensureSchema(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return svc, nil
}

// InMemory reports whether persistence is disabled for this instance.
func (s *Service) InMemory() bool { return s.inMemory }

// DB returns the underlying *sql.DB for use by the symbol index.
func (s *Service) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// BackupToGCS uploads the on-disk sqlite file to bucket/object, for
// operators running kls under an enterprise deployment where the persisted
// index should survive workspace-machine loss. It is a snapshot copy, not a
// streaming backup: callers should quiesce writes (the symbol index's own
// write serialisation makes this a non-issue in practice) before calling it.
// Disabled by default; nothing calls this unless a host wires it in.
func (s *Service) BackupToGCS(ctx context.Context, bucket, object string) error {
	if s.inMemory {
		return fmt.Errorf("backup to gcs: database is in-memory, nothing to persist")
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open database file %q: %w", s.path, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create gcs client: %w", err)
	}
	defer client.Close()

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(writeCtx)
	w.ContentType = "application/vnd.sqlite3"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload database backup to gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize database backup to gs://%s/%s: %w", bucket, object, err)
	}

	s.log.Info("database backup uploaded", "bucket", bucket, "object", object)
	return nil
}

// ensureSchema applies the wipe-and-recreate migration policy: if a stored
// version exists and differs from SchemaVersion, every table is dropped
// before being recreated. A brand-new database simply gets the schema and
// the current version recorded.
func (s *Service) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS database_metadata (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create database_metadata: %w", err)
	}

	var stored int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM database_metadata WHERE id = 1`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// Fresh database.
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case stored != SchemaVersion:
		s.log.Warn("database schema version mismatch, recreating", "stored", stored, "current", SchemaVersion)
		if err := s.dropAll(ctx); err != nil {
			return err
		}
	default:
		return nil // schema already at current version
	}

	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO database_metadata (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func (s *Service) dropAll(ctx context.Context) error {
	tables := []string{"indexed_jars", "symbol_index_metadata", "symbols", "locations", "ranges", "positions", "database_metadata"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE database_metadata (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("recreate database_metadata: %w", err)
	}
	return nil
}
