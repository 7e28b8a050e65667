// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package symbolindex is the persisted, schema-versioned relational store of
// every declaration reachable from the workspace: workspace source files
// plus the jars on each module's classpath. It supports a batched full
// rebuild that stays queryable mid-rebuild, incremental per-jar indexing
// with ownership attribution, and cooperative cancellation of a stale
// rebuild superseded by a newer classpath.
//
// # Ownership Model
//
// A symbol with an empty ModuleID is a dependency symbol, visible from every
// module. A symbol with a non-empty ModuleID is visible only within that
// module (plus every dependency symbol). This lets two modules declare a
// same-named top-level function without one shadowing the other in
// workspace-symbol search.
//
// # Thread Safety
//
// All table mutations run under indexLock (a sync.RWMutex): Refresh and
// IndexJars take the write side, Query takes the read side with a bounded
// wait so that a slow rebuild never stalls a positional query past
// DefaultQueryTimeout.
package symbolindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kotlinls/pkg/validation"
	"kotlinls/service/kls/cancel"
	"kotlinls/service/kls/db"
	"kotlinls/service/kls/protocol"

	"github.com/go-playground/validator/v10"
)

// Defaults mirror the budgets named in the specification.
const (
	DefaultBatchSize        = 50
	DefaultQueryTimeout     = 100 * time.Millisecond
	DefaultProgressInterval = 100 * time.Millisecond
)

var validate = validator.New()

// validateSymbolFormat checks the format of the fields the struct tags on
// Symbol can't express: fqname's dotted-identifier shape and moduleid's
// character set, both of which come from caller-controlled strings and are
// persisted as symbol-store columns. It also trims
// ShortName in place, since the scanner occasionally hands back names with
// incidental leading/trailing whitespace.
func validateSymbolFormat(sym *Symbol) error {
	if err := validation.ValidateFQName(sym.FQName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	if err := validation.ValidateModuleID(sym.ModuleID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	shortName, err := validation.SanitizeShortName(sym.ShortName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	sym.ShortName = shortName
	return nil
}

// PackageProvider enumerates the packages and declarations reachable from a
// module's source roots. It is supplied by the caller (the compilation
// orchestration layer); the index itself has no knowledge of source syntax.
type PackageProvider interface {
	// Packages lists every package reachable from the module root, in an
	// order that need not be stable across calls.
	Packages(ctx context.Context) ([]string, error)
	// DeclarationsInPackage returns the top-level declarations of pkg.
	DeclarationsInPackage(ctx context.Context, pkg string) ([]Symbol, error)
}

// JarScanner enumerates the packages and declarations contributed by a set
// of dependency jars, and can answer whether a given jar defines a class.
type JarScanner interface {
	PackagesInJars(ctx context.Context, jars []string) ([]string, error)
	DeclarationsInPackage(ctx context.Context, pkg string, jars []string) ([]Symbol, error)
	ContainsClass(ctx context.Context, jar string, fqName string) (bool, error)
}

// RefreshOptions configures one call to Refresh.
type RefreshOptions struct {
	// Exclusions names short names to skip during rebuild (e.g. synthetic
	// compiler-generated declarations).
	Exclusions map[string]bool
	// BuildFileVersion stamps the resulting SymbolIndexMetadata row and is
	// compared against by IsIndexValid.
	BuildFileVersion int64
	// SkipIfValid short-circuits the whole rebuild when the index is
	// already valid for BuildFileVersion.
	SkipIfValid bool
	// BatchSize overrides DefaultBatchSize when > 0.
	BatchSize int
}

// Index is the persisted symbol store described in the package doc.
type Index struct {
	svc *db.Service
	log *slog.Logger

	indexLock sync.RWMutex

	stateMu        sync.Mutex
	isIndexing     bool
	currentToken   *cancel.Token
	queryTimeout   time.Duration
	progressEvery  time.Duration
}

// New wraps svc in an Index. svc must already have its schema applied.
func New(svc *db.Service, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		svc:           svc,
		log:           log,
		queryTimeout:  DefaultQueryTimeout,
		progressEvery: DefaultProgressInterval,
	}
}

// WithQueryTimeout overrides the bounded-wait budget for Query's read lock.
func (idx *Index) WithQueryTimeout(d time.Duration) *Index {
	idx.queryTimeout = d
	return idx
}

// IsIndexing reports whether a Refresh is currently in flight.
func (idx *Index) IsIndexing() bool {
	idx.stateMu.Lock()
	defer idx.stateMu.Unlock()
	return idx.isIndexing
}

// CancelCurrentRefresh cancels any in-flight Refresh. Idempotent: calling it
// when nothing is running, or calling it twice in a row, is a no-op.
func (idx *Index) CancelCurrentRefresh() {
	idx.stateMu.Lock()
	tok := idx.currentToken
	idx.stateMu.Unlock()
	if tok != nil {
		tok.Cancel()
	}
}

// Stats returns a point-in-time snapshot of index size and refresh state,
// for debug/health surfaces. Degrades to a zero-valued Metadata if the
// metadata row cannot be read.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	count, err := idx.countSymbols(ctx)
	if err != nil {
		return Stats{}, err
	}
	meta, _, _ := idx.readMetadata(ctx)
	return Stats{SymbolCount: count, IsIndexing: idx.IsIndexing(), Metadata: meta}, nil
}

// IsIndexValid reports whether the stored metadata covers buildFileVersion
// and the index is non-empty.
func (idx *Index) IsIndexValid(ctx context.Context, buildFileVersion int64) bool {
	meta, ok, err := idx.readMetadata(ctx)
	if err != nil || !ok {
		return false
	}
	return meta.BuildFileVersion >= buildFileVersion && meta.SymbolCount > 0
}

func (idx *Index) readMetadata(ctx context.Context) (Metadata, bool, error) {
	row := idx.svc.DB().QueryRowContext(ctx,
		`SELECT buildfileversion, indexedat, symbolcount FROM symbol_index_metadata WHERE id = 1`)
	var m Metadata
	err := row.Scan(&m.BuildFileVersion, &m.IndexedAtMillis, &m.SymbolCount)
	if err == sql.ErrNoRows {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	return m, true, nil
}

// Refresh rebuilds the index for one module from provider, replacing every
// symbol currently attributed to that module (dependency symbols owned by
// other modules are untouched only when moduleID is non-empty; a full
// single-module project passes an empty moduleID and clears everything).
//
// The rebuild runs synchronously with respect to its own progress but
// releases indexLock between batches so Query keeps answering with a
// partial view of the new data while the rebuild is still running.
// Refresh supersedes any refresh already in flight: the prior one is
// cancelled (non-blocking) before this one starts.
func (idx *Index) Refresh(ctx context.Context, provider PackageProvider, moduleID string, opts RefreshOptions) error {
	if opts.SkipIfValid && opts.BuildFileVersion > 0 && idx.IsIndexValid(ctx, opts.BuildFileVersion) {
		return nil
	}

	idx.CancelCurrentRefresh()
	tok := cancel.NewWithParent(ctx)

	idx.stateMu.Lock()
	idx.currentToken = tok
	idx.isIndexing = true
	idx.stateMu.Unlock()

	defer func() {
		idx.stateMu.Lock()
		idx.isIndexing = false
		if idx.currentToken == tok {
			idx.currentToken = nil
		}
		idx.stateMu.Unlock()
	}()

	start := time.Now()
	rctx, span := startOperationSpan(ctx, "refresh")
	defer func() { setOperationSpanResult(span, 0, true) }()

	packages, err := provider.Packages(rctx)
	if err != nil {
		recordOperationMetrics(rctx, "refresh", time.Since(start), 0, false)
		return fmt.Errorf("symbolindex: enumerate packages: %w", err)
	}

	if tok.IsCancelled() {
		return nil
	}

	if err := idx.clearModule(rctx, moduleID); err != nil {
		recordOperationMetrics(rctx, "refresh", time.Since(start), 0, false)
		return err
	}
	if tok.IsCancelled() {
		return nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	lastProgress := time.Now()
	inserted := 0
	for i := 0; i < len(packages); i += batchSize {
		if tok.IsCancelled() {
			idx.log.Info("symbol index refresh cancelled", "module", moduleID, "packages_done", i)
			return nil
		}
		end := i + batchSize
		if end > len(packages) {
			end = len(packages)
		}
		batch := packages[i:end]

		n, err := idx.indexPackageBatch(rctx, provider, batch, moduleID, opts.Exclusions, tok)
		if err != nil {
			recordOperationMetrics(rctx, "refresh", time.Since(start), inserted, false)
			return err
		}
		inserted += n

		if time.Since(lastProgress) >= idx.progressEvery {
			idx.log.Debug("symbol index refresh progress", "module", moduleID, "packages_done", end, "packages_total", len(packages))
			lastProgress = time.Now()
		}
	}

	if tok.IsCancelled() {
		return nil
	}

	if err := idx.writeMetadata(rctx, opts.BuildFileVersion); err != nil {
		recordOperationMetrics(rctx, "refresh", time.Since(start), inserted, false)
		return err
	}

	total, _ := idx.countSymbols(rctx)
	recordIndexSize(rctx, total)
	recordOperationMetrics(rctx, "refresh", time.Since(start), inserted, true)
	idx.log.Info("symbol index refresh complete", "module", moduleID, "symbols_inserted", inserted, "total_symbols", total)
	return nil
}

func (idx *Index) indexPackageBatch(ctx context.Context, provider PackageProvider, pkgs []string, moduleID string, exclusions map[string]bool, tok *cancel.Token) (int, error) {
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	tx, err := idx.svc.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("symbolindex: begin batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	inserted := 0
	for _, pkg := range pkgs {
		if tok.IsCancelled() {
			return inserted, nil
		}
		decls, err := provider.DeclarationsInPackage(ctx, pkg)
		if err != nil {
			return inserted, fmt.Errorf("symbolindex: declarations in package %q: %w", pkg, err)
		}
		for _, sym := range decls {
			if exclusions != nil && exclusions[sym.ShortName] {
				continue
			}
			sym.ModuleID = moduleID
			if err := validate.Struct(sym); err != nil {
				return inserted, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
			}
			if err := validateSymbolFormat(&sym); err != nil {
				return inserted, err
			}
			if err := insertSymbolTx(ctx, tx, sym); err != nil {
				return inserted, err
			}
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("symbolindex: commit batch: %w", err)
	}
	return inserted, nil
}

func insertSymbolTx(ctx context.Context, tx *sql.Tx, sym Symbol) error {
	var locationID sql.NullInt64
	if sym.Location != nil {
		id, err := insertLocationTx(ctx, tx, *sym.Location)
		if err != nil {
			return err
		}
		locationID = sql.NullInt64{Int64: id, Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO symbols (fqname, shortname, kind, visibility, extensionreceivertype, location_id, sourcejar, moduleid)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''))`,
		sym.FQName, sym.ShortName, string(sym.Kind), string(sym.Visibility), sym.ExtensionReceiverType, locationID, sym.SourceJar, sym.ModuleID)
	if err != nil {
		return fmt.Errorf("symbolindex: insert symbol %q: %w", sym.FQName, err)
	}
	return nil
}

func insertLocationTx(ctx context.Context, tx *sql.Tx, loc protocol.Location) (int64, error) {
	startID, err := insertPositionTx(ctx, tx, loc.Range.Start)
	if err != nil {
		return 0, err
	}
	endID, err := insertPositionTx(ctx, tx, loc.Range.End)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO ranges (start_id, end_id) VALUES (?, ?)`, startID, endID)
	if err != nil {
		return 0, fmt.Errorf("symbolindex: insert range: %w", err)
	}
	rangeID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	res, err = tx.ExecContext(ctx, `INSERT INTO locations (uri, range_id) VALUES (?, ?)`, loc.URI, rangeID)
	if err != nil {
		return 0, fmt.Errorf("symbolindex: insert location: %w", err)
	}
	return res.LastInsertId()
}

func insertPositionTx(ctx context.Context, tx *sql.Tx, pos protocol.Position) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO positions (line, character) VALUES (?, ?)`, pos.Line, pos.Character)
	if err != nil {
		return 0, fmt.Errorf("symbolindex: insert position: %w", err)
	}
	return res.LastInsertId()
}

func (idx *Index) clearModule(ctx context.Context, moduleID string) error {
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	var err error
	if moduleID == "" {
		_, err = idx.svc.DB().ExecContext(ctx, `DELETE FROM symbols`)
	} else {
		_, err = idx.svc.DB().ExecContext(ctx, `DELETE FROM symbols WHERE moduleid = ?`, moduleID)
	}
	if err != nil {
		return fmt.Errorf("symbolindex: clear module %q: %w", moduleID, err)
	}
	return nil
}

func (idx *Index) writeMetadata(ctx context.Context, buildFileVersion int64) error {
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	total, err := idx.countSymbolsLocked(ctx)
	if err != nil {
		return err
	}
	_, err = idx.svc.DB().ExecContext(ctx,
		`INSERT INTO symbol_index_metadata (id, buildfileversion, indexedat, symbolcount) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET buildfileversion = excluded.buildfileversion, indexedat = excluded.indexedat, symbolcount = excluded.symbolcount`,
		buildFileVersion, nowMillis(), total)
	if err != nil {
		return fmt.Errorf("symbolindex: write metadata: %w", err)
	}
	return nil
}

func (idx *Index) countSymbols(ctx context.Context) (int, error) {
	idx.indexLock.RLock()
	defer idx.indexLock.RUnlock()
	return idx.countSymbolsLocked(ctx)
}

func (idx *Index) countSymbolsLocked(ctx context.Context) (int, error) {
	var n int
	err := idx.svc.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n)
	return n, err
}

// IndexJars incrementally indexes the given jars for moduleID, attributing
// each discovered declaration to whichever jar defines it. Each package is
// indexed once; a package found in only one jar is attributed to that jar,
// and when it is defined across several of the jars, ContainsClass probes
// each of those until an owner is found.
func (idx *Index) IndexJars(ctx context.Context, jars []string, moduleID string, scanner JarScanner, tok *cancel.Token) error {
	if tok == nil {
		tok = cancel.New()
	}
	start := time.Now()
	rctx, span := startOperationSpan(ctx, "index_jars")
	defer func() { setOperationSpanResult(span, 0, true) }()

	pkgJars := make(map[string][]string)
	var packages []string
	for _, jar := range jars {
		jarPackages, err := scanner.PackagesInJars(rctx, []string{jar})
		if err != nil {
			return fmt.Errorf("symbolindex: enumerate jar packages: %w", err)
		}
		for _, pkg := range jarPackages {
			if _, seen := pkgJars[pkg]; !seen {
				packages = append(packages, pkg)
			}
			pkgJars[pkg] = append(pkgJars[pkg], jar)
		}
	}

	counts := make(map[string]int, len(jars))
	for _, pkg := range packages {
		if tok.IsCancelled() {
			return nil
		}
		decls, err := scanner.DeclarationsInPackage(rctx, pkg, pkgJars[pkg])
		if err != nil {
			return fmt.Errorf("symbolindex: declarations in jar package %q: %w", pkg, err)
		}
		for _, sym := range decls {
			owner, err := attributeOwner(rctx, sym.FQName, pkgJars[pkg], scanner)
			if err != nil {
				return err
			}
			sym.SourceJar = owner
			sym.ModuleID = "" // jar-provided symbols are always dependency-scope
			if err := validate.Struct(sym); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
			}
			if err := validateSymbolFormat(&sym); err != nil {
				return err
			}
			if err := idx.insertOne(rctx, sym); err != nil {
				return err
			}
			counts[owner]++
		}
	}

	if err := idx.recordJarCounts(rctx, counts); err != nil {
		return err
	}
	recordOperationMetrics(rctx, "index_jars", time.Since(start), len(packages), true)
	return nil
}

func attributeOwner(ctx context.Context, fqName string, candidates []string, scanner JarScanner) (string, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, jar := range candidates {
		ok, err := scanner.ContainsClass(ctx, jar, fqName)
		if err != nil {
			continue
		}
		if ok {
			return jar, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return "", nil
}

func (idx *Index) insertOne(ctx context.Context, sym Symbol) error {
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	tx, err := idx.svc.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("symbolindex: begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := insertSymbolTx(ctx, tx, sym); err != nil {
		return err
	}
	return tx.Commit()
}

func (idx *Index) recordJarCounts(ctx context.Context, counts map[string]int) error {
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	for jar, count := range counts {
		_, err := idx.svc.DB().ExecContext(ctx,
			`INSERT INTO indexed_jars (jarpath, indexedat, symbolcount) VALUES (?, ?, ?)
			 ON CONFLICT(jarpath) DO UPDATE SET indexedat = excluded.indexedat, symbolcount = excluded.symbolcount`,
			jar, nowMillis(), count)
		if err != nil {
			return fmt.Errorf("symbolindex: record jar count for %q: %w", jar, err)
		}
	}
	return nil
}

// RemoveSymbolsFromJars deletes every symbol attributed to any of jars, and
// their indexed_jars bookkeeping rows. Used when a jar drops out of the
// classpath during incremental resolution.
func (idx *Index) RemoveSymbolsFromJars(ctx context.Context, jars []string) error {
	if len(jars) == 0 {
		return nil
	}
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	tx, err := idx.svc.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("symbolindex: begin remove-jars: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, jar := range jars {
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE sourcejar = ?`, jar); err != nil {
			return fmt.Errorf("symbolindex: remove symbols for jar %q: %w", jar, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_jars WHERE jarpath = ?`, jar); err != nil {
			return fmt.Errorf("symbolindex: remove jar bookkeeping for %q: %w", jar, err)
		}
	}
	return tx.Commit()
}

// ApplyFileDelta applies one file's compile-time declaration delta:
// removed symbols are deleted by exact (fqName, moduleID) match, then added
// symbols are validated and inserted. Used by the incremental indexing
// path driven by a single file's recompile, as opposed to Refresh's
// whole-module rebuild.
func (idx *Index) ApplyFileDelta(ctx context.Context, moduleID string, removed, added []Symbol) error {
	if len(removed) == 0 && len(added) == 0 {
		return nil
	}
	start := time.Now()
	rctx, span := startOperationSpan(ctx, "apply_file_delta")
	defer func() { setOperationSpanResult(span, 0, true) }()

	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	tx, err := idx.svc.DB().BeginTx(rctx, nil)
	if err != nil {
		return fmt.Errorf("symbolindex: begin apply-delta: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sym := range removed {
		if _, err := tx.ExecContext(rctx, `DELETE FROM symbols WHERE fqname = ? AND moduleid IS ?`, sym.FQName, sql.NullString{String: moduleID, Valid: moduleID != ""}); err != nil {
			return fmt.Errorf("symbolindex: remove symbol %q: %w", sym.FQName, err)
		}
	}

	var batchErr BatchError
	for _, sym := range added {
		sym.ModuleID = moduleID
		if err := validate.Struct(sym); err != nil {
			batchErr.Errors = append(batchErr.Errors, fmt.Errorf("%w: %v", ErrInvalidSymbol, err))
			continue
		}
		if err := validateSymbolFormat(&sym); err != nil {
			batchErr.Errors = append(batchErr.Errors, err)
			continue
		}
		if err := insertSymbolTx(rctx, tx, sym); err != nil {
			batchErr.Errors = append(batchErr.Errors, err)
		}
	}
	if len(batchErr.Errors) > 0 {
		recordOperationMetrics(rctx, "apply_file_delta", time.Since(start), 0, false)
		return &batchErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("symbolindex: commit apply-delta: %w", err)
	}
	recordOperationMetrics(rctx, "apply_file_delta", time.Since(start), len(added), true)
	return nil
}

// QueryOptions narrows a Query call.
type QueryOptions struct {
	// ReceiverType, when non-empty, filters to extension declarations on
	// that receiver type.
	ReceiverType string
	// Limit caps the number of returned symbols. Zero means the default of 20.
	Limit int
	// ModuleID, when non-empty, includes rows owned by that module plus
	// every dependency (ModuleID = "") row.
	ModuleID string
}

// Query performs a prefix search on symbol short names. On a read-lock
// timeout it returns (nil, nil) rather than propagating ErrQueryTimeout,
// matching the specification's degrade-to-empty contract; ErrQueryTimeout is
// exported so callers that want to distinguish an empty match from a
// timeout can still do so via QueryStrict.
func (idx *Index) Query(ctx context.Context, prefix string, opts QueryOptions) ([]Symbol, error) {
	results, err := idx.QueryStrict(ctx, prefix, opts)
	if err != nil {
		if err == ErrQueryTimeout {
			return nil, nil
		}
		return nil, err
	}
	return results, nil
}

// QueryStrict is Query but surfaces ErrQueryTimeout instead of swallowing it.
func (idx *Index) QueryStrict(ctx context.Context, prefix string, opts QueryOptions) ([]Symbol, error) {
	if prefix == "" {
		return nil, nil
	}
	start := time.Now()
	rctx, span := startOperationSpan(ctx, "query")
	defer func() { setOperationSpanResult(span, 0, true) }()

	locked, unlock := idx.tryRLock(idx.queryTimeout)
	if !locked {
		recordOperationMetrics(rctx, "query", time.Since(start), 0, false)
		return nil, ErrQueryTimeout
	}
	defer unlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT s.id, s.fqname, s.shortname, s.kind, s.visibility,
	                 COALESCE(s.extensionreceivertype, ''), COALESCE(s.sourcejar, ''), COALESCE(s.moduleid, '')
	          FROM symbols s
	          WHERE s.shortname LIKE ? ESCAPE '\'`
	args := []any{likeEscape(prefix) + "%"}

	if opts.ReceiverType != "" {
		query += ` AND s.extensionreceivertype = ?`
		args = append(args, opts.ReceiverType)
	}
	if opts.ModuleID != "" {
		query += ` AND (s.moduleid = ? OR s.moduleid IS NULL)`
		args = append(args, opts.ModuleID)
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := idx.svc.DB().QueryContext(rctx, query, args...)
	if err != nil {
		recordOperationMetrics(rctx, "query", time.Since(start), 0, false)
		return nil, fmt.Errorf("symbolindex: query: %w", err)
	}
	defer rows.Close()

	var results []Symbol
	for rows.Next() {
		var s Symbol
		if err := rows.Scan(&s.ID, &s.FQName, &s.ShortName, &s.Kind, &s.Visibility, &s.ExtensionReceiverType, &s.SourceJar, &s.ModuleID); err != nil {
			return nil, fmt.Errorf("symbolindex: scan row: %w", err)
		}
		results = append(results, s)
	}
	recordOperationMetrics(rctx, "query", time.Since(start), len(results), true)
	return results, rows.Err()
}

// FindByFQName looks up the single symbol with an exact fully-qualified
// name, including its resolved Location when one was recorded. moduleID
// scopes the match the same way Query does: rows owned by moduleID plus
// every dependency (moduleid IS NULL) row are candidates. Degrades to
// (Symbol{}, false, nil) on a read-lock timeout, matching Query's contract.
func (idx *Index) FindByFQName(ctx context.Context, fqName string, moduleID string) (Symbol, bool, error) {
	if fqName == "" {
		return Symbol{}, false, nil
	}

	locked, unlock := idx.tryRLock(idx.queryTimeout)
	if !locked {
		return Symbol{}, false, nil
	}
	defer unlock()

	query := `SELECT s.id, s.fqname, s.shortname, s.kind, s.visibility,
	                 COALESCE(s.extensionreceivertype, ''), COALESCE(s.sourcejar, ''), COALESCE(s.moduleid, ''),
	                 l.uri, sp.line, sp.character, ep.line, ep.character
	          FROM symbols s
	          LEFT JOIN locations l ON l.id = s.location_id
	          LEFT JOIN ranges r ON r.id = l.range_id
	          LEFT JOIN positions sp ON sp.id = r.start_id
	          LEFT JOIN positions ep ON ep.id = r.end_id
	          WHERE s.fqname = ?`
	args := []any{fqName}
	if moduleID != "" {
		query += ` AND (s.moduleid = ? OR s.moduleid IS NULL)`
		args = append(args, moduleID)
	}
	query += ` LIMIT 1`

	row := idx.svc.DB().QueryRowContext(ctx, query, args...)

	var s Symbol
	var uri sql.NullString
	var startLine, startChar, endLine, endChar sql.NullInt64
	err := row.Scan(&s.ID, &s.FQName, &s.ShortName, &s.Kind, &s.Visibility, &s.ExtensionReceiverType, &s.SourceJar, &s.ModuleID,
		&uri, &startLine, &startChar, &endLine, &endChar)
	if err == sql.ErrNoRows {
		return Symbol{}, false, nil
	}
	if err != nil {
		return Symbol{}, false, fmt.Errorf("symbolindex: find by fqname %q: %w", fqName, err)
	}
	if uri.Valid {
		s.Location = &protocol.Location{
			URI: uri.String,
			Range: protocol.Range{
				Start: protocol.Position{Line: int(startLine.Int64), Character: int(startChar.Int64)},
				End:   protocol.Position{Line: int(endLine.Int64), Character: int(endChar.Int64)},
			},
		}
	}
	return s, true, nil
}

// tryRLock attempts to acquire the read lock within timeout, polling with a
// short backoff since sync.RWMutex has no native TryRLock-with-timeout.
func (idx *Index) tryRLock(timeout time.Duration) (bool, func()) {
	done := make(chan struct{})
	go func() {
		idx.indexLock.RLock()
		close(done)
	}()

	select {
	case <-done:
		return true, idx.indexLock.RUnlock
	case <-time.After(timeout):
		// The goroutine above may still acquire the lock later; release it
		// immediately when it does so we never leak a held read lock.
		go func() {
			<-done
			idx.indexLock.RUnlock()
		}()
		return false, func() {}
	}
}

func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
