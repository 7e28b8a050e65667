// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexing is the lazy, asynchronous bridge between a compiling
// file (service/kls/source) and the persisted symbol store
// (service/kls/symbolindex). It satisfies source.IndexingSink structurally
// — source never imports this package, avoiding an import cycle, since Go
// interface satisfaction needs no declared relationship between the two.
package indexing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"kotlinls/service/kls/symbolindex"
)

// Service wraps a symbolindex.Index, applying file-level deltas only when
// indexing is enabled and only on a background goroutine so a slow index
// write never delays the compile that produced the delta.
type Service struct {
	index   *symbolindex.Index
	enabled atomic.Bool
	log     *slog.Logger

	wg sync.WaitGroup
}

// New builds a Service around index, enabled by default.
func New(index *symbolindex.Index, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{index: index, log: log}
	s.enabled.Store(true)
	return s
}

// SetEnabled toggles whether OnFileCompiled/OnFileRemoved do any work.
// Disabling stops closure invocation entirely: a disabled Service costs the
// caller nothing beyond the closure allocations it chose to make before
// calling in.
func (s *Service) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Enabled reports the current toggle state.
func (s *Service) Enabled() bool { return s.enabled.Load() }

// OnFileCompiled applies oldDecls/newDecls as a file-level index delta in
// the background. The closures are invoked at most once, and only if
// indexing is enabled.
func (s *Service) OnFileCompiled(ctx context.Context, uri, moduleID string, oldDecls, newDecls func() []symbolindex.Symbol) {
	if !s.enabled.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		old := oldDecls()
		fresh := newDecls()
		if err := s.index.ApplyFileDelta(ctx, moduleID, old, fresh); err != nil {
			s.log.Warn("indexing: failed to apply file delta", "uri", uri, "module", moduleID, "error", err)
		}
	}()
}

// OnFileRemoved applies oldDecls as a pure-removal delta in the background.
func (s *Service) OnFileRemoved(ctx context.Context, uri, moduleID string, oldDecls func() []symbolindex.Symbol) {
	if !s.enabled.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		old := oldDecls()
		if len(old) == 0 {
			return
		}
		if err := s.index.ApplyFileDelta(ctx, moduleID, old, nil); err != nil {
			s.log.Warn("indexing: failed to apply removal delta", "uri", uri, "module", moduleID, "error", err)
		}
	}()
}

// Wait blocks until every in-flight background delta application has
// finished. Intended for tests and for an orderly shutdown sequence.
func (s *Service) Wait() {
	s.wg.Wait()
}
