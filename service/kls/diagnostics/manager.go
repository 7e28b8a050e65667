// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics debounces lint requests and publishes their results
// through an editor client, suppressing publication while the classpath is
// not ready and honouring open-document visibility rules.
package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kotlinls/service/kls/protocol"
)

// DefaultDebounceTime is applied when a Manager is built with a
// non-positive duration.
const DefaultDebounceTime = 250 * time.Millisecond

// LintAction runs the actual compile-and-lint work for uris and returns
// diagnostics grouped by file URI. cancelled reports whether the owning
// Manager has been closed since the action started, letting a long-running
// lint bail out of expensive work it knows will never be published.
type LintAction func(ctx context.Context, uris []string, cancelled func() bool) map[string][]protocol.Diagnostic

// Client is the minimal editor-facing surface the manager publishes to.
type Client interface {
	PublishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams)
}

// Manager holds the pending-URI set, the debounced trigger, and the
// publication policy (open-file visibility, minimum severity).
type Manager struct {
	mu      sync.Mutex
	pending map[string]struct{}

	debouncer *Debouncer

	actionMu sync.RWMutex
	action   LintAction

	clientMu sync.RWMutex
	client   Client

	isClassPathReady func() bool
	isOpen           func(uri string) bool

	level protocol.DiagnosticSeverity

	closed atomic.Bool
	log    *slog.Logger
}

// New builds a Manager. isClassPathReady gates the lint cycle (diagnostics
// are suppressed in degraded mode); isOpen decides whether a URI's
// diagnostics are published (open) or swallowed (not open).
func New(debounceTime time.Duration, isClassPathReady func() bool, isOpen func(uri string) bool, log *slog.Logger) *Manager {
	if debounceTime <= 0 {
		debounceTime = DefaultDebounceTime
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		pending:          make(map[string]struct{}),
		isClassPathReady: isClassPathReady,
		isOpen:           isOpen,
		level:            protocol.SeverityHint,
		log:              log,
	}
	m.debouncer = NewDebouncer(debounceTime, m.runCycle)
	return m
}

// SetLintAction installs the function invoked when the debouncer fires or
// lintImmediately runs.
func (m *Manager) SetLintAction(action LintAction) {
	m.actionMu.Lock()
	defer m.actionMu.Unlock()
	m.action = action
}

// Connect attaches the editor client diagnostics are published to.
func (m *Manager) Connect(client Client) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	m.client = client
}

// SetLevel sets the minimum severity published; diagnostics less severe
// than level are dropped before publication.
func (m *Manager) SetLevel(level protocol.DiagnosticSeverity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

// UpdateDebounceTime swaps the debouncer's period.
func (m *Manager) UpdateDebounceTime(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounceTime
	}
	m.debouncer.SetDuration(d)
}

// ScheduleLint inserts uri into the pending set and (re)starts the
// debounce countdown.
func (m *Manager) ScheduleLint(uri string) {
	m.insert(uri)
	m.debouncer.Trigger()
}

// LintImmediately inserts uri into the pending set and runs a lint cycle
// synchronously, bypassing the debounce window.
func (m *Manager) LintImmediately(uri string) {
	m.insert(uri)
	m.runCycle()
}

func (m *Manager) insert(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[uri] = struct{}{}
}

// ClearPending atomically drains and returns the pending set.
func (m *Manager) ClearPending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	uris := make([]string, 0, len(m.pending))
	for uri := range m.pending {
		uris = append(uris, uri)
	}
	m.pending = make(map[string]struct{})
	return uris
}

func (m *Manager) runCycle() {
	if m.isClassPathReady != nil && !m.isClassPathReady() {
		// Leave pending as-is; the next scheduleLint/debounce fire retries
		// once the classpath is ready again.
		return
	}

	uris := m.ClearPending()
	if len(uris) == 0 {
		return
	}

	m.actionMu.RLock()
	action := m.action
	m.actionMu.RUnlock()
	if action == nil {
		return
	}

	cancelled := func() bool { return m.closed.Load() }
	byFile := action(context.Background(), uris, cancelled)
	if cancelled() {
		return
	}
	m.publish(uris, byFile)
}

func (m *Manager) publish(uris []string, byFile map[string][]protocol.Diagnostic) {
	m.clientMu.RLock()
	client := m.client
	m.clientMu.RUnlock()
	if client == nil {
		return
	}

	m.mu.Lock()
	level := m.level
	m.mu.Unlock()

	for _, uri := range uris {
		if m.isOpen != nil && !m.isOpen(uri) {
			continue // swallow diagnostics for files the editor no longer has open
		}
		diags := filterBySeverity(byFile[uri], level)
		client.PublishDiagnostics(context.Background(), protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: diags,
		})
	}
}

func filterBySeverity(diags []protocol.Diagnostic, level protocol.DiagnosticSeverity) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		sev := d.Severity
		if sev == 0 {
			sev = protocol.SeverityError
		}
		if sev <= level {
			out = append(out, d)
		}
	}
	return out
}

// Close stops the debouncer and marks any in-flight lint action's
// cancelCallback true, suppressing its eventual publication.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.debouncer.Stop()
}
