// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import "sync"

// OpenFiles is SourceFiles: the record of which URIs the editor currently
// has open and at which client-assigned version. It is deliberately
// separate from Path, which tracks compile state for every file the
// workspace has ever touched (including temporaries the editor never
// opened) — OpenFiles answers "should didClose forget this file" and
// "did the client skip a version", not "what does this file compile to".
type OpenFiles struct {
	mu   sync.RWMutex
	open map[string]int
}

// NewOpenFiles builds an empty registry.
func NewOpenFiles() *OpenFiles {
	return &OpenFiles{open: make(map[string]int)}
}

// Open records uri as open at version, overwriting any prior version.
func (f *OpenFiles) Open(uri string, version int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[uri] = version
}

// Close forgets uri. Reports whether it had been open.
func (f *OpenFiles) Close(uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.open[uri]
	delete(f.open, uri)
	return ok
}

// IsOpen reports whether uri is currently tracked as open.
func (f *OpenFiles) IsOpen(uri string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.open[uri]
	return ok
}

// Version returns uri's last-recorded client version.
func (f *OpenFiles) Version(uri string) (int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.open[uri]
	return v, ok
}

// UpdateVersion bumps an already-open uri to version. A no-op if uri is
// not currently open.
func (f *OpenFiles) UpdateVersion(uri string, version int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[uri]; ok {
		f.open[uri] = version
	}
}

// All returns every currently open URI, order unspecified.
func (f *OpenFiles) All() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.open))
	for uri := range f.open {
		out = append(out, uri)
	}
	return out
}
