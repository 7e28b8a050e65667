// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package symbolindex

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Index operations.
var (
	// ErrInvalidSymbol is returned when a symbol fails struct validation
	// (missing required field, or a field exceeding its storage width).
	ErrInvalidSymbol = errors.New("symbolindex: invalid symbol")

	// ErrQueryTimeout is returned by Query when the read lock could not be
	// acquired within the configured budget. Callers should treat this as
	// an empty result, not a hard failure.
	ErrQueryTimeout = errors.New("symbolindex: query timed out waiting for the index lock")

	// ErrRefreshCancelled names a cancelled refresh. No Index method returns
	// it: a Refresh that observes its cancellation token set returns nil,
	// so the caller sees only a normal (possibly partial) completion.
	ErrRefreshCancelled = errors.New("symbolindex: refresh cancelled")
)

// BatchError aggregates the per-symbol failures of a batch insert. A batch
// insert is atomic: if any symbol is invalid, the whole batch is rejected
// and the caller receives every failure at once instead of stopping at the
// first one.
type BatchError struct {
	Errors []error
}

// Error implements the error interface with a compact one-line summary.
func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("symbolindex: batch failed: %v", e.Errors[0])
	}
	return fmt.Sprintf("symbolindex: batch failed with %d errors: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the individual errors for errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// ErrorList renders every error on its own line, for logging.
func (e *BatchError) ErrorList() string {
	lines := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}
