// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cancel provides a cooperative cancellation token for long-running
// background work (symbol index rebuilds, classpath resolution) that must be
// interruptible at safe yield points without relying on goroutine interrupt.
package cancel

import (
	"context"
	"sync/atomic"
)

// Token is a cooperative cancellation flag. Unlike context.Context, a Token
// carries no deadline or value bag: it exists purely so that a long loop can
// poll IsCancelled() at package/batch boundaries without taking a lock.
type Token struct {
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Token bound to a fresh cancellable context. Cancel marks both
// the atomic flag (for polling loops) and the context (for anything that does
// want select-based cancellation, such as a database query timeout).
func New() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// NewWithParent creates a Token whose context is derived from parent.
func NewWithParent(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token cancelled. Safe to call multiple times and from
// multiple goroutines; only the first call has any effect.
func (t *Token) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// IsCancelled reports whether Cancel has been called. Intended to be polled
// at loop boundaries (per package, per batch) rather than per item.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// Context returns the token's context, for passing to APIs (database calls,
// HTTP requests) that accept one.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done returns a channel closed when the token is cancelled, mirroring
// context.Context.Done for use in select statements.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}
