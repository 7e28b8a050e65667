// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"sync"
	"time"
)

// Debouncer fires fn once no Trigger has arrived for the configured
// duration. Each Trigger call resets the pending timer, so a steady stream
// of edits keeps postponing the fire instead of running fn once per edit.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
	fn       func()
	stopped  bool
}

// NewDebouncer builds a Debouncer that calls fn after duration of quiet.
func NewDebouncer(duration time.Duration, fn func()) *Debouncer {
	return &Debouncer{duration: duration, fn: fn}
}

// Trigger (re)starts the countdown to the next fire.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.duration, d.fn)
		return
	}
	d.timer.Reset(d.duration)
}

// SetDuration swaps the debounce period; it applies to the next Trigger.
func (d *Debouncer) SetDuration(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duration = duration
}

// Stop cancels any pending fire. A pending tick that has already begun
// running fn is not interrupted; a tick that has not yet fired is lost, per
// the debouncer's stated cancellation semantics.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
