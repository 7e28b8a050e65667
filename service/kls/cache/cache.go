// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the per-LSP-operation response caches: one bounded
// LRU per operation kind, keyed on the exact positional request that
// produced it, invalidated as source files change.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the per-cache entry bound used when a Manager is
// constructed with capacity <= 0.
const DefaultCapacity = 200

// Kind names one of the cached LSP operation families.
type Kind string

const (
	KindDefinition Kind = "definition"
	KindHover      Kind = "hover"
	KindCompletion Kind = "completion"
	KindReferences Kind = "references"
)

// Key identifies one cached response. A read requires an exact match on
// every field; there is no fuzzy or range-based lookup.
type Key struct {
	URI         string
	Line        int
	Character   int
	FileVersion int
}

type entry struct {
	key   Key
	value any
	elem  *list.Element
}

// lruCache is a fixed-capacity, intrinsic-lock-protected LRU keyed by Key.
// Grounded on the map+list.List+RWMutex shape of the teacher's GraphCache,
// simplified here since cached values carry no close/release lifecycle.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*entry
	order    *list.List
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &lruCache{
		capacity: capacity,
		entries:  make(map[Key]*entry),
		order:    list.New(),
	}
}

func (c *lruCache) get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

func (c *lruCache) put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, value: value}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// invalidateURI removes every entry whose key URI matches uri.
func (c *lruCache) invalidateURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if key.URI == uri {
			c.order.Remove(e.elem)
			delete(c.entries, key)
		}
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
	c.order.Init()
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Manager is the LspCacheManager: one lruCache per operation Kind.
//
// References are never selectively invalidated by URI: a reference search
// can span every file in the workspace, so any edit anywhere invalidates
// the whole references cache rather than trying to compute which cached
// answers the edit could have affected.
type Manager struct {
	definition *lruCache
	hover      *lruCache
	completion *lruCache
	references *lruCache
}

// NewManager builds a Manager with capacity entries per operation kind.
func NewManager(capacity int) *Manager {
	return &Manager{
		definition: newLRUCache(capacity),
		hover:      newLRUCache(capacity),
		completion: newLRUCache(capacity),
		references: newLRUCache(capacity),
	}
}

func (m *Manager) cacheFor(kind Kind) *lruCache {
	switch kind {
	case KindDefinition:
		return m.definition
	case KindHover:
		return m.hover
	case KindCompletion:
		return m.completion
	case KindReferences:
		return m.references
	default:
		return nil
	}
}

// Get looks up a previously cached response for kind at key.
func (m *Manager) Get(kind Kind, key Key) (any, bool) {
	c := m.cacheFor(kind)
	if c == nil {
		return nil, false
	}
	return c.get(key)
}

// Put stores value as the cached response for kind at key.
func (m *Manager) Put(kind Kind, key Key, value any) {
	c := m.cacheFor(kind)
	if c == nil {
		return
	}
	c.put(key, value)
}

// InvalidateFile drops every definition/hover/completion entry for uri and
// unconditionally clears the references cache, since a reference answer for
// any file may have depended on uri's prior content.
func (m *Manager) InvalidateFile(uri string) {
	m.definition.invalidateURI(uri)
	m.hover.invalidateURI(uri)
	m.completion.invalidateURI(uri)
	m.references.clear()
}

// ClearAll drops every cached response across all four kinds. Called when
// the classpath becomes READY or module assignments change, since either
// event can change what a previously cached answer should have been.
func (m *Manager) ClearAll() {
	m.definition.clear()
	m.hover.clear()
	m.completion.clear()
	m.references.clear()
}

// Len reports the current entry count for kind, for tests and diagnostics.
func (m *Manager) Len(kind Kind) int {
	c := m.cacheFor(kind)
	if c == nil {
		return 0
	}
	return c.len()
}
