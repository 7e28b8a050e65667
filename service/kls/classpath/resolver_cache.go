// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// resolverCache memoises a ClassPathResolver's output keyed by build-file
// version, coalescing concurrent resolution requests for the same version
// into a single underlying call. Grounded on the teacher's GraphCache use
// of singleflight.Group to deduplicate concurrent builds of the same key.
type resolverCache struct {
	flight singleflight.Group

	mu      sync.Mutex
	version int64
	result  ResolveResult
	valid   bool
}

func newResolverCache() *resolverCache {
	return &resolverCache{}
}

// resolve returns the cached ResolveResult for version if present, else
// calls resolver.Resolve exactly once even under concurrent callers, and
// caches the outcome.
func (c *resolverCache) resolve(ctx context.Context, version int64, workspaceRoot string, resolver ClassPathResolver) (ResolveResult, error) {
	c.mu.Lock()
	if c.valid && c.version == version {
		result := c.result
		c.mu.Unlock()
		return result, nil
	}
	c.mu.Unlock()

	key := fmt.Sprintf("%s@%d", workspaceRoot, version)
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return resolver.Resolve(ctx, workspaceRoot)
	})
	if err != nil {
		return ResolveResult{}, err
	}
	result := v.(ResolveResult)

	c.mu.Lock()
	c.version = version
	c.result = result
	c.valid = true
	c.mu.Unlock()

	return result, nil
}

// invalidate discards any cached resolution, forcing the next resolve call
// to hit the resolver regardless of version.
func (c *resolverCache) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
