// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexing

import (
	"context"
	"testing"

	"kotlinls/service/kls/db"
	"kotlinls/service/kls/symbolindex"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *symbolindex.Index) {
	t.Helper()
	svc, err := db.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	idx := symbolindex.New(svc, nil)
	return New(idx, nil), idx
}

func TestOnFileCompiledAppliesDeltaWhenEnabled(t *testing.T) {
	s, idx := newTestService(t)

	called := false
	s.OnFileCompiled(context.Background(), "file:///a.kt", "mod",
		func() []symbolindex.Symbol { return nil },
		func() []symbolindex.Symbol {
			called = true
			return []symbolindex.Symbol{{FQName: "a.Foo", ShortName: "Foo", Kind: symbolindex.KindClass, Visibility: symbolindex.VisibilityPublic}}
		})
	s.Wait()

	require.True(t, called)
	results, err := idx.QueryStrict(context.Background(), "Foo", symbolindex.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestOnFileCompiledSkipsClosuresWhenDisabled(t *testing.T) {
	s, _ := newTestService(t)
	s.SetEnabled(false)

	called := false
	s.OnFileCompiled(context.Background(), "file:///a.kt", "mod",
		func() []symbolindex.Symbol { return nil },
		func() []symbolindex.Symbol {
			called = true
			return nil
		})
	s.Wait()

	require.False(t, called, "disabled indexing must never invoke the lazy provider closures")
}

func TestOnFileRemovedDeletesSymbols(t *testing.T) {
	s, idx := newTestService(t)

	s.OnFileCompiled(context.Background(), "file:///a.kt", "mod",
		func() []symbolindex.Symbol { return nil },
		func() []symbolindex.Symbol {
			return []symbolindex.Symbol{{FQName: "a.Foo", ShortName: "Foo", Kind: symbolindex.KindClass, Visibility: symbolindex.VisibilityPublic}}
		})
	s.Wait()

	s.OnFileRemoved(context.Background(), "file:///a.kt", "mod", func() []symbolindex.Symbol {
		return []symbolindex.Symbol{{FQName: "a.Foo", ShortName: "Foo", Kind: symbolindex.KindClass, Visibility: symbolindex.VisibilityPublic}}
	})
	s.Wait()

	results, err := idx.QueryStrict(context.Background(), "Foo", symbolindex.QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}
