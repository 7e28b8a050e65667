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
	"context"
	"testing"
	"time"

	"kotlinls/service/kls/cancel"
	"kotlinls/service/kls/db"
	"kotlinls/service/kls/protocol"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	svc, err := db.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return New(svc, nil)
}

type fakeProvider struct {
	packages map[string][]Symbol
	order    []string
}

func (p *fakeProvider) Packages(ctx context.Context) ([]string, error) {
	return p.order, nil
}

func (p *fakeProvider) DeclarationsInPackage(ctx context.Context, pkg string) ([]Symbol, error) {
	return p.packages[pkg], nil
}

func sym(fq, short string, kind Kind) Symbol {
	return Symbol{FQName: fq, ShortName: short, Kind: kind, Visibility: VisibilityPublic}
}

func TestRefreshThenQueryFindsInsertedSymbols(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{
		order: []string{"com.example"},
		packages: map[string][]Symbol{
			"com.example": {
				sym("com.example.Foo", "Foo", KindClass),
				sym("com.example.Bar", "Bar", KindClass),
			},
		},
	}

	err := idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1})
	require.NoError(t, err)

	results, err := idx.QueryStrict(context.Background(), "Fo", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "com.example.Foo", results[0].FQName)
}

func TestIsIndexValidTracksBuildFileVersion(t *testing.T) {
	idx := newTestIndex(t)
	require.False(t, idx.IsIndexValid(context.Background(), 1))

	provider := &fakeProvider{
		order:    []string{"p"},
		packages: map[string][]Symbol{"p": {sym("p.A", "A", KindClass)}},
	}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 5}))

	require.True(t, idx.IsIndexValid(context.Background(), 5))
	require.True(t, idx.IsIndexValid(context.Background(), 3), "a lower required version should still be satisfied")
	require.False(t, idx.IsIndexValid(context.Background(), 6))
}

func TestRefreshSkipIfValidShortCircuits(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{
		order:    []string{"p"},
		packages: map[string][]Symbol{"p": {sym("p.A", "A", KindClass)}},
	}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 5}))

	// A rebuild from this provider would clear "A" (it has no declarations),
	// so still finding "A" afterwards proves the skip actually fired.
	exploding := &fakeProvider{order: []string{"boom"}}
	err := idx.Refresh(context.Background(), exploding, "", RefreshOptions{BuildFileVersion: 5, SkipIfValid: true})
	require.NoError(t, err)

	results, err := idx.QueryStrict(context.Background(), "A", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRefreshScopesByModuleIDAndPreservesOtherModules(t *testing.T) {
	idx := newTestIndex(t)
	providerA := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": {sym("p.A", "A", KindClass)}}}
	providerB := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": {sym("p.B", "B", KindClass)}}}

	require.NoError(t, idx.Refresh(context.Background(), providerA, "moduleA", RefreshOptions{BuildFileVersion: 1}))
	require.NoError(t, idx.Refresh(context.Background(), providerB, "moduleB", RefreshOptions{BuildFileVersion: 1}))

	// Re-running moduleA's refresh must not touch moduleB's symbols.
	require.NoError(t, idx.Refresh(context.Background(), providerA, "moduleA", RefreshOptions{BuildFileVersion: 2}))

	resultsA, err := idx.QueryStrict(context.Background(), "A", QueryOptions{ModuleID: "moduleA"})
	require.NoError(t, err)
	require.Len(t, resultsA, 1)

	resultsB, err := idx.QueryStrict(context.Background(), "B", QueryOptions{ModuleID: "moduleA"})
	require.NoError(t, err)
	require.Empty(t, resultsB, "moduleA's query should not see moduleB's private symbols")
}

func TestDependencySymbolsVisibleFromEveryModule(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": {sym("p.Dep", "Dep", KindClass)}}}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1}))

	results, err := idx.QueryStrict(context.Background(), "Dep", QueryOptions{ModuleID: "anyModule"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCancelCurrentRefreshIsIdempotentAndSafeWhenIdle(t *testing.T) {
	idx := newTestIndex(t)
	idx.CancelCurrentRefresh()
	idx.CancelCurrentRefresh()
	require.False(t, idx.IsIndexing())
}

func TestQueryEmptyPrefixReturnsNothing(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.QueryStrict(context.Background(), "", QueryOptions{})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestQueryRespectsLimit(t *testing.T) {
	idx := newTestIndex(t)
	decls := make([]Symbol, 0, 30)
	for i := 0; i < 30; i++ {
		decls = append(decls, sym("p.Item", "Item", KindClass))
	}
	provider := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": decls}}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1}))

	results, err := idx.QueryStrict(context.Background(), "Item", QueryOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestQueryDegradesToEmptyOnLockTimeout(t *testing.T) {
	idx := newTestIndex(t).WithQueryTimeout(10 * time.Millisecond)
	idx.indexLock.Lock()
	defer idx.indexLock.Unlock()

	results, err := idx.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)
	require.Nil(t, results)

	_, err = idx.QueryStrict(context.Background(), "anything", QueryOptions{})
	require.ErrorIs(t, err, ErrQueryTimeout)
}

func TestMalformedFQNamePassesStructTagsButFailsFormatCheck(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{
		order: []string{"p"},
		packages: map[string][]Symbol{
			// Non-empty and under the 255-char cap, so validator.Struct's
			// "required,max=255" tag is satisfied; the SQL-injection-shaped
			// name is only caught by ValidateFQName's regex.
			"p": {sym("com.example'; DROP TABLE symbols; --", "Evil", KindClass)},
		},
	}
	err := idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1})
	require.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestInvalidSymbolRejectsWholeBatch(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{
		order: []string{"p"},
		packages: map[string][]Symbol{
			"p": {
				sym("p.Good", "Good", KindClass),
				{FQName: "", ShortName: "", Kind: "", Visibility: ""}, // fails required validation
			},
		},
	}
	err := idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1})
	require.ErrorIs(t, err, ErrInvalidSymbol)
}

type fakeJarScanner struct {
	packages map[string][]string
	decls    map[string][]Symbol
	owners   map[string]string // fqName -> owning jar
}

func (f *fakeJarScanner) PackagesInJars(ctx context.Context, jars []string) ([]string, error) {
	var out []string
	for _, jar := range jars {
		out = append(out, f.packages[jar]...)
	}
	return out, nil
}

func (f *fakeJarScanner) DeclarationsInPackage(ctx context.Context, pkg string, jars []string) ([]Symbol, error) {
	return f.decls[pkg], nil
}

func (f *fakeJarScanner) ContainsClass(ctx context.Context, jar string, fqName string) (bool, error) {
	return f.owners[fqName] == jar, nil
}

func TestIndexJarsAttributesOwnership(t *testing.T) {
	idx := newTestIndex(t)
	scanner := &fakeJarScanner{
		packages: map[string][]string{"lib-a.jar": {"com.lib"}, "lib-b.jar": {"com.lib"}},
		decls:    map[string][]Symbol{"com.lib": {sym("com.lib.Widget", "Widget", KindClass)}},
		owners:   map[string]string{"com.lib.Widget": "lib-b.jar"},
	}

	err := idx.IndexJars(context.Background(), []string{"lib-a.jar", "lib-b.jar"}, "", scanner, cancel.New())
	require.NoError(t, err)

	results, err := idx.QueryStrict(context.Background(), "Widget", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "lib-b.jar", results[0].SourceJar)
}

func TestApplyFileDeltaReplacesRemovedWithAdded(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": {sym("p.Old", "Old", KindClass)}}}
	require.NoError(t, idx.Refresh(context.Background(), provider, "mod", RefreshOptions{BuildFileVersion: 1}))

	err := idx.ApplyFileDelta(context.Background(), "mod",
		[]Symbol{sym("p.Old", "Old", KindClass)},
		[]Symbol{sym("p.New", "New", KindClass)})
	require.NoError(t, err)

	old, err := idx.QueryStrict(context.Background(), "Old", QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, old)

	fresh, err := idx.QueryStrict(context.Background(), "New", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
}

func TestStatsReflectsSymbolCountAndIndexingState(t *testing.T) {
	idx := newTestIndex(t)
	provider := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{"p": {sym("p.A", "A", KindClass)}}}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 3}))

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SymbolCount)
	require.False(t, stats.IsIndexing)
	require.Equal(t, int64(3), stats.Metadata.BuildFileVersion)
}

func TestFindByFQNameReturnsResolvedLocation(t *testing.T) {
	idx := newTestIndex(t)
	loc := &protocol.Location{URI: "file:///a.kt", Range: protocol.Range{
		Start: protocol.Position{Line: 2, Character: 4},
		End:   protocol.Position{Line: 2, Character: 10},
	}}
	provider := &fakeProvider{order: []string{"p"}, packages: map[string][]Symbol{
		"p": {{FQName: "p.Foo", ShortName: "Foo", Kind: KindClass, Visibility: VisibilityPublic, Location: loc}},
	}}
	require.NoError(t, idx.Refresh(context.Background(), provider, "", RefreshOptions{BuildFileVersion: 1}))

	found, ok, err := idx.FindByFQName(context.Background(), "p.Foo", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, found.Location)
	require.Equal(t, *loc, *found.Location)
}

func TestFindByFQNameMissingReturnsFalse(t *testing.T) {
	idx := newTestIndex(t)
	_, ok, err := idx.FindByFQName(context.Background(), "no.such.Name", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApplyFileDeltaNoopOnEmptyDelta(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.ApplyFileDelta(context.Background(), "mod", nil, nil))
}

func TestRemoveSymbolsFromJarsDeletesOnlyThoseJars(t *testing.T) {
	idx := newTestIndex(t)
	scanner := &fakeJarScanner{
		packages: map[string][]string{"keep.jar": {"com.k"}, "drop.jar": {"com.d"}},
		decls: map[string][]Symbol{
			"com.k": {sym("com.k.Keep", "Keep", KindClass)},
			"com.d": {sym("com.d.Drop", "Drop", KindClass)},
		},
		owners: map[string]string{"com.k.Keep": "keep.jar", "com.d.Drop": "drop.jar"},
	}
	require.NoError(t, idx.IndexJars(context.Background(), []string{"keep.jar", "drop.jar"}, "", scanner, cancel.New()))

	require.NoError(t, idx.RemoveSymbolsFromJars(context.Background(), []string{"drop.jar"}))

	kept, err := idx.QueryStrict(context.Background(), "Keep", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, kept, 1)

	dropped, err := idx.QueryStrict(context.Background(), "Drop", QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, dropped)
}
