// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package klsuri

import "testing"

func TestStringThenParseRoundTrips(t *testing.T) {
	u := KlsURI{ArchivePath: "/home/u/.gradle/caches/lib.jar", EntryPath: "com/example/Foo.class", FQName: "com.example.Foo"}
	raw := u.String()

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	if parsed.ArchivePath != u.ArchivePath {
		t.Errorf("archive path: got %q want %q", parsed.ArchivePath, u.ArchivePath)
	}
	if parsed.EntryPath != u.EntryPath {
		t.Errorf("entry path: got %q want %q", parsed.EntryPath, u.EntryPath)
	}
	if parsed.FQName != u.FQName {
		t.Errorf("fq name: got %q want %q", parsed.FQName, u.FQName)
	}
}

func TestParseRejectsWrongScheme(t *testing.T) {
	if _, err := Parse("file:///a/b.kt"); err == nil {
		t.Fatal("expected an error parsing a non-kls scheme")
	}
}

func TestParseNonArchiveEntry(t *testing.T) {
	u := KlsURI{EntryPath: "decompiled/Foo.kt"}
	parsed, err := Parse(u.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.ArchivePath != "" {
		t.Errorf("expected no archive path, got %q", parsed.ArchivePath)
	}
	if parsed.EntryPath != "decompiled/Foo.kt" {
		t.Errorf("got entry path %q", parsed.EntryPath)
	}
}

func TestPathToFileURIAndBack(t *testing.T) {
	uri := PathToFileURI("/workspace/src/Main.kt")
	if uri != "file:///workspace/src/Main.kt" {
		t.Fatalf("unexpected uri: %q", uri)
	}
	if got := FileURIToPath(uri); got != "/workspace/src/Main.kt" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestFileURIToPathFallsBackWithoutScheme(t *testing.T) {
	if got := FileURIToPath("/a/b.kt"); got != "/a/b.kt" {
		t.Fatalf("got %q", got)
	}
}

func TestIsArchivePathDetectsJarsAndCaches(t *testing.T) {
	roots := ArchiveRoots{JDKHome: "/usr/lib/jvm/jdk17", GradleHome: "/home/u/.gradle", MavenHome: "/home/u/.m2"}

	cases := []struct {
		path string
		want bool
	}{
		{"/home/u/.gradle/caches/modules-2/lib.jar", true},
		{"/usr/lib/jvm/jdk17/lib/src.zip", true},
		{"/workspace/src/Main.kt", false},
		{"/some/random/other.jar", true},
	}
	for _, c := range cases {
		if got := roots.IsArchivePath(c.path, []string{"/workspace"}); got != c.want {
			t.Errorf("IsArchivePath(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestIsArchivePathOutsideWorkspaceRootsIsArchive(t *testing.T) {
	roots := ArchiveRoots{}
	if !roots.IsArchivePath("/outside/Other.kt", []string{"/workspace"}) {
		t.Fatal("expected a path outside every workspace root to be treated as archive-backed")
	}
	if roots.IsArchivePath("/workspace/src/Main.kt", []string{"/workspace"}) {
		t.Fatal("a path under a workspace root must not be treated as archive-backed")
	}
}

func TestFormatPosition(t *testing.T) {
	if got := FormatPosition(3, 7); got != "3:7" {
		t.Fatalf("got %q", got)
	}
}
