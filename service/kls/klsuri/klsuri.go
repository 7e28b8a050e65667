// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package klsuri converts between editor file:// URIs and the kls: scheme
// used to address declarations that live inside archives (JDK runtime jars,
// Gradle/Maven dependency caches) rather than on the workspace file system.
package klsuri

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Scheme is the custom LSP URI scheme used for decompiled/archive content.
const Scheme = "kls"

// KlsURI addresses a declaration that does not live in an editable workspace
// file: either a class inside a jar, or a synthetic decompiled source.
type KlsURI struct {
	// ArchivePath is the absolute path to the containing jar or zip, empty
	// for sources that are not archive-backed.
	ArchivePath string
	// EntryPath is the path of the entry within the archive (e.g.
	// "java/lang/String.class"), or a plain file path when ArchivePath is empty.
	EntryPath string
	// FQName is the fully-qualified declaration name, when known.
	FQName string
}

// String renders the KlsURI back to its wire form:
// kls:///path/to.jar!/entry/path?fq=com.example.Foo
func (u KlsURI) String() string {
	path := u.EntryPath
	if u.ArchivePath != "" {
		path = u.ArchivePath + "!/" + strings.TrimPrefix(u.EntryPath, "/")
	}
	v := url.URL{Scheme: Scheme, Path: "/" + strings.TrimPrefix(path, "/")}
	if u.FQName != "" {
		q := url.Values{}
		q.Set("fq", u.FQName)
		v.RawQuery = q.Encode()
	}
	return v.String()
}

// Parse decodes a kls: URI produced by String.
func Parse(raw string) (KlsURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return KlsURI{}, fmt.Errorf("parse kls uri %q: %w", raw, err)
	}
	if u.Scheme != Scheme {
		return KlsURI{}, fmt.Errorf("not a %s: uri: %q", Scheme, raw)
	}
	path := u.Path
	result := KlsURI{FQName: u.Query().Get("fq")}
	if idx := strings.Index(path, "!/"); idx >= 0 {
		result.ArchivePath = path[:idx]
		result.EntryPath = path[idx+2:]
	} else {
		result.EntryPath = strings.TrimPrefix(path, "/")
	}
	return result, nil
}

// PathToFileURI converts an absolute file path to a file:// URI, properly
// percent-encoding spaces and unicode.
func PathToFileURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	u := &url.URL{Scheme: "file", Path: path}
	return u.String()
}

// FileURIToPath converts a file:// URI to an absolute file path.
func FileURIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return strings.TrimPrefix(uri, "file://")
}

// ArchiveRoots lists filesystem locations treated as opaque archive homes:
// the running JDK's installation directory plus the user's Gradle/Maven
// dependency caches. Declarations whose source lives under one of these
// roots cannot be opened as an editable workspace file.
type ArchiveRoots struct {
	JDKHome    string
	GradleHome string
	MavenHome  string
}

// DefaultArchiveRoots resolves the conventional cache locations from the
// environment: $JAVA_HOME, $GRADLE_USER_HOME (default ~/.gradle), and ~/.m2.
func DefaultArchiveRoots() ArchiveRoots {
	home, _ := os.UserHomeDir()
	gradleHome := os.Getenv("GRADLE_USER_HOME")
	if gradleHome == "" && home != "" {
		gradleHome = filepath.Join(home, ".gradle")
	}
	mavenHome := ""
	if home != "" {
		mavenHome = filepath.Join(home, ".m2")
	}
	return ArchiveRoots{
		JDKHome:    os.Getenv("JAVA_HOME"),
		GradleHome: gradleHome,
		MavenHome:  mavenHome,
	}
}

// IsArchivePath reports whether path resolves inside one of the archive
// roots, or is itself a jar/zip entry path, or lies outside every given
// workspace root. Declarations here must be resolved through the decompile
// fallback chain rather than opened directly.
func (a ArchiveRoots) IsArchivePath(path string, workspaceRoots []string) bool {
	if path == "" {
		return false
	}
	abs := path
	if !filepath.IsAbs(abs) {
		if resolved, err := filepath.Abs(abs); err == nil {
			abs = resolved
		}
	}
	if strings.Contains(abs, "!/") || strings.HasSuffix(strings.ToLower(abs), ".jar") || strings.HasSuffix(strings.ToLower(abs), ".zip") {
		return true
	}
	for _, root := range []string{a.JDKHome, a.GradleHome, a.MavenHome} {
		if root == "" {
			continue
		}
		if underRoot(abs, root) {
			return true
		}
	}
	if len(workspaceRoots) == 0 {
		return false
	}
	for _, root := range workspaceRoots {
		if underRoot(abs, root) {
			return false
		}
	}
	return true
}

func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FormatPosition renders a 0-indexed position as "line:character" for use in
// log messages and query strings.
func FormatPosition(line, character int) string {
	return strconv.Itoa(line) + ":" + strconv.Itoa(character)
}
