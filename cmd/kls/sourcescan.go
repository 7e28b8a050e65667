// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"kotlinls/service/kls/klsuri"
	"kotlinls/service/kls/protocol"
	"kotlinls/service/kls/symbolindex"
)

var (
	packageDeclRe = regexp.MustCompile(`^\s*package\s+([A-Za-z0-9_.]+)`)
	topLevelDeclRe = regexp.MustCompile(`^\s*(?:(private|internal|protected)\s+)?(?:(?:abstract|open|final|sealed|data|enum|inline)\s+)*(class|interface|object|fun|val|var|typealias)\s+([A-Za-z_][A-Za-zA-Z0-9_]*)`)
)

// sourceScanner is a regex-based stand-in for a real Kotlin/JVM front end,
// which stays out of scope for the library itself. It walks a workspace
// root for .kt files and extracts top-level declarations line by line, just
// enough to drive symbolindex.PackageProvider and give the standalone CLI
// something to index without an embedding build-tool integration.
type sourceScanner struct {
	root     string
	packages map[string][]symbolindex.Symbol
}

func newSourceScanner(root string) (*sourceScanner, error) {
	s := &sourceScanner{root: root, packages: make(map[string][]symbolindex.Symbol)}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "build", ".gradle", ".git", "out":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".kt") {
			return nil
		}
		return s.scanFile(path)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sourceScanner) scanFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, sym := range scanDeclarations(path, f) {
		pkg := packageOf(sym.FQName, sym.ShortName)
		s.packages[pkg] = append(s.packages[pkg], sym)
	}
	return nil
}

// scanDeclarations extracts top-level declarations from content read from r,
// addressed to the file:// URI for path. Shared between the standalone
// PackageProvider above and the stub Compiler's Parse, so both surfaces
// agree on what a "declaration" is.
func scanDeclarations(path string, r *os.File) []symbolindex.Symbol {
	uri := klsuri.PathToFileURI(path)
	var decls []symbolindex.Symbol
	pkg := ""
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		text := scanner.Text()
		if pkg == "" {
			if m := packageDeclRe.FindStringSubmatch(text); m != nil {
				pkg = m[1]
			}
		}
		if m := topLevelDeclRe.FindStringSubmatch(text); m != nil {
			name := m[3]
			fq := name
			if pkg != "" {
				fq = pkg + "." + name
			}
			col := strings.Index(text, name)
			if col < 0 {
				col = 0
			}
			decls = append(decls, symbolindex.Symbol{
				FQName:     fq,
				ShortName:  name,
				Kind:       declarationKind(m[2]),
				Visibility: declarationVisibility(m[1]),
				Location: &protocol.Location{
					URI: uri,
					Range: protocol.Range{
						Start: protocol.Position{Line: line, Character: col},
						End:   protocol.Position{Line: line, Character: col + len(name)},
					},
				},
			})
		}
		line++
	}
	return decls
}

func declarationKind(token string) symbolindex.Kind {
	switch token {
	case "class", "interface":
		return symbolindex.KindClass
	case "object":
		return symbolindex.KindObject
	case "fun":
		return symbolindex.KindFunction
	case "val", "var":
		return symbolindex.KindVariable
	case "typealias":
		return symbolindex.KindTypeAlias
	default:
		return symbolindex.KindClass
	}
}

func declarationVisibility(token string) symbolindex.Visibility {
	switch token {
	case "private":
		return symbolindex.VisibilityPrivate
	case "internal":
		return symbolindex.VisibilityInternal
	case "protected":
		return symbolindex.VisibilityProtected
	default:
		return symbolindex.VisibilityPublic
	}
}

func packageOf(fqName, shortName string) string {
	return strings.TrimSuffix(strings.TrimSuffix(fqName, shortName), ".")
}

func (s *sourceScanner) Packages(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(s.packages))
	for pkg := range s.packages {
		out = append(out, pkg)
	}
	return out, nil
}

func (s *sourceScanner) DeclarationsInPackage(ctx context.Context, pkg string) ([]symbolindex.Symbol, error) {
	return s.packages[pkg], nil
}
