package module

import (
	"path/filepath"
	"testing"
)

func TestRegistryEmptyMeansSingleModule(t *testing.T) {
	r := New()
	if !r.IsEmpty() {
		t.Fatal("fresh registry should be empty")
	}
	if _, ok := r.FindModuleForFile("/anywhere/Foo.kt"); ok {
		t.Fatal("empty registry should not resolve any module")
	}
}

func TestRegistryFindsMostSpecificModule(t *testing.T) {
	r := New()
	r.Set([]Info{
		{Name: "app", RootPath: "/ws/app", SourceDirs: []string{"/ws/app/src"}},
		{Name: "app-lib", RootPath: "/ws/app/lib", SourceDirs: []string{"/ws/app/src/lib"}},
	})

	m, ok := r.FindModuleForFile("/ws/app/src/lib/Foo.kt")
	if !ok {
		t.Fatal("expected a module match")
	}
	if m.Name != "app-lib" {
		t.Fatalf("expected most specific module app-lib, got %s", m.Name)
	}

	m, ok = r.FindModuleForFile("/ws/app/src/Bar.kt")
	if !ok || m.Name != "app" {
		t.Fatalf("expected module app, got %+v ok=%v", m, ok)
	}

	if _, ok := r.FindModuleForFile("/elsewhere/Baz.kt"); ok {
		t.Fatal("file outside all source dirs should not resolve")
	}
}

func TestRegistrySetReplacesAtomically(t *testing.T) {
	r := New()
	r.Set([]Info{{Name: "a", SourceDirs: []string{"/ws/a"}}})
	r.Set([]Info{{Name: "b", SourceDirs: []string{"/ws/b"}}})

	if _, ok := r.Get("a"); ok {
		t.Fatal("module a should have been replaced")
	}
	if _, ok := r.Get("b"); !ok {
		t.Fatal("module b should be present")
	}
}

func TestInfoCloneIsIndependent(t *testing.T) {
	r := New()
	r.Set([]Info{{Name: "a", SourceDirs: []string{"/ws/a"}, ClassPath: []string{"/lib/x.jar"}}})

	got, _ := r.Get("a")
	got.SourceDirs[0] = "mutated"
	got.ClassPath[0] = "mutated"

	got2, _ := r.Get("a")
	if got2.SourceDirs[0] != filepath.Clean("/ws/a") {
		t.Fatalf("mutation of returned Info leaked into registry: %v", got2.SourceDirs)
	}
	if got2.ClassPath[0] != "/lib/x.jar" {
		t.Fatalf("mutation of returned Info leaked into registry: %v", got2.ClassPath)
	}
}
