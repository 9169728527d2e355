package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverExportedFunctions(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pkg/api/api.go", `package api

// Greet returns a friendly greeting for the given name.
func Greet(name string) string {
	return "Hello " + name
}

func internalHelper() {}
`)

	units, err := NewDiscovery().Discover("svc", root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, "Greet", u.Name)
	assert.Equal(t, "pkg/api", u.Module)
	assert.Equal(t, "svc", u.Repository)
	assert.Contains(t, u.Doc, "friendly greeting")
	assert.Equal(t, "func Greet(name string) string", u.Signature)
	assert.True(t, filepath.IsAbs(u.SourcePath))
	assert.Equal(t, "pkg/api/api.go", u.RelPath)
	assert.Equal(t, "svc:pkg/api/api.go", u.StateKey())
	assert.Equal(t, "pkg/api/api.go:Greet", u.ID())
}

func TestDiscoverMethodsOnExportedTypes(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "store.go", `package store

type Store struct{}

// Get fetches a value.
func (s *Store) Get(key string) (string, error) { return "", nil }

type hidden struct{}

func (h *hidden) Peek() {}
`)

	units, err := NewDiscovery().Discover("svc", root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Store.Get", units[0].Name)
	assert.Equal(t, "", units[0].Module)
}

func TestDiscoverExcludesTestAndDocDirs(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pkg/a.go", "package pkg\n\nfunc Keep() {}\n")
	writeSource(t, root, "pkg/a_test.go", "package pkg\n\nfunc TestKeep() {}\n")
	writeSource(t, root, "testdata/skip.go", "package testdata\n\nfunc Skip() {}\n")
	writeSource(t, root, "vendor/dep/dep.go", "package dep\n\nfunc Skip() {}\n")
	writeSource(t, root, "docs/gen.go", "package docs\n\nfunc Skip() {}\n")

	units, err := NewDiscovery().Discover("svc", root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Keep", units[0].Name)
}

func TestDiscoverRestrictedPaths(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pkg/a.go", "package pkg\n\nfunc InPkg() {}\n")
	writeSource(t, root, "cmd/b.go", "package main\n\nfunc InCmd() {}\n")
	writeSource(t, root, "other/c.go", "package other\n\nfunc InOther() {}\n")

	units, err := NewDiscovery().Discover("svc", root, []string{"pkg", "cmd"})
	require.NoError(t, err)

	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.ElementsMatch(t, []string{"InPkg", "InCmd"}, names)
}

func TestDiscoverMissingRestrictedPathFails(t *testing.T) {
	root := t.TempDir()
	_, err := NewDiscovery().Discover("svc", root, []string{"no-such-dir"})
	assert.Error(t, err)
}

func TestDiscoverSkipsUnparsableFiles(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "good.go", "package p\n\nfunc Good() {}\n")
	writeSource(t, root, "broken.go", "package p\n\nfunc {{{\n")

	units, err := NewDiscovery().Discover("svc", root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Good", units[0].Name)
}

func TestPackageSiblings(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pkg/a.go", "package pkg\n\nfunc A() {}\n")
	writeSource(t, root, "pkg/b.go", "package pkg\n\nfunc B() {}\n")
	writeSource(t, root, "pkg/b_test.go", "package pkg\n")

	units, err := NewDiscovery().Discover("svc", root, nil)
	require.NoError(t, err)
	require.Len(t, units, 2)

	bySibling := map[string]string{}
	for _, u := range units {
		require.Len(t, u.Siblings, 1)
		bySibling[u.RelPath] = u.Siblings[0]
	}
	// Siblings are repo-relative so dependency edges stay stable between builds.
	assert.Equal(t, map[string]string{
		"pkg/a.go": "pkg/b.go",
		"pkg/b.go": "pkg/a.go",
	}, bySibling)
}
