package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_CreateAndCleanup(t *testing.T) {
	tempBase := t.TempDir()
	mgr := NewManager(tempBase)

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsPath := mgr.GetPath()
	if wsPath == "" {
		t.Fatal("GetPath() returned empty string")
	}

	if !strings.Contains(filepath.Base(wsPath), "docspipeline-") {
		t.Errorf("Expected named workspace directory, got: %s", wsPath)
	}

	if _, err := os.Stat(wsPath); os.IsNotExist(err) {
		t.Errorf("Workspace directory does not exist: %s", wsPath)
	}

	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	if _, err := os.Stat(wsPath); !os.IsNotExist(err) {
		t.Errorf("Workspace directory still exists after cleanup: %s", wsPath)
	}
}

func TestManager_CleanupIdempotent(t *testing.T) {
	mgr := NewManager(t.TempDir())

	// Cleanup before Create is a no-op.
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() before Create failed: %v", err)
	}

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	wsPath := mgr.GetPath()

	// Remove the directory out of band, then Cleanup must still succeed.
	if err := os.RemoveAll(wsPath); err != nil {
		t.Fatalf("manual remove failed: %v", err)
	}
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() after external removal failed: %v", err)
	}
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("second Cleanup() failed: %v", err)
	}
}

func TestManager_CreateSubdir(t *testing.T) {
	mgr := NewManager(t.TempDir())

	if _, err := mgr.CreateSubdir("repo"); err == nil {
		t.Fatal("CreateSubdir before Create should fail")
	}

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	defer func() { _ = mgr.Cleanup() }()

	subdir, err := mgr.CreateSubdir("repo")
	if err != nil {
		t.Fatalf("CreateSubdir failed: %v", err)
	}
	if filepath.Dir(subdir) != mgr.GetPath() {
		t.Errorf("subdir %s not under workspace %s", subdir, mgr.GetPath())
	}
	if _, err := os.Stat(subdir); err != nil {
		t.Errorf("subdir not created: %v", err)
	}

	// Distinct workspaces never collide.
	other := NewManager(filepath.Dir(mgr.GetPath()))
	if err := other.Create(); err != nil {
		t.Fatalf("second Create() failed: %v", err)
	}
	defer func() { _ = other.Cleanup() }()
	if other.GetPath() == mgr.GetPath() {
		t.Error("two workspaces share the same path")
	}
}

func TestSweep(t *testing.T) {
	base := t.TempDir()

	stale := NewManager(base)
	if err := stale.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	// Unrelated directories survive the sweep.
	keep := filepath.Join(base, "keep-me")
	if err := os.MkdirAll(keep, 0o750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	removed, err := Sweep(base)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d directories, want 1", removed)
	}
	if _, err := os.Stat(stale.GetPath()); !os.IsNotExist(err) {
		t.Errorf("stale workspace still exists: %s", stale.GetPath())
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("unrelated directory was removed: %v", err)
	}
}
