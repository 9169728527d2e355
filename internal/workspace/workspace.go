package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Manager handles the lifecycle of one build's transient workspace.
type Manager struct {
	baseDir string
	tempDir string
}

// NewManager creates a workspace manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Create creates a uniquely named workspace directory for this build.
func (m *Manager) Create() error {
	timestamp := time.Now().Format("20060102-150405")
	// uuid suffix keeps builds started in the same second apart
	suffix := uuid.NewString()[:6]
	tempDir := filepath.Join(m.baseDir, fmt.Sprintf("docspipeline-%s-%s", timestamp, suffix))

	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return pipeerrors.WorkspaceError("create", err)
	}

	m.tempDir = tempDir
	slog.Info("Created workspace", logfields.Path(tempDir))
	return nil
}

// GetPath returns the path to the workspace directory.
func (m *Manager) GetPath() string {
	return m.tempDir
}

// CreateSubdir creates a subdirectory within the workspace.
func (m *Manager) CreateSubdir(name string) (string, error) {
	if m.tempDir == "" {
		return "", fmt.Errorf("workspace not created")
	}

	subdir := filepath.Join(m.tempDir, name)
	if err := os.MkdirAll(subdir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	return subdir, nil
}

// Cleanup removes the workspace directory. It is safe to call more than once
// and when the directory was already removed out of band.
func (m *Manager) Cleanup() error {
	if m.tempDir == "" {
		return nil
	}

	if err := os.RemoveAll(m.tempDir); err != nil {
		return pipeerrors.WorkspaceError("cleanup", err)
	}

	slog.Info("Cleaned up workspace", logfields.Path(m.tempDir))
	m.tempDir = ""
	return nil
}

// Sweep removes every leftover workspace directory under baseDir, typically
// after a crashed build. Returns the number of directories removed.
func Sweep(baseDir string) (int, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read workspace base directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "docspipeline-") {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		slog.Info("Removed stale workspace", logfields.Path(path))
		removed++
	}
	return removed, nil
}
