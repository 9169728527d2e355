package gitsync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericharmeling/docs-pipeline/internal/config"
	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
)

// initLocalRepo builds a minimal git repository on disk to clone from.
func initLocalRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.go"), []byte("package api\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func TestSyncClonesIntoWorkspace(t *testing.T) {
	source := initLocalRepo(t)
	workspace := t.TempDir()

	client := NewClient(workspace)
	path, err := client.Sync(context.Background(), config.Repository{
		URL:    source,
		Name:   "api-service",
		Branch: "main",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(workspace, "api-service"), path)
	_, err = os.Stat(filepath.Join(path, "api.go"))
	assert.NoError(t, err)
}

func TestSyncReplacesExistingDestination(t *testing.T) {
	source := initLocalRepo(t)
	workspace := t.TempDir()

	stale := filepath.Join(workspace, "api-service")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "stale.txt"), []byte("old"), 0o644))

	client := NewClient(workspace)
	path, err := client.Sync(context.Background(), config.Repository{
		URL: source, Name: "api-service", Branch: "main",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(path, "stale.txt"))
	assert.True(t, os.IsNotExist(err), "stale content should be gone")
}

func TestSyncInvalidSourceReturnsTypedError(t *testing.T) {
	client := NewClient(t.TempDir())
	_, err := client.Sync(context.Background(), config.Repository{
		URL:  filepath.Join(t.TempDir(), "does-not-exist"),
		Name: "ghost",
	})
	require.Error(t, err)

	var pe *pipeerrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, []pipeerrors.ErrorCategory{pipeerrors.CategorySync, pipeerrors.CategoryNetwork}, pe.Category)
}

func TestAuthMethodMapping(t *testing.T) {
	m, err := authMethod(&config.AuthConfig{Type: "token", Token: "tok"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = authMethod(&config.AuthConfig{Type: "basic", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = authMethod(&config.AuthConfig{Type: "ssh-agent"})
	assert.Error(t, err)
}
