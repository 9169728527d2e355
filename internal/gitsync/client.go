// Package gitsync materializes configured source repositories into the
// transient workspace using go-git.
package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/ericharmeling/docs-pipeline/internal/config"
	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Client handles repository sync operations into a workspace directory.
type Client struct {
	workspaceDir string
	shallowDepth int
	logger       *slog.Logger
}

// NewClient creates a sync client rooted at the given workspace directory.
func NewClient(workspaceDir string) *Client {
	return &Client{workspaceDir: workspaceDir, logger: slog.Default()}
}

// WithShallowDepth limits clone history depth (0 = full history).
func (c *Client) WithShallowDepth(depth int) *Client {
	c.shallowDepth = depth
	return c
}

// WithLogger sets a custom logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Sync clones the repository into <workspace>/<name> and returns the
// resulting path. Any prior content at the destination is replaced.
func (c *Client) Sync(ctx context.Context, repo config.Repository) (string, error) {
	repoPath := filepath.Join(c.workspaceDir, repo.Name)
	c.logger.Debug("Syncing repository",
		logfields.Repository(repo.Name),
		slog.String("branch", repo.Branch),
		logfields.Path(repoPath))

	if err := os.RemoveAll(repoPath); err != nil {
		return "", pipeerrors.SyncFailed(repo.Name, fmt.Errorf("failed to clear destination: %w", err))
	}

	options := &git.CloneOptions{URL: repo.URL}
	if repo.Branch != "" {
		options.ReferenceName = plumbing.ReferenceName("refs/heads/" + repo.Branch)
		options.SingleBranch = true
	}
	if c.shallowDepth > 0 {
		options.Depth = c.shallowDepth
	}
	if repo.Auth != nil {
		auth, err := authMethod(repo.Auth)
		if err != nil {
			return "", pipeerrors.SyncFailed(repo.Name, err)
		}
		options.Auth = auth
	}

	if _, err := git.PlainCloneContext(ctx, repoPath, false, options); err != nil {
		return "", classify(repo.Name, err)
	}

	c.logger.Info("Synced repository", logfields.Repository(repo.Name), logfields.Path(repoPath))
	return repoPath, nil
}

// authMethod maps our auth config onto a go-git transport AuthMethod.
func authMethod(cfg *config.AuthConfig) (transport.AuthMethod, error) {
	switch cfg.Type {
	case "token":
		// Forges accept tokens as the basic-auth password with any username.
		return &http.BasicAuth{Username: "git", Password: cfg.Token}, nil
	case "basic":
		return &http.BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", cfg.Type)
	}
}

// classify translates go-git errors into typed sync errors, flagging
// transient network conditions as retryable.
func classify(repo string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "remote hung up"),
		strings.Contains(l, "connection reset"),
		strings.Contains(l, "timeout"),
		strings.Contains(l, "no route to host"),
		strings.Contains(l, "temporary failure"):
		return pipeerrors.SyncNetworkError(repo, err)
	default:
		return pipeerrors.SyncFailed(repo, err)
	}
}
