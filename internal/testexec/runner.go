// Package testexec executes generated test code in a throwaway module and
// reports pass/fail plus coverage.
package testexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Result is the outcome of executing one unit's generated tests.
type Result struct {
	Passed             bool
	CoveragePercentage float64
	ErrorMessage       string
}

// Runner executes generated Go test files under a scratch directory.
type Runner struct {
	workDir string
	logger  *slog.Logger
}

// NewRunner creates a runner writing scratch test modules under workDir.
func NewRunner(workDir string) *Runner {
	return &Runner{workDir: workDir, logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

var coverageRe = regexp.MustCompile(`coverage: ([\d.]+)% of statements`)

// Run writes testCode into a fresh single-file test module and executes
// `go test -cover` on it. The scratch directory is removed afterwards
// regardless of outcome. A failing test is a Result, not an error.
func (r *Runner) Run(ctx context.Context, unitName, testCode string) Result {
	dir := filepath.Join(r.workDir, fmt.Sprintf("test-%s-%d", sanitize(unitName), time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{ErrorMessage: pipeerrors.TestRunFailed(unitName, err).Error()}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("Failed to cleanup test directory", logfields.Path(dir), logfields.Error(err))
		}
	}()

	files := map[string]string{
		"go.mod":            "module generated.example/doctest\n\ngo 1.24\n",
		"generated_test.go": ensurePackageClause(testCode),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return Result{ErrorMessage: fmt.Sprintf("failed to write %s: %v", name, err)}
		}
	}

	cmd := exec.CommandContext(ctx, "go", "test", "-cover", "./...")
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()

	result := Result{
		Passed:             err == nil,
		CoveragePercentage: parseCoverage(string(output)),
	}
	if err != nil {
		result.ErrorMessage = truncate(strings.TrimSpace(string(output)), 2000)
		if result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
		r.logger.Debug("Generated tests failed", logfields.Unit(unitName), logfields.Error(err))
	}
	return result
}

// ensurePackageClause makes bare generated test functions compilable by
// prefixing a package declaration and testing import when the model
// omitted them. Code that declares its own package passes through untouched.
func ensurePackageClause(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			return code
		}
		break
	}
	return "package doctest\n\nimport \"testing\"\n\n" + code
}

func parseCoverage(output string) float64 {
	m := coverageRe.FindStringSubmatch(output)
	if len(m) != 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
