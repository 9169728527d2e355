// Package report writes the permanent human-readable build reports.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Report file names inside the reports directory.
const (
	TestReportName       = "test_report.md"
	ValidationReportName = "validation_report.md"
)

// TestOutcome is one executed test's contribution to the test report.
type TestOutcome struct {
	Unit     string
	Passed   bool
	Coverage float64
}

// ValidationSummary is the aggregated validation verdict for one build.
type ValidationSummary struct {
	Valid       bool
	Errors      []string
	Suggestions []string
}

// Emitter writes reports to a fixed permanent directory. Emission failures
// are fatal for the build: downstream consumers rely on reports existing.
type Emitter struct {
	outputDir string
	logger    *slog.Logger
	titler    cases.Caser
	now       func() time.Time
}

// NewEmitter creates an emitter writing into outputDir.
func NewEmitter(outputDir string) *Emitter {
	return &Emitter{
		outputDir: outputDir,
		logger:    slog.Default(),
		titler:    cases.Title(language.English),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (e *Emitter) WithLogger(logger *slog.Logger) *Emitter {
	e.logger = logger
	return e
}

// EmitTestReport writes the test execution summary.
func (e *Emitter) EmitTestReport(project string, outcomes []TestOutcome) error {
	passed := 0
	for _, o := range outcomes {
		if o.Passed {
			passed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Test Execution Report\n\n", e.titler.String(project))
	fmt.Fprintf(&b, "Generated on: %s\n\n", e.now().Format("2006-01-02 15:04:05"))
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total Tests: %d\n", len(outcomes))
	fmt.Fprintf(&b, "- Passed: %d\n", passed)
	fmt.Fprintf(&b, "- Failed: %d\n", len(outcomes)-passed)

	if len(outcomes) > 0 {
		b.WriteString("\n## Results\n\n")
		for _, o := range outcomes {
			status := "PASS"
			if !o.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(&b, "- %s: %s (coverage %.1f%%)\n", o.Unit, status, o.Coverage)
		}
	}

	return e.write(TestReportName, b.String())
}

// EmitValidationReport writes the documentation validation summary.
func (e *Emitter) EmitValidationReport(project string, summary ValidationSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Validation Report\n\n", e.titler.String(project))
	fmt.Fprintf(&b, "Generated on: %s\n\n", e.now().Format("2006-01-02 15:04:05"))
	b.WriteString("## Status\n\n")
	status := "Valid"
	if !summary.Valid {
		status = "Invalid"
	}
	fmt.Fprintf(&b, "- Overall Status: %s\n", status)

	if len(summary.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, err := range summary.Errors {
			fmt.Fprintf(&b, "- %s\n", err)
		}
	}
	if len(summary.Suggestions) > 0 {
		b.WriteString("\n## Suggestions\n\n")
		for _, s := range summary.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	return e.write(ValidationReportName, b.String())
}

func (e *Emitter) write(name, content string) error {
	if err := os.MkdirAll(e.outputDir, 0o750); err != nil {
		return pipeerrors.ReportEmissionFailed(e.outputDir, err)
	}
	path := filepath.Join(e.outputDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return pipeerrors.ReportEmissionFailed(path, err)
	}
	e.logger.Info("Emitted report", logfields.Path(path))
	return nil
}
