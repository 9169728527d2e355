// Package generation asks the generative service for usage examples and
// tests for discovered API units.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericharmeling/docs-pipeline/internal/discovery"
	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Completer abstracts the generative client for testability.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Artifact is one generated example with its optional test.
type Artifact struct {
	Description string
	Code        string
	Output      string
	TestCode    string
}

const systemPrompt = "You are a technical documentation assistant. Generate clear, " +
	"practical code examples that demonstrate proper API usage. Include test cases " +
	"that verify the functionality."

// Generator produces artifacts for documentable units.
type Generator struct {
	completer Completer
	logger    *slog.Logger
}

// NewGenerator creates a generator backed by the given completer.
func NewGenerator(completer Completer) *Generator {
	return &Generator{completer: completer, logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (g *Generator) WithLogger(logger *slog.Logger) *Generator {
	g.logger = logger
	return g
}

// Generate requests examples for one unit. A failed call yields an empty
// slice alongside the error; callers record it and continue.
func (g *Generator) Generate(ctx context.Context, unit discovery.Unit) ([]Artifact, error) {
	response, err := g.completer.Complete(ctx, systemPrompt, buildPrompt(unit))
	if err != nil {
		g.logger.Error("Generation failed", logfields.Unit(unit.ID()), logfields.Error(err))
		return nil, pipeerrors.GenerationFailed(unit.ID(), err)
	}
	artifacts := parseArtifacts(response)
	g.logger.Debug("Generated artifacts", logfields.Unit(unit.ID()), logfields.Count(len(artifacts)))
	return artifacts, nil
}

func buildPrompt(unit discovery.Unit) string {
	return fmt.Sprintf(`Please generate example code and tests for this API function:

Function Name: %s
Package: %s
Signature: %s
Doc Comment: %s

For each example, provide:
1. A description of what the example demonstrates
2. The example code itself (Go)
3. The expected output when the example runs
4. A Go test function that verifies the example works

Format each example as:
EXAMPLE:
<description>
CODE:
<example code>
OUTPUT:
<expected output>
TEST:
<test code>

Generate 2-3 examples that show different use cases.`,
		unit.Name, unit.Module, unit.Signature, unit.Doc)
}

// parseArtifacts splits the line-oriented EXAMPLE/CODE/OUTPUT/TEST sections.
func parseArtifacts(content string) []Artifact {
	var artifacts []Artifact
	var current *Artifact
	section := ""

	flush := func() {
		if current != nil {
			current.Description = strings.TrimSpace(current.Description)
			current.Code = strings.TrimRight(current.Code, "\n")
			current.Output = strings.TrimRight(current.Output, "\n")
			current.TestCode = strings.TrimRight(current.TestCode, "\n")
			artifacts = append(artifacts, *current)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "EXAMPLE:"):
			flush()
			current = &Artifact{}
			section = "description"
		case strings.HasPrefix(line, "CODE:"):
			section = "code"
		case strings.HasPrefix(line, "OUTPUT:"):
			section = "output"
		case strings.HasPrefix(line, "TEST:"):
			section = "test"
		default:
			if current == nil {
				continue
			}
			// Code fences from the model are noise, not content.
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			switch section {
			case "description":
				if strings.TrimSpace(line) != "" {
					current.Description += line + "\n"
				}
			case "code":
				current.Code += line + "\n"
			case "output":
				current.Output += line + "\n"
			case "test":
				current.TestCode += line + "\n"
			}
		}
	}
	flush()
	return artifacts
}

// FormatMarkdown renders artifacts as a markdown documentation section for a unit.
func FormatMarkdown(unit discovery.Unit, artifacts []Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", unit.Name)
	if unit.Doc != "" {
		fmt.Fprintf(&b, "%s\n\n", unit.Doc)
	}
	fmt.Fprintf(&b, "```go\n%s\n```\n\n", unit.Signature)

	for i, a := range artifacts {
		fmt.Fprintf(&b, "## Example %d: %s\n\n", i+1, a.Description)
		fmt.Fprintf(&b, "```go\n%s\n```\n\n", a.Code)
		if a.Output != "" {
			fmt.Fprintf(&b, "Output:\n\n```\n%s\n```\n\n", a.Output)
		}
		if a.TestCode != "" {
			fmt.Fprintf(&b, "Test:\n\n```go\n%s\n```\n\n", a.TestCode)
		}
	}
	return b.String()
}
