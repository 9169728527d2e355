// Package validation checks generated documentation against its source via
// the generative service and parses the structured verdict.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Completer abstracts the generative client for testability.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Result is the structured verdict for one source/documentation pair.
type Result struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Suggestions []string `json:"suggestions"`
}

const systemPrompt = "You are a technical documentation validator. Your task is to verify " +
	"the accuracy of API documentation against source code. Be thorough and precise in " +
	"your analysis."

// Validator validates documentation for changed units.
type Validator struct {
	completer Completer
	logger    *slog.Logger
}

// NewValidator creates a validator backed by the given completer.
func NewValidator(completer Completer) *Validator {
	return &Validator{completer: completer, logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (v *Validator) WithLogger(logger *slog.Logger) *Validator {
	v.logger = logger
	return v
}

// Validate returns the adapter's verdict for a source/documentation pair.
// Internal failures never escape: they surface as an invalid result carrying
// the failure text.
func (v *Validator) Validate(ctx context.Context, source, documentation string) Result {
	response, err := v.completer.Complete(ctx, systemPrompt, buildPrompt(source, documentation))
	if err != nil {
		v.logger.Error("Validation call failed", logfields.Error(err))
		return Result{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("validation error: %v", err)},
		}
	}

	result := parseResponse(response)
	if !result.IsValid {
		for _, e := range result.Errors {
			v.logger.Warn("Validation error", slog.String("detail", e))
		}
	}
	return result
}

func buildPrompt(source, documentation string) string {
	return fmt.Sprintf(`Please validate the following API documentation against the source code:

Source Code:
`+"```go\n%s\n```"+`

Documentation:
`+"```markdown\n%s\n```"+`

Please:
1. Verify that all documented functions and parameters match the source code
2. Check that return types and descriptions are accurate
3. Validate that example code is correct
4. Identify any missing or outdated documentation

Respond with:
- VALID if documentation is accurate
- INVALID if there are errors, followed by a list of specific issues
- Include specific suggestions for improvements

Your response should be structured as:
VALID|INVALID
ERRORS:
- Error 1
- Error 2
SUGGESTIONS:
- Suggestion 1
- Suggestion 2`, source, documentation)
}

// parseResponse reads the VALID|INVALID verdict line and the dashed items of
// the ERRORS and SUGGESTIONS sections.
func parseResponse(content string) Result {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return Result{IsValid: false, Errors: []string{"empty validation response"}}
	}

	result := Result{IsValid: strings.TrimSpace(lines[0]) == "VALID"}

	section := ""
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "ERRORS:"):
			section = "errors"
		case strings.HasPrefix(line, "SUGGESTIONS:"):
			section = "suggestions"
		case strings.HasPrefix(strings.TrimSpace(line), "- "):
			item := strings.TrimPrefix(strings.TrimSpace(line), "- ")
			if item == "" || strings.EqualFold(item, "none") {
				continue
			}
			switch section {
			case "errors":
				result.Errors = append(result.Errors, item)
			case "suggestions":
				result.Suggestions = append(result.Suggestions, item)
			}
		}
	}
	return result
}
