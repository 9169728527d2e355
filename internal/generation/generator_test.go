package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericharmeling/docs-pipeline/internal/discovery"
)

type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

var testUnit = discovery.Unit{
	Name:       "Greet",
	Module:     "pkg/api",
	Signature:  "func Greet(name string) string",
	Doc:        "Greet returns a friendly greeting.",
	SourcePath: "/src/pkg/api/api.go",
	RelPath:    "pkg/api/api.go",
	Repository: "docs",
}

func TestGenerateParsesSections(t *testing.T) {
	completer := &fakeCompleter{response: `EXAMPLE:
Basic greeting usage
CODE:
result := api.Greet("world")
fmt.Println(result)
OUTPUT:
Hello world
TEST:
func TestGreet(t *testing.T) {
	if api.Greet("world") != "Hello world" {
		t.Fail()
	}
}
EXAMPLE:
Empty name
CODE:
fmt.Println(api.Greet(""))
OUTPUT:
Hello
`}

	artifacts, err := NewGenerator(completer).Generate(context.Background(), testUnit)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	first := artifacts[0]
	assert.Equal(t, "Basic greeting usage", first.Description)
	assert.Contains(t, first.Code, `api.Greet("world")`)
	assert.Equal(t, "Hello world", first.Output)
	assert.Contains(t, first.TestCode, "func TestGreet")

	second := artifacts[1]
	assert.Equal(t, "Empty name", second.Description)
	assert.Empty(t, second.TestCode)

	// The prompt carries the unit's surface.
	require.Len(t, completer.prompts, 1)
	assert.Contains(t, completer.prompts[0], "Greet")
	assert.Contains(t, completer.prompts[0], "func Greet(name string) string")
}

func TestGenerateStripsCodeFences(t *testing.T) {
	completer := &fakeCompleter{response: "EXAMPLE:\ndesc\nCODE:\n```go\nx := 1\n```\n"}

	artifacts, err := NewGenerator(completer).Generate(context.Background(), testUnit)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "x := 1", artifacts[0].Code)
}

func TestGenerateFailureYieldsEmptyArtifacts(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("service down")}

	artifacts, err := NewGenerator(completer).Generate(context.Background(), testUnit)
	require.Error(t, err)
	assert.Empty(t, artifacts)
}

func TestGenerateGarbageResponse(t *testing.T) {
	completer := &fakeCompleter{response: "I'm sorry, I can't help with that."}

	artifacts, err := NewGenerator(completer).Generate(context.Background(), testUnit)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestFormatMarkdown(t *testing.T) {
	artifacts := []Artifact{{
		Description: "Basic usage",
		Code:        `api.Greet("x")`,
		Output:      "Hello x",
		TestCode:    "func TestGreet(t *testing.T) {}",
	}}

	md := FormatMarkdown(testUnit, artifacts)
	assert.Contains(t, md, "# Greet")
	assert.Contains(t, md, "## Example 1: Basic usage")
	assert.Contains(t, md, "```go\nfunc Greet(name string) string\n```")
	assert.Contains(t, md, "Hello x")
}
