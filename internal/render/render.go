// Package render turns per-unit markdown documentation into HTML pages and
// verifies the intra-site links of the result.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// Page is one markdown document to render.
type Page struct {
	// Slug becomes the output file name (<slug>.html).
	Slug     string
	Title    string
	Markdown string
}

// Renderer writes HTML pages into an output directory.
type Renderer struct {
	outputDir string
	md        goldmark.Markdown
	logger    *slog.Logger
}

// NewRenderer creates a renderer writing into outputDir.
func NewRenderer(outputDir string) *Renderer {
	return &Renderer{
		outputDir: outputDir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithUnsafe()),
		),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (r *Renderer) WithLogger(logger *slog.Logger) *Renderer {
	r.logger = logger
	return r
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<nav><a href="index.html">Index</a></nav>
%s
</body>
</html>
`

// RenderAll converts pages to HTML, writes an index page linking them all,
// and returns the output directory.
func (r *Renderer) RenderAll(pages []Page) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create html output directory: %w", err)
	}

	var index strings.Builder
	index.WriteString("# Documentation Index\n\n")

	for _, page := range pages {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(page.Markdown), &buf); err != nil {
			return "", fmt.Errorf("failed to render %s: %w", page.Slug, err)
		}

		out := filepath.Join(r.outputDir, page.Slug+".html")
		content := fmt.Sprintf(pageTemplate, page.Title, buf.String())
		if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintf(&index, "- [%s](%s.html)\n", page.Title, page.Slug)
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(index.String()), &buf); err != nil {
		return "", fmt.Errorf("failed to render index: %w", err)
	}
	indexPath := filepath.Join(r.outputDir, "index.html")
	content := fmt.Sprintf(pageTemplate, "Documentation Index", buf.String())
	if err := os.WriteFile(indexPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write index: %w", err)
	}

	r.logger.Info("Rendered documentation", logfields.Path(r.outputDir), logfields.Count(len(pages)))
	return r.outputDir, nil
}

// Slugify derives a file-name-safe slug from a unit name.
func Slugify(name string) string {
	slug := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return c
		case c >= 'A' && c <= 'Z':
			return c + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
	return strings.Trim(slug, "-")
}
