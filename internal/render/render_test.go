package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAllWritesPagesAndIndex(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)

	pages := []Page{
		{Slug: "parse-config", Title: "ParseConfig", Markdown: "# ParseConfig\n\nSome *docs*.\n"},
		{Slug: "load-state", Title: "LoadState", Markdown: "# LoadState\n\nSee [ParseConfig](parse-config.html).\n"},
	}

	out, err := r.RenderAll(pages)
	require.NoError(t, err)
	assert.Equal(t, dir, out)

	content, err := os.ReadFile(filepath.Join(dir, "parse-config.html"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "<em>docs</em>")
	assert.Contains(t, string(content), "<title>ParseConfig</title>")

	index, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `href="parse-config.html"`)
	assert.Contains(t, string(index), `href="load-state.html"`)
}

func TestVerifyLinksReportsMissingTargets(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)

	_, err := r.RenderAll([]Page{
		{Slug: "good", Title: "Good", Markdown: "[index](index.html)\n"},
		{Slug: "bad", Title: "Bad", Markdown: "[gone](missing.html)\n"},
	})
	require.NoError(t, err)

	broken, err := VerifyLinks(dir)
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, "missing.html", broken[0].Link.URL)
	assert.Equal(t, "bad.html", broken[0].Link.SourcePage)
}

func TestVerifyLinksSkipsExternal(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)

	_, err := r.RenderAll([]Page{
		{Slug: "page", Title: "Page", Markdown: "[ext](https://example.com/missing)\n"},
	})
	require.NoError(t, err)

	broken, err := VerifyLinks(dir)
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "parseconfig", Slugify("ParseConfig"))
	assert.Equal(t, "client-fetch", Slugify("Client.Fetch"))
	assert.Equal(t, "pkg-api-listusers", Slugify("pkg/api:ListUsers"))
	assert.False(t, strings.HasPrefix(Slugify("...x"), "-"))
}
