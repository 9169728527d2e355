package render

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// Link is a single hyperlink extracted from a rendered page.
type Link struct {
	URL        string
	Text       string
	SourcePage string
}

// BrokenLink is a link whose target does not exist in the rendered site.
type BrokenLink struct {
	Link   Link
	Reason string
}

// extractLinks parses HTML and returns every anchor href.
func extractLinks(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					links = append(links, Link{URL: attr.Val, Text: textContent(n)})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// VerifyLinks checks every internal link in the rendered site and returns
// the broken ones. External links are skipped.
func VerifyLinks(siteDir string) ([]BrokenLink, error) {
	entries, err := os.ReadDir(siteDir)
	if err != nil {
		return nil, err
	}

	var broken []BrokenLink
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		f, err := os.Open(filepath.Join(siteDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		links, err := extractLinks(f)
		f.Close()
		if err != nil {
			return nil, err
		}

		for _, link := range links {
			link.SourcePage = entry.Name()
			if !isInternal(link.URL) {
				continue
			}
			target := strings.SplitN(link.URL, "#", 2)[0]
			if target == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(siteDir, target)); err != nil {
				broken = append(broken, BrokenLink{Link: link, Reason: "target not found"})
			}
		}
	}
	return broken, nil
}

func isInternal(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
