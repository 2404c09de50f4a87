package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// maxExcerptLen bounds the documentation excerpt carried into synthesis.
const maxExcerptLen = 4000

// DocsFetcher scrapes a documentation URL into a DocsAnalysis. No credential
// is required; failures yield an absent result at the coordinator.
type DocsFetcher struct {
	httpClient *http.Client
}

// NewDocsFetcher creates a fetcher with a bounded timeout.
func NewDocsFetcher() *DocsFetcher {
	return &DocsFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and parses one documentation page.
func (d *DocsFetcher) Fetch(ctx context.Context, pageURL string) (*types.DocsAnalysis, error) {
	logging.ResearchDebug("fetching docs: %s", pageURL)

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docs request returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	analysis := &types.DocsAnalysis{URL: pageURL}
	var text strings.Builder
	walkHTML(doc, analysis, &text, false)

	excerpt := collapseWhitespace(text.String())
	if len(excerpt) > maxExcerptLen {
		excerpt = excerpt[:maxExcerptLen]
	}
	analysis.Excerpt = excerpt

	for _, m := range endpointRegex.FindAllStringSubmatch(excerpt, -1) {
		if !containsString(analysis.Endpoints, m[1]) {
			analysis.Endpoints = append(analysis.Endpoints, m[1])
		}
	}

	logging.Research("docs analysis of %s: title=%q headings=%d", pageURL, analysis.Title, len(analysis.Headings))
	return analysis, nil
}

// walkHTML extracts the title, headings and visible text from the DOM.
func walkHTML(n *html.Node, analysis *types.DocsAnalysis, text *strings.Builder, skip bool) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "nav", "footer", "noscript":
			skip = true
		case "title":
			if analysis.Title == "" {
				analysis.Title = nodeText(n)
			}
		case "h1", "h2", "h3":
			if heading := collapseWhitespace(nodeText(n)); heading != "" && len(analysis.Headings) < 40 {
				analysis.Headings = append(analysis.Headings, heading)
			}
		}
	}
	if n.Type == html.TextNode && !skip {
		text.WriteString(n.Data)
		text.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, analysis, text, skip)
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(nodeText(c))
		}
	}
	return strings.TrimSpace(sb.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
