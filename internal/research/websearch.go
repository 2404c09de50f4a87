package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// WebSearcher performs keyed web searches against a Brave-compatible search
// API. The key is required: evidence gathering cannot silently degrade to no
// web access, so a missing key is surfaced as EvidenceUnavailable by the
// coordinator.
type WebSearcher struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewWebSearcher creates a searcher. An empty key returns nil; the
// coordinator treats a nil searcher on a strategy that needs one as fatal.
func NewWebSearcher(apiKey string) *WebSearcher {
	if apiKey == "" {
		return nil
	}
	return &WebSearcher{
		apiKey:  apiKey,
		baseURL: "https://api.search.brave.com/res/v1/web/search",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query and returns up to maxResults findings. Transport and
// decode failures return an error; the caller maps it to an absent result.
func (w *WebSearcher) Search(ctx context.Context, query string, maxResults int) ([]types.WebFinding, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 20 {
		maxResults = 20
	}
	logging.ResearchDebug("web search: query=%q max_results=%d", query, maxResults)

	reqURL := fmt.Sprintf("%s?q=%s&count=%d", w.baseURL, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	findings := make([]types.WebFinding, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		if len(findings) >= maxResults {
			break
		}
		findings = append(findings, types.WebFinding{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	logging.Research("web search completed: %d findings for %q", len(findings), query)
	return findings, nil
}
