package research

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// Coordinator classifies the input, routes to a gathering strategy, and
// synthesizes the plan.
type Coordinator struct {
	client   types.LLMClient
	searcher *WebSearcher
	analyzer *SourceAnalyzer
	docs     *DocsFetcher
}

// NewCoordinator wires the coordinator. searcher and analyzer may be nil when
// their credentials are absent; strategies that require them then fail with
// EvidenceUnavailable.
func NewCoordinator(client types.LLMClient, searcher *WebSearcher, analyzer *SourceAnalyzer, docs *DocsFetcher) *Coordinator {
	if docs == nil {
		docs = NewDocsFetcher()
	}
	return &Coordinator{client: client, searcher: searcher, analyzer: analyzer, docs: docs}
}

// ConductResearch is the research phase entry point.
func (c *Coordinator) ConductResearch(ctx context.Context, session *types.SessionState) (*types.ResearchResult, error) {
	timer := logging.StartTimer(logging.CategoryResearch, "ConductResearch")
	defer timer.StopWithInfo()

	input := session.Params.RawInput
	cls := ClassifyInput(ctx, c.client, input)
	logging.Research("input classified as %s (confidence %.2f)", cls.Kind, cls.Confidence)

	result := &types.ResearchResult{
		Kind:           cls.Kind,
		KindConfidence: cls.Confidence,
	}
	if session.Research != nil {
		result.Iteration = session.Research.Iteration + 1
	}

	// Surface discovered parameters back into the session via the caller.
	if cls.SourceRef != "" {
		session.Params.SourceRef = cls.SourceRef
	}
	if cls.DocsURL != "" {
		session.Params.DocsURL = cls.DocsURL
	}
	if cls.Service != "" {
		session.Params.ServiceName = cls.Service
	}

	var err error
	switch cls.Kind {
	case types.InputSourceRef:
		err = c.gatherForSource(ctx, cls.SourceRef, input, result)
	case types.InputDocsURL:
		err = c.gatherForDocs(ctx, cls.DocsURL, input, result)
	case types.InputGenericURL:
		err = c.gatherForDocs(ctx, cls.DocsURL, input, result)
	case types.InputNamedService:
		err = c.gatherForService(ctx, cls.Service, result)
	default:
		err = c.gatherForFreeText(ctx, input, result)
	}
	if err != nil {
		return nil, err
	}

	result.Plan = Synthesize(ctx, c.client, result, input)
	logging.Research("research complete: confidence=%.2f insights=%d", result.Plan.Confidence, len(result.Plan.KeyInsights))
	return result, nil
}

// gatherForSource runs source structural analysis and supporting web evidence
// in parallel. The analyzer credential is required for this strategy.
func (c *Coordinator) gatherForSource(ctx context.Context, ref, input string, result *types.ResearchResult) error {
	if c.analyzer == nil {
		return &types.EvidenceUnavailableError{
			Provider: "source-analysis",
			Reason:   "no source analysis token configured (set MCPFORGE_GITHUB_TOKEN)",
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		analysis, err := c.analyzer.Analyze(gctx, ref)
		if err != nil {
			logging.Get(logging.CategoryResearch).Warn("source analysis degraded: %v", err)
			return nil
		}
		result.SourceAnalysis = analysis
		return nil
	})
	g.Go(func() error {
		if c.searcher == nil {
			return nil
		}
		findings, err := c.searcher.Search(gctx, ref+" API usage", 8)
		if err != nil {
			logging.Get(logging.CategoryResearch).Warn("web sub-search degraded: %v", err)
			return nil
		}
		result.WebFindings = findings
		return nil
	})
	return g.Wait()
}

// gatherForDocs scrapes the documentation page and searches for related
// evidence in parallel.
func (c *Coordinator) gatherForDocs(ctx context.Context, url, input string, result *types.ResearchResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		analysis, err := c.docs.Fetch(gctx, url)
		if err != nil {
			logging.Get(logging.CategoryResearch).Warn("docs fetch degraded: %v", err)
			return nil
		}
		result.DocsAnalysis = analysis
		return nil
	})
	g.Go(func() error {
		if c.searcher == nil {
			return nil
		}
		findings, err := c.searcher.Search(gctx, input+" API reference", 8)
		if err != nil {
			logging.Get(logging.CategoryResearch).Warn("web sub-search degraded: %v", err)
			return nil
		}
		result.WebFindings = findings
		return nil
	})
	return g.Wait()
}

// gatherForService fans out multiple web queries about a named service. The
// search credential is required: with no other evidence source, a missing key
// means the strategy cannot gather anything.
func (c *Coordinator) gatherForService(ctx context.Context, service string, result *types.ResearchResult) error {
	if c.searcher == nil {
		return &types.EvidenceUnavailableError{
			Provider: "web-search",
			Reason:   "no search API key configured (set MCPFORGE_SEARCH_API_KEY)",
		}
	}

	queries := []string{
		service + " API documentation",
		service + " REST API endpoints",
		service + " API authentication",
	}
	findings := make([][]types.WebFinding, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			fs, err := c.searcher.Search(gctx, q, 5)
			if err != nil {
				logging.Get(logging.CategoryResearch).Warn("sub-search %q degraded: %v", q, err)
				return nil
			}
			findings[i] = fs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, fs := range findings {
		for _, f := range fs {
			if !seen[f.URL] {
				seen[f.URL] = true
				result.WebFindings = append(result.WebFindings, f)
			}
		}
	}
	if len(result.WebFindings) == 0 {
		logging.Research("all sub-searches for %s returned nothing", service)
	}
	return nil
}

// gatherForFreeText searches the open web for whatever the user described.
func (c *Coordinator) gatherForFreeText(ctx context.Context, input string, result *types.ResearchResult) error {
	if c.searcher == nil {
		return &types.EvidenceUnavailableError{
			Provider: "web-search",
			Reason:   "no search API key configured (set MCPFORGE_SEARCH_API_KEY)",
		}
	}
	findings, err := c.searcher.Search(ctx, fmt.Sprintf("%s API integration", input), 10)
	if err != nil {
		logging.Get(logging.CategoryResearch).Warn("free-text search degraded: %v", err)
		return nil
	}
	result.WebFindings = findings
	return nil
}
