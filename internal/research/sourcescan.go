package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// maxScanFiles bounds how many source files one analysis downloads and parses.
const maxScanFiles = 12

var endpointRegex = regexp.MustCompile(`["'](/[a-zA-Z0-9_/:{}.-]+)["']`)

// SourceAnalyzer performs structural analysis of a discovered source tree.
// Remote refs are fetched through the GitHub API, which requires a token;
// local directories are scanned directly (used in tests and for checked-out
// sources).
type SourceAnalyzer struct {
	token      string
	apiBase    string
	rawBase    string
	httpClient *http.Client

	parser *sitter.Parser
}

// NewSourceAnalyzer creates an analyzer. An empty token returns nil; the
// coordinator treats that as EvidenceUnavailable for source-ref inputs.
func NewSourceAnalyzer(token string) *SourceAnalyzer {
	if token == "" {
		return nil
	}
	return &SourceAnalyzer{
		token:      token,
		apiBase:    "https://api.github.com",
		rawBase:    "https://raw.githubusercontent.com",
		httpClient: &http.Client{Timeout: 45 * time.Second},
		parser:     sitter.NewParser(),
	}
}

// Analyze fetches up to maxScanFiles source files from the ref and extracts
// exported symbols and endpoint-looking strings.
func (a *SourceAnalyzer) Analyze(ctx context.Context, ref string) (*types.SourceAnalysis, error) {
	timer := logging.StartTimer(logging.CategoryResearch, "SourceAnalyzer.Analyze")
	defer timer.Stop()

	paths, err := a.listFiles(ctx, ref)
	if err != nil {
		return nil, err
	}

	analysis := &types.SourceAnalysis{Ref: ref}
	langSet := map[string]bool{}
	for _, path := range paths {
		content, err := a.fetchRaw(ctx, ref, path)
		if err != nil {
			logging.ResearchDebug("skipping %s: %v", path, err)
			continue
		}
		a.scanFile(path, content, analysis, langSet)
	}

	for lang := range langSet {
		analysis.Languages = append(analysis.Languages, lang)
	}
	sort.Strings(analysis.Languages)
	analysis.Summary = fmt.Sprintf("%s: %d exported symbols, %d endpoint candidates across %v",
		ref, len(analysis.Exports), len(analysis.Endpoints), analysis.Languages)

	logging.Research("source analysis of %s: %d exports, %d endpoints", ref, len(analysis.Exports), len(analysis.Endpoints))
	return analysis, nil
}

// AnalyzeDir scans a local checkout instead of fetching remotely.
func (a *SourceAnalyzer) AnalyzeDir(dir string) (*types.SourceAnalysis, error) {
	analysis := &types.SourceAnalysis{Ref: dir}
	langSet := map[string]bool{}
	count := 0

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || count >= maxScanFiles {
			return err
		}
		if languageFor(path) == nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		count++
		a.scanFile(path, content, analysis, langSet)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	for lang := range langSet {
		analysis.Languages = append(analysis.Languages, lang)
	}
	sort.Strings(analysis.Languages)
	analysis.Summary = fmt.Sprintf("%s: %d exported symbols, %d endpoint candidates across %v",
		dir, len(analysis.Exports), len(analysis.Endpoints), analysis.Languages)
	return analysis, nil
}

// scanFile parses one file with tree-sitter and accumulates exports and
// endpoint candidates.
func (a *SourceAnalyzer) scanFile(path string, content []byte, analysis *types.SourceAnalysis, langSet map[string]bool) {
	langName, lang := languageNameFor(path)
	if lang == nil {
		return
	}
	langSet[langName] = true

	if a.parser == nil {
		a.parser = sitter.NewParser()
	}
	a.parser.SetLanguage(lang)
	tree, err := a.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		logging.ResearchDebug("tree-sitter parse failed for %s: %v", path, err)
		return
	}
	defer tree.Close()

	collectFunctions(tree.RootNode(), content, analysis)

	for _, m := range endpointRegex.FindAllStringSubmatch(string(content), -1) {
		ep := m[1]
		if len(ep) > 1 && !containsString(analysis.Endpoints, ep) {
			analysis.Endpoints = append(analysis.Endpoints, ep)
		}
	}
}

// collectFunctions walks the AST and records function/method names.
func collectFunctions(node *sitter.Node, content []byte, analysis *types.SourceAnalysis) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "function_declaration", "method_definition", "function_definition", "method_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			sym := name.Content(content)
			if sym != "" && !containsString(analysis.Exports, sym) {
				analysis.Exports = append(analysis.Exports, sym)
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectFunctions(node.Child(i), content, analysis)
	}
}

func languageFor(path string) *sitter.Language {
	_, lang := languageNameFor(path)
	return lang
}

func languageNameFor(path string) (string, *sitter.Language) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go", golang.GetLanguage()
	case ".js", ".mjs", ".cjs":
		return "javascript", javascript.GetLanguage()
	case ".ts":
		return "typescript", typescript.GetLanguage()
	case ".py":
		return "python", python.GetLanguage()
	default:
		return "", nil
	}
}

// listFiles returns candidate source file paths from the repository tree.
func (a *SourceAnalyzer) listFiles(ctx context.Context, ref string) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/git/trees/HEAD?recursive=1", a.apiBase, ref)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tree request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tree request returned %d: %s", resp.StatusCode, string(body))
	}

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Size int    `json:"size"`
		} `json:"tree"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}

	var paths []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || entry.Size > 256<<10 {
			continue
		}
		if languageFor(entry.Path) == nil {
			continue
		}
		// Skip vendored and test noise.
		if strings.Contains(entry.Path, "vendor/") || strings.Contains(entry.Path, "node_modules/") ||
			strings.Contains(entry.Path, "_test.") || strings.Contains(entry.Path, ".test.") {
			continue
		}
		paths = append(paths, entry.Path)
		if len(paths) >= maxScanFiles {
			break
		}
	}
	return paths, nil
}

func (a *SourceAnalyzer) fetchRaw(ctx context.Context, ref, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/HEAD/%s", a.rawBase, ref, path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 512<<10))
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
