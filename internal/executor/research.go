package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// WEB SEARCH EXECUTOR
// =============================================================================

// ResearchResult is the structured output of a search: ranked sources plus a
// markdown rendering. String() returns the markdown so template substitution
// hands readable text to downstream tasks.
type ResearchResult struct {
	Query   string
	Sources []types.Source
	Summary string
}

func (r *ResearchResult) String() string { return r.Summary }

// SourceRecords exposes the ranked sources for result aggregation.
func (r *ResearchResult) SourceRecords() []types.Source { return r.Sources }

// SearchConfig configures the web search executor.
type SearchConfig struct {
	BaseURL    string // HTML search endpoint; override in tests
	MaxResults int
	EnrichTop  int // fetch page content for the top N results, 0 disables
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultSearchConfig returns DuckDuckGo HTML search defaults. No API key
// required.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		BaseURL:    "https://html.duckduckgo.com/html/",
		MaxResults: 10,
		EnrichTop:  0,
		Timeout:    30 * time.Second,
	}
}

// SearchExecutor answers RESEARCH tasks via an HTML search endpoint.
type SearchExecutor struct {
	config SearchConfig
}

// NewSearchExecutor creates a search executor, filling config defaults.
func NewSearchExecutor(config SearchConfig) *SearchExecutor {
	def := DefaultSearchConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.MaxResults > 30 {
		config.MaxResults = 30
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &SearchExecutor{config: config}
}

func (e *SearchExecutor) Name() string { return "search" }

// Execute searches for the query and returns a *ResearchResult. A search
// with zero hits is a success with an empty source list, not an error.
func (e *SearchExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: %w: empty query", types.ErrInvalidQuery)
	}

	timer := logging.StartTimer(logging.CategoryExecutor, "web_search")
	sources, err := e.search(ctx, query)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", truncateRunes(query, 80), err)
	}

	if len(sources) == 0 {
		logging.ExecutorWarn("Search returned no results for %q", truncateRunes(query, 80))
		return &ResearchResult{Query: query, Summary: "No results found for: " + query}, nil
	}

	if e.config.EnrichTop > 0 {
		e.enrichContent(ctx, sources)
	}

	logging.Executor("Search %q: %d result(s)", truncateRunes(query, 80), len(sources))
	return &ResearchResult{
		Query:   query,
		Sources: sources,
		Summary: renderSources(query, sources),
	}, nil
}

// search queries the HTML endpoint and parses ranked results.
func (e *SearchExecutor) search(ctx context.Context, query string) ([]types.Source, error) {
	searchURL := e.config.BaseURL + "?q=" + url.QueryEscape(query)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	// The HTML endpoint rejects obvious bots.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5,zh-CN;q=0.4")

	resp, err := clientOrDefault(e.config.HTTPClient).Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return parseSearchResults(io.LimitReader(resp.Body, 1<<20), e.config.MaxResults)
}

// enrichContent fetches page content for the top results concurrently.
// Fetch failures degrade to snippet-only sources.
func (e *SearchExecutor) enrichContent(ctx context.Context, sources []types.Source) {
	top := e.config.EnrichTop
	if top > len(sources) {
		top = len(sources)
	}

	var g errgroup.Group
	g.SetLimit(3)
	for i := 0; i < top; i++ {
		src := &sources[i]
		g.Go(func() error {
			content, err := fetchPage(ctx, clientOrDefault(e.config.HTTPClient), src.URL, e.config.Timeout)
			if err != nil {
				logging.ExecutorWarn("Content fetch failed for %s: %v", src.URL, err)
				return nil
			}
			src.Content = truncateRunes(content, 2000)
			return nil
		})
	}
	_ = g.Wait()
}

// parseSearchResults walks the result page DOM. Each hit is a div whose
// class carries both "result" and "results_links".
func parseSearchResults(r io.Reader, maxResults int) ([]types.Source, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var sources []types.Source
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(sources) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if src, ok := extractSearchHit(n); ok {
					src.Score = rankScore(len(sources))
					src.Credibility = credibilityFor(src.URL)
					sources = append(sources, src)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sources, nil
}

// extractSearchHit pulls title, url, and snippet out of one result div.
func extractSearchHit(n *html.Node) (types.Source, bool) {
	var src types.Source
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				src.URL = cleanRedirectURL(attrValue(n, "href"))
				src.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				src.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return src, src.URL != "" && src.Title != ""
}

// cleanRedirectURL unwraps the engine's /l/?uddg= redirect indirection.
func cleanRedirectURL(raw string) string {
	const redirectPrefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(raw, redirectPrefix) {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, redirectPrefix))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

// rankScore decays by position so the aggregator can order sources.
func rankScore(rank int) float64 {
	score := 1.0 - 0.05*float64(rank)
	if score < 0.1 {
		return 0.1
	}
	return score
}

// credibilityFor assigns a rough trust weight by host. Unknown hosts get the
// neutral 0.5 the aggregator assumes.
func credibilityFor(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0.5
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"),
		strings.HasSuffix(host, "wikipedia.org"), strings.HasSuffix(host, "arxiv.org"):
		return 0.9
	case strings.HasSuffix(host, "github.com"), strings.HasSuffix(host, "stackoverflow.com"),
		strings.HasSuffix(host, "go.dev"):
		return 0.8
	default:
		return 0.5
	}
}

// renderSources formats sources as markdown.
func renderSources(query string, sources []types.Source) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search Results for: %s\n\n", query)
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(sources))
	for i, src := range sources {
		fmt.Fprintf(&sb, "## %d. %s\n", i+1, src.Title)
		fmt.Fprintf(&sb, "**URL:** %s\n", src.URL)
		if src.Snippet != "" {
			fmt.Fprintf(&sb, "\n%s\n", src.Snippet)
		}
		if src.Content != "" {
			fmt.Fprintf(&sb, "\n%s\n", src.Content)
		}
		sb.WriteString("\n---\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// =============================================================================
// PAGE SCRAPER EXECUTOR
// =============================================================================

// PageRenderer fetches a page through a real browser so script-driven
// content is present in the returned HTML. *browser.Manager satisfies it.
type PageRenderer interface {
	FetchRendered(ctx context.Context, pageURL string) (string, error)
}

// ScraperConfig configures the page scraper executor.
type ScraperConfig struct {
	MaxContentLength int // runes of markdown kept
	Timeout          time.Duration
	HTTPClient       *http.Client

	// Renderer, when set, is the fallback for pages whose static fetch
	// fails or returns a script shell with no readable text.
	Renderer PageRenderer
}

// DefaultScraperConfig returns page fetch defaults.
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		MaxContentLength: 50000,
		Timeout:          60 * time.Second,
	}
}

// ScraperExecutor fetches a page and converts it to markdown. The URL comes
// from taskCtx["url"] when present, otherwise the query itself must be one.
type ScraperExecutor struct {
	config ScraperConfig
}

// NewScraperExecutor creates a scraper executor, filling config defaults.
func NewScraperExecutor(config ScraperConfig) *ScraperExecutor {
	def := DefaultScraperConfig()
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = def.MaxContentLength
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &ScraperExecutor{config: config}
}

func (e *ScraperExecutor) Name() string { return "scraper" }

func (e *ScraperExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	target, _ := taskCtx["url"].(string)
	if target == "" {
		target = strings.TrimSpace(query)
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return nil, fmt.Errorf("scraper: %w: %q is not a URL", types.ErrInvalidQuery, truncateRunes(target, 120))
	}

	content, err := fetchPage(ctx, clientOrDefault(e.config.HTTPClient), target, e.config.Timeout)
	switch {
	case err != nil && e.config.Renderer != nil:
		logging.ExecutorWarn("Static fetch of %s failed (%v), trying browser render", target, err)
		content, err = e.renderPage(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", target, err)
		}
	case err != nil:
		return nil, fmt.Errorf("scrape %s: %w", target, err)
	case e.config.Renderer != nil && looksScriptGated(content):
		// Script shells carry almost no static text; a browser pass usually
		// recovers the real page.
		if rendered, rerr := e.renderPage(ctx, target); rerr == nil && len(rendered) > len(content) {
			content = rendered
		} else if rerr != nil {
			logging.ExecutorWarn("Browser render of %s failed: %v", target, rerr)
		}
	}

	if runes := []rune(content); len(runes) > e.config.MaxContentLength {
		content = string(runes[:e.config.MaxContentLength]) + "\n\n[...truncated...]"
	}
	logging.Executor("Scraped %s (%d chars)", target, len(content))
	return content, nil
}

// renderPage runs the target through the configured browser and converts the
// rendered DOM to markdown.
func (e *ScraperExecutor) renderPage(ctx context.Context, target string) (string, error) {
	rendered, err := e.config.Renderer.FetchRendered(ctx, target)
	if err != nil {
		return "", err
	}
	return markdownFromHTML(strings.NewReader(rendered))
}

// looksScriptGated reports whether fetched markdown reads like an empty
// JavaScript shell rather than content.
func looksScriptGated(markdown string) bool {
	return len([]rune(markdown)) < 200
}

// fetchPage GETs a page and returns markdown. Plain text and markdown bodies
// pass through untouched.
func fetchPage(ctx context.Context, client *http.Client, pageURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; agentmux/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body := io.LimitReader(resp.Body, 2<<20)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(raw), nil
	}

	return markdownFromHTML(body)
}

// =============================================================================
// HTML → MARKDOWN
// =============================================================================

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Non-content containers dropped wholesale.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "nav": true, "footer": true, "header": true,
}

// Block-level formatting. Inline tags (a, code, strong, em, img) are
// special-cased in the walker so their text carries no stray spacing.
var tagOpen = map[string]string{
	"h1": "\n\n# ", "h2": "\n\n## ", "h3": "\n\n### ",
	"h4": "\n\n#### ", "h5": "\n\n##### ", "h6": "\n\n###### ",
	"p": "\n\n", "div": "\n\n", "br": "\n", "li": "\n- ",
	"pre": "\n\n```\n",
}

var tagClose = map[string]string{
	"h1": "\n\n", "h2": "\n\n", "h3": "\n\n",
	"h4": "\n\n", "h5": "\n\n", "h6": "\n\n",
	"pre": "\n```\n\n",
}

// markdownFromHTML renders a simplified markdown view of an HTML document.
func markdownFromHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node, depth int, inPre bool)
	walk = func(n *html.Node, depth int, inPre bool) {
		if depth > 50 {
			return
		}
		switch n.Type {
		case html.TextNode:
			if inPre {
				sb.WriteString(n.Data)
				return
			}
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
			return
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
			switch n.Data {
			case "title":
				fmt.Fprintf(&sb, "# %s\n\n", textContent(n))
				return
			case "a":
				if href := attrValue(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
					fmt.Fprintf(&sb, "[%s](%s) ", textContent(n), href)
					return
				}
			case "code":
				if !inPre {
					fmt.Fprintf(&sb, "`%s` ", textContent(n))
					return
				}
			case "strong", "b":
				fmt.Fprintf(&sb, "**%s** ", textContent(n))
				return
			case "em", "i":
				fmt.Fprintf(&sb, "*%s* ", textContent(n))
				return
			case "img":
				if alt := attrValue(n, "alt"); alt != "" {
					fmt.Fprintf(&sb, "[Image: %s] ", alt)
				}
				return
			case "pre":
				inPre = true
			}
			sb.WriteString(tagOpen[n.Data])
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1, inPre)
		}
		if n.Type == html.ElementNode {
			sb.WriteString(tagClose[n.Data])
		}
	}
	walk(doc, 0, false)

	return tidyMarkdown(sb.String()), nil
}

// tidyMarkdown collapses whitespace noise left by the DOM walk.
func tidyMarkdown(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

// truncateRunes shortens s to max runes without splitting multibyte chars.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
