// Package search defines the SearchProvider boundary and the web_search
// tool composition built on top of it. Concrete providers (tavily,
// searxng) live in their own subpackages; this package owns the
// provider-agnostic dedup/truncate/summarize/format pipeline, which is
// identical regardless of which provider answered the query.
//
// Grounded on original_source/utils.py's tavily_search/searxng_search:
// both functions repeat the same dedup-by-URL, truncate-to-max-chars,
// concurrent-summarize, formatted-source-listing pipeline around a
// provider-specific fetch step. This package factors that shared pipeline
// out once.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is one hit from a provider, normalized to a common shape.
type Result struct {
	URL        string
	Title      string
	Snippet    string
	RawContent string // full page content, if the provider returned it
	Query      string // the query that produced this hit
}

// Response is one provider reply to a single query.
type Response struct {
	Query   string
	Results []Result
}

// Topic narrows provider-specific result categories. Not every provider
// honors it; SearxNG in particular ignores it.
type Topic string

const (
	TopicGeneral Topic = "general"
	TopicNews    Topic = "news"
	TopicFinance Topic = "finance"
)

// Provider fans a batch of queries out to a search backend. Implementations
// never fail the whole batch for one bad query: a failed query yields an
// empty Response and a logged warning (spec.md §4.3).
type Provider interface {
	Search(ctx context.Context, queries []string, maxResults int, topic Topic) ([]Response, error)
}

// Summarizer reduces raw page content to the delimited summary format
// internal/summarize.Summarizer produces. Declared here (rather than
// imported from internal/summarize) to keep this package's dependency
// surface to what it actually calls through.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// Config bounds the web_search composition's behavior.
type Config struct {
	MaxContentLength    int           // truncate raw content to this many bytes before summarizing
	SummarizeTimeout    time.Duration // per-result summarization deadline; defaults to 60s
	SummarizeConcurrency int          // bounded scatter-gather width; defaults to 8
}

func (c Config) withDefaults() Config {
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 50_000
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = 60 * time.Second
	}
	if c.SummarizeConcurrency <= 0 {
		c.SummarizeConcurrency = 8
	}
	return c
}

// WebSearchTool composes a Provider and a Summarizer into the callable
// backing the "web_search" tool: search, dedup by URL (first occurrence
// wins), truncate, concurrently summarize, format.
type WebSearchTool struct {
	provider   Provider
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

// NewWebSearchTool builds a WebSearchTool. logger may be nil, in which
// case slog.Default() is used.
func NewWebSearchTool(provider Provider, summarizer Summarizer, cfg Config, logger *slog.Logger) *WebSearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearchTool{provider: provider, summarizer: summarizer, cfg: cfg.withDefaults(), logger: logger}
}

// Run executes the full web_search pipeline and returns the formatted
// text blob the tool call result carries.
func (t *WebSearchTool) Run(ctx context.Context, queries []string, maxResults int, topic Topic) (string, error) {
	responses, err := t.provider.Search(ctx, queries, maxResults, topic)
	if err != nil {
		return "", fmt.Errorf("search: provider: %w", err)
	}

	order, unique := dedupeByURL(responses)
	if len(order) == 0 {
		return "No valid search results found. Please try different search queries or use a different search API.", nil
	}

	summaries := t.summarizeAll(ctx, order, unique)
	return formatResults(order, unique, summaries), nil
}

// dedupeByURL flattens every response's results, keeping the first
// occurrence of each URL (order-preserving), matching
// original_source/utils.py's dict-insertion-order dedup.
func dedupeByURL(responses []Response) (order []string, byURL map[string]Result) {
	byURL = make(map[string]Result)
	for _, resp := range responses {
		for _, r := range resp.Results {
			if r.URL == "" {
				continue
			}
			if _, seen := byURL[r.URL]; seen {
				continue
			}
			order = append(order, r.URL)
			byURL[r.URL] = r
		}
	}
	return order, byURL
}

func (t *WebSearchTool) summarizeAll(ctx context.Context, order []string, byURL map[string]Result) map[string]string {
	out := make(map[string]string, len(order))
	if t.summarizer == nil {
		for _, url := range order {
			out[url] = fallbackContent(byURL[url])
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.SummarizeConcurrency)
	results := make(map[string]string, len(order))
	var mu sync.Mutex

	for _, url := range order {
		url := url
		r := byURL[url]
		content := fallbackContent(r)
		if strings.TrimSpace(content) == "" {
			mu.Lock()
			results[url] = content
			mu.Unlock()
			continue
		}
		if len(content) > t.cfg.MaxContentLength {
			content = content[:t.cfg.MaxContentLength]
		}

		g.Go(func() error {
			summary := t.summarizeOne(gctx, content)
			mu.Lock()
			results[url] = summary
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// summarizeOne summarizes content with a bounded timeout, falling back to
// the original content on timeout or error (spec.md §4.3).
func (t *WebSearchTool) summarizeOne(ctx context.Context, content string) string {
	cctx, cancel := context.WithTimeout(ctx, t.cfg.SummarizeTimeout)
	defer cancel()

	summary, err := t.summarizer.Summarize(cctx, content)
	if err != nil {
		t.logger.Warn("summarization failed, using original content", "error", err)
		return content
	}
	return summary
}

func fallbackContent(r Result) string {
	if r.RawContent != "" {
		return r.RawContent
	}
	return r.Snippet
}

func formatResults(order []string, byURL map[string]Result, summaries map[string]string) string {
	var b strings.Builder
	b.WriteString("Search results: \n\n")
	for i, url := range order {
		r := byURL[url]
		fmt.Fprintf(&b, "\n\n--- SOURCE %d: %s ---\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n\n", url)
		fmt.Fprintf(&b, "SUMMARY:\n%s\n\n", summaries[url])
		b.WriteString("\n\n" + strings.Repeat("-", 80) + "\n")
	}
	return b.String()
}
