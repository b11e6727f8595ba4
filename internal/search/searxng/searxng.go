// Package searxng implements search.Provider against a self-hosted
// SearXNG metasearch instance. Grounded on
// original_source/utils.py's searxng_search_async (GET /search?q=...&
// format=json&pageno=1, per-query timeout, result slice capped to
// max_results).
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordangeorgiev/open-deep-research/internal/search"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements search.Provider over a SearXNG instance's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Client. baseURL is trimmed of any trailing slash.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: cfg.HTTPClient, logger: cfg.Logger}
}

type searxngResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type searxngReply struct {
	Results []searxngResult `json:"results"`
}

// Search fans queries out concurrently. Topic is accepted for interface
// conformance but ignored: SearXNG has no topic filter.
func (c *Client) Search(ctx context.Context, queries []string, maxResults int, _ search.Topic) ([]search.Response, error) {
	out := make([]search.Response, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			resp, err := c.searchOne(gctx, q, maxResults)
			if err != nil {
				c.logger.Warn("searxng search query failed", "query", q, "error", err)
				out[i] = search.Response{Query: q}
				return nil
			}
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (c *Client) searchOne(ctx context.Context, query string, maxResults int) (search.Response, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"pageno": {"1"},
	}
	reqURL := c.baseURL + "/search?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return search.Response{}, fmt.Errorf("searxng: build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return search.Response{}, fmt.Errorf("searxng: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return search.Response{}, fmt.Errorf("searxng: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return search.Response{}, fmt.Errorf("searxng: read response: %w", err)
	}

	var reply searxngReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return search.Response{}, fmt.Errorf("searxng: decode response: %w", err)
	}

	if maxResults > 0 && len(reply.Results) > maxResults {
		reply.Results = reply.Results[:maxResults]
	}

	results := make([]search.Result, 0, len(reply.Results))
	for _, r := range reply.Results {
		results = append(results, search.Result{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Query:   query,
		})
	}
	return search.Response{Query: query, Results: results}, nil
}

var _ search.Provider = (*Client)(nil)
