// Package tavily implements search.Provider against the Tavily search
// API. Grounded on original_source/utils.py's tavily_search_async (one
// HTTP POST per query, fanned out concurrently, include_raw_content=true)
// and on the teacher's pkg/backend/openapi/client.go for the plain
// net/http POST-and-decode client shape.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordangeorgiev/open-deep-research/internal/search"
)

const defaultBaseURL = "https://api.tavily.com/search"

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements search.Provider over the Tavily HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, httpClient: cfg.HTTPClient, logger: cfg.Logger}
}

type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type searchResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	RawContent string `json:"raw_content"`
}

type searchReply struct {
	Results []searchResult `json:"results"`
}

// Search fans queries out concurrently. Per spec.md §4.3, a single failed
// query never fails the batch: it contributes an empty Response and a
// logged warning instead.
func (c *Client) Search(ctx context.Context, queries []string, maxResults int, topic search.Topic) ([]search.Response, error) {
	if topic == "" {
		topic = search.TopicGeneral
	}
	out := make([]search.Response, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			resp, err := c.searchOne(gctx, q, maxResults, topic)
			if err != nil {
				c.logger.Warn("tavily search query failed", "query", q, "error", err)
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

func (c *Client) searchOne(ctx context.Context, query string, maxResults int, topic search.Topic) (search.Response, error) {
	reqBody, err := json.Marshal(searchRequest{
		APIKey:            c.apiKey,
		Query:             query,
		MaxResults:        maxResults,
		Topic:             string(topic),
		IncludeRawContent: true,
	})
	if err != nil {
		return search.Response{}, fmt.Errorf("tavily: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return search.Response{}, fmt.Errorf("tavily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return search.Response{}, fmt.Errorf("tavily: request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return search.Response{}, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, string(body))
	}

	var reply searchReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return search.Response{}, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]search.Result, 0, len(reply.Results))
	for _, r := range reply.Results {
		results = append(results, search.Result{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Content,
			RawContent: r.RawContent,
			Query:      query,
		})
	}
	return search.Response{Query: query, Results: results}, nil
}

var _ search.Provider = (*Client)(nil)
