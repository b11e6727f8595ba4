// Package openaiclient implements modeladapter.ModelClient against the
// OpenAI Responses API, using the request/response shapes already defined
// in internal/protocol.
//
// Grounded on the teacher's pkg/backend/codex/client.go (HTTP POST +
// status-code retry loop) generalized from Codex's ChatGPT-session OAuth
// transport to a plain OpenAI API-key client. strictschema.go adapts
// pkg/schema/strict.go's strict-mode normalization down to the flat
// structured-output schemas this engine actually sends. Non-streaming:
// req.Stream is always false, since spec.md §1 puts streaming transport
// out of scope.
package openaiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/protocol"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

const defaultBaseURL = "https://api.openai.com/v1/responses"

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	RetryMax   int
	RetryDelay time.Duration
}

// Client implements modeladapter.ModelClient for the OpenAI family.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retryMax   int
	retryDelay time.Duration
}

// New builds a Client, defaulting BaseURL/RetryMax/RetryDelay the way the
// teacher's codex.New does.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 300 * time.Millisecond
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		retryMax:   cfg.RetryMax,
		retryDelay: cfg.RetryDelay,
	}
}

func (c *Client) Provider() string { return "openai" }

func (c *Client) InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	_, bare := splitPrefix(model)
	req := protocol.ResponsesRequest{
		Model: bare,
		Input: translateMessages(messages),
		Store: false,
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.text(), nil
}

func (c *Client) InvokeNativeTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	_, bare := splitPrefix(model)
	req := protocol.ResponsesRequest{
		Model:      bare,
		Input:      translateMessages(messages),
		Tools:      translateTools(tools),
		ToolChoice: "auto",
		Store:      false,
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return transcript.Message{}, err
	}

	out := transcript.Message{Role: transcript.RoleAssistant, Content: resp.text()}
	for _, item := range resp.Output {
		if item.Type == "function_call" {
			out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return out, nil
}

func (c *Client) InvokeNativeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, rawSchema map[string]any) (json.RawMessage, error) {
	_, bare := splitPrefix(model)

	normalized, _ := strictify(cloneSchema(rawSchema)).(map[string]any)
	req := protocol.ResponsesRequest{
		Model: bare,
		Input: translateMessages(messages),
		Store: false,
		Text: &protocol.TextControls{
			Format: &protocol.TextFormat{
				Type:   "json_schema",
				Strict: true,
				Schema: mustMarshal(normalized),
			},
		},
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	text := resp.text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("openaiclient: empty structured output response for schema %q", schemaName)
	}
	return json.RawMessage(text), nil
}

// responsesResult is the subset of the Responses API's JSON body the
// client consumes.
type responsesResult struct {
	Output []protocol.OutputItem `json:"output"`
	Usage  *protocol.Usage       `json:"usage"`
	Error  *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (r responsesResult) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type == "message" {
			b.WriteString(item.Output)
		}
	}
	return b.String()
}

func (c *Client) send(ctx context.Context, req protocol.ResponsesRequest) (responsesResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return responsesResult{}, fmt.Errorf("openaiclient: encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		result, retryable, err := c.doRequest(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable || attempt == c.retryMax {
			break
		}
		select {
		case <-ctx.Done():
			return responsesResult{}, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt+1)):
		}
	}
	return responsesResult{}, lastErr
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (responsesResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return responsesResult{}, false, fmt.Errorf("openaiclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return responsesResult{}, true, fmt.Errorf("openaiclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))

	if isRetryableStatus(resp.StatusCode) {
		return responsesResult{}, true, fmt.Errorf("openaiclient: request failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var result responsesResult
		_ = json.Unmarshal(body, &result)
		msg := strings.TrimSpace(string(body))
		code := ""
		if result.Error != nil {
			msg = result.Error.Message
			code = result.Error.Code
		}
		return responsesResult{}, false, &modeladapter.ProviderError{
			Provider: "openai",
			Kind:     "BadRequestError",
			Code:     code,
			Message:  msg,
		}
	}

	var result responsesResult
	if err := json.Unmarshal(body, &result); err != nil {
		return responsesResult{}, false, fmt.Errorf("openaiclient: decode response: %w", err)
	}
	return result, false, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func splitPrefix(model string) (prefix, bare string) {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i], model[i+1:]
		}
	}
	return "", model
}

func translateMessages(messages []transcript.Message) []protocol.ResponseInputItem {
	out := make([]protocol.ResponseInputItem, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem, transcript.RoleUser, transcript.RoleAssistant:
			out = append(out, protocol.ResponseInputItem{
				Type:    "message",
				Role:    string(m.Role),
				Content: []protocol.InputContentPart{{Type: "input_text", Text: m.Content}},
			})
			for _, tc := range m.ToolCalls {
				out = append(out, protocol.FunctionCallInput(tc.Name, tc.CallID, tc.Arguments))
			}
		case transcript.RoleTool:
			out = append(out, protocol.FunctionCallOutputInput(m.ToolCallID, m.Content))
		}
	}
	return out
}

func translateTools(tools []modeladapter.ToolSpec) []protocol.ToolSpec {
	out := make([]protocol.ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, protocol.ToolSpec{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  mustMarshal(t.Parameters),
		})
	}
	return out
}

func mustMarshal(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func cloneSchema(v map[string]any) map[string]any {
	b, _ := json.Marshal(v)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

var _ modeladapter.ModelClient = (*Client)(nil)
