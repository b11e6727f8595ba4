// Package mockclient is a deterministic ModelClient test double, grounded
// on the teacher's pkg/harness.Mock: a scripted-response stand-in that pops
// one canned reply per call so tests can drive InvokeText/InvokeWithTools/
// InvokeStructured without any network dependency.
package mockclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// TextResponse scripts one InvokeText/InvokeNativeTools reply.
type TextResponse struct {
	Text      string
	ToolCalls []transcript.ToolCall
	Err       error
}

// StructuredResponse scripts one InvokeNativeStructured reply.
type StructuredResponse struct {
	Value json.RawMessage
	Err   error
}

// Client is a scripted ModelClient. Each slice is consumed front-to-back;
// once exhausted, the last entry repeats so long-running loops don't panic
// on an empty slice.
type Client struct {
	mu sync.Mutex

	provider    string
	textReplies []TextResponse
	structReplies []StructuredResponse

	textCalls   int
	toolsCalls  int
	structCalls int

	// Recorded holds every message slice InvokeText/InvokeNativeTools/
	// InvokeNativeStructured was called with, in call order, for assertions.
	Recorded [][]transcript.Message
}

// New builds a Client that identifies itself as provider (e.g. "openai",
// "anthropic") for routing purposes.
func New(provider string, textReplies []TextResponse, structReplies []StructuredResponse) *Client {
	return &Client{provider: provider, textReplies: textReplies, structReplies: structReplies}
}

func (c *Client) Provider() string { return c.provider }

func (c *Client) nextText() TextResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.textCalls
	c.textCalls++
	if len(c.textReplies) == 0 {
		return TextResponse{Text: "(no scripted response)"}
	}
	if idx >= len(c.textReplies) {
		idx = len(c.textReplies) - 1
	}
	return c.textReplies[idx]
}

func (c *Client) InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	c.record(messages)
	r := c.nextText()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

func (c *Client) InvokeNativeTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	c.record(messages)
	r := c.nextText()
	if r.Err != nil {
		return transcript.Message{}, r.Err
	}
	return transcript.Message{Role: transcript.RoleAssistant, Content: r.Text, ToolCalls: r.ToolCalls}, nil
}

func (c *Client) InvokeNativeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error) {
	c.record(messages)

	c.mu.Lock()
	idx := c.structCalls
	c.structCalls++
	if len(c.structReplies) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("mockclient: no scripted structured response for %q", schemaName)
	}
	if idx >= len(c.structReplies) {
		idx = len(c.structReplies) - 1
	}
	r := c.structReplies[idx]
	c.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	return r.Value, nil
}

func (c *Client) record(messages []transcript.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]transcript.Message, len(messages))
	copy(cp, messages)
	c.Recorded = append(c.Recorded, cp)
}

// CallCount returns how many times InvokeText/InvokeNativeTools and
// InvokeNativeStructured were each called.
func (c *Client) CallCount() (text int, structured int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textCalls, c.structCalls
}

var _ modeladapter.ModelClient = (*Client)(nil)
