// Package anthropicclient implements modeladapter.ModelClient over
// github.com/anthropics/anthropic-sdk-go.
//
// Grounded on the teacher's pkg/backend/anthropic/client.go and
// translate.go (message/tool translation into anthropic.MessageNewParams),
// generalized from the teacher's streaming ChatGPT-session transport to a
// plain non-streaming API-key client, since spec.md §1 puts streaming
// transport out of scope.
package anthropicclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// structuredOutputToolName is the synthetic tool name used to coerce a
// schema-conformant response out of Anthropic's tool-use mechanism:
// Anthropic has no separate "structured output" endpoint, so a
// single-tool, tool_choice=forced call doubles as one, the same way the
// teacher's codex backend treats tool calls and regular completions as one
// wire shape.
const structuredOutputToolName = "emit_result"

// Config configures the client.
type Config struct {
	APIKey           string
	DefaultMaxTokens int64
}

// Client implements modeladapter.ModelClient for the Anthropic family.
type Client struct {
	apiKey           string
	defaultMaxTokens int64
}

// New builds a Client. If cfg.DefaultMaxTokens is unset, it defaults to
// 4096, matching the teacher's AnthropicBackendConfig.DefaultMaxTokens.
func New(cfg Config) *Client {
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 4096
	}
	return &Client{apiKey: cfg.APIKey, defaultMaxTokens: cfg.DefaultMaxTokens}
}

func (c *Client) Provider() string { return "anthropic" }

func (c *Client) sdkClient() anthropic.Client {
	return anthropic.NewClient(option.WithAPIKey(c.apiKey))
}

func (c *Client) InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	_, bare := splitPrefix(model)

	system, msgs := translateMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(bare),
		MaxTokens: c.defaultMaxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.sdkClient().Messages.New(ctx, params)
	if err != nil {
		return "", wrapError(err)
	}
	return collectText(resp), nil
}

func (c *Client) InvokeNativeTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	_, bare := splitPrefix(model)

	system, msgs := translateMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(bare),
		MaxTokens: c.defaultMaxTokens,
		Messages:  msgs,
		Tools:     translateTools(tools),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.sdkClient().Messages.New(ctx, params)
	if err != nil {
		return transcript.Message{}, wrapError(err)
	}

	out := transcript.Message{Role: transcript.RoleAssistant, Content: collectText(resp)}
	for _, block := range resp.Content {
		if tu := block.AsToolUse(); tu.ID != "" {
			args, _ := json.Marshal(tu.Input)
			out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
				CallID:    tu.ID,
				Name:      tu.Name,
				Arguments: string(args),
			})
		}
	}
	return out, nil
}

func (c *Client) InvokeNativeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error) {
	_, bare := splitPrefix(model)

	system, msgs := translateMessages(messages)
	inputSchema := anthropic.ToolInputSchemaParam{}
	if props, ok := schema["properties"].(map[string]any); ok {
		inputSchema.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				inputSchema.Required = append(inputSchema.Required, s)
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(bare),
		MaxTokens: c.defaultMaxTokens,
		Messages:  msgs,
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        structuredOutputToolName,
				Description: anthropic.String("Emit the final " + schemaName + " result."),
				InputSchema: inputSchema,
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputToolName},
		},
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.sdkClient().Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	for _, block := range resp.Content {
		if tu := block.AsToolUse(); tu.Name == structuredOutputToolName {
			args, err := json.Marshal(tu.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropicclient: encode structured result: %w", err)
			}
			return args, nil
		}
	}
	return nil, fmt.Errorf("anthropicclient: model did not call %s", structuredOutputToolName)
}

func splitPrefix(model string) (prefix, bare string) {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i], model[i+1:]
		}
	}
	return "", model
}

func translateMessages(messages []transcript.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case transcript.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case transcript.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.CallID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case transcript.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return system, out
}

func translateTools(tools []modeladapter.ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}

func collectText(resp *anthropic.Message) string {
	var text string
	for _, block := range resp.Content {
		if tb := block.AsText(); tb.Text != "" {
			text += tb.Text
		}
	}
	return text
}

// wrapError turns an anthropic-sdk-go error into a
// *modeladapter.ProviderError so classify.go's token-limit detection can
// inspect it without importing the SDK.
func wrapError(err error) error {
	if apiErr, ok := err.(*anthropic.Error); ok {
		return &modeladapter.ProviderError{
			Provider: "anthropic",
			Kind:     "BadRequestError",
			Message:  apiErr.Message,
			Cause:    err,
		}
	}
	return &modeladapter.ProviderError{
		Provider: "anthropic",
		Kind:     "Unknown",
		Message:  err.Error(),
		Cause:    err,
	}
}

var _ modeladapter.ModelClient = (*Client)(nil)
