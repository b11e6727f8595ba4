// Package modeladapter hides the two model families (native tool-calling /
// native structured output vs. text-mode emulation) behind one ModelAdapter
// contract, following the teacher's pkg/harness.Harness wrapping pattern:
// one interface, several concrete backends, a thin decorator layer for
// cross-cutting concerns (here: retries and token-limit recovery; in the
// teacher, logging).
package modeladapter

import (
	"context"
	"encoding/json"

	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// ToolSpec describes one tool available for a model call, independent of
// whether the underlying client renders it as a native tool definition or
// as prompt text.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ModelClient is the pluggable LLM transport spec.md §1 names as an
// out-of-scope external collaborator. Each provider family (Anthropic,
// OpenAI, a deterministic test double) implements it once.
type ModelClient interface {
	// Provider identifies the family this client speaks for, e.g.
	// "anthropic", "openai". Used only for logging/diagnostics; routing
	// is driven by the provider-prefix table in classify.go.
	Provider() string

	// InvokeText sends a plain chat turn and returns the assistant's
	// reply text.
	InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error)

	// InvokeNativeTools sends messages plus native tool definitions and
	// returns the assistant's message, with ToolCalls populated if the
	// model elected to call one or more tools. Only called for providers
	// classify.go marks as native-tool-capable.
	InvokeNativeTools(ctx context.Context, model string, messages []transcript.Message, tools []ToolSpec) (transcript.Message, error)

	// InvokeNativeStructured requests a schema-conformant JSON value using
	// the provider's own structured-output mechanism. Only called for
	// providers classify.go marks as native-structured-output-capable.
	InvokeNativeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error)
}

// TextModeKind classifies a parsed text-mode model response.
type TextModeKind string

const (
	TextModeFinalAnswer TextModeKind = "final_answer"
	TextModeToolCall    TextModeKind = "tool_call"
	TextModeNone        TextModeKind = "none"
)

// TextModeResult is the outcome of parsing one text-mode model response.
type TextModeResult struct {
	Kind        TextModeKind
	FinalAnswer string
	ToolName    string
	ToolInput   map[string]any
}

// TextModeProtocol renders tool descriptions into a prompt and parses a
// model's free-text reply back into a structured result. Implemented by
// internal/textmode; kept as an interface here so modeladapter never
// imports textmode (textmode has no need to know about ModelClient).
type TextModeProtocol interface {
	Render(tools []ToolSpec) string
	Parse(response string) TextModeResult
}
