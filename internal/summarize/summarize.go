// Package summarize reduces raw webpage content to a short, structured
// summary via one ModelAdapter.InvokeStructured call. Grounded on
// original_source/utils.py's summarize_webpage, which wraps a structured
// Summary{summary, key_excerpts} value in <summary>/<key_excerpts>
// delimited sections before handing it back to the caller.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// ModelAdapter is the subset of modeladapter.Adapter this package calls
// through. Declared locally so summarize doesn't need to import
// modeladapter just to reference its concrete type.
type ModelAdapter interface {
	InvokeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error)
}

// summarySchema is the JSON schema for the structured Summary value: a
// short abstract plus verbatim key excerpts, matching the original's
// Summary pydantic model.
var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"description": "A concise summary of the webpage content",
		},
		"key_excerpts": map[string]any{
			"type":        "string",
			"description": "Important quotes and excerpts from the content, verbatim",
		},
	},
	"required": []any{"summary", "key_excerpts"},
}

type summary struct {
	Summary     string `json:"summary"`
	KeyExcerpts string `json:"key_excerpts"`
}

// Summarizer produces a delimited summary of arbitrary page content.
type Summarizer struct {
	adapter ModelAdapter
	model   string
	today   func() string
}

// New builds a Summarizer that invokes model (e.g. "openai:gpt-4o-mini")
// through adapter. today supplies the date string interpolated into the
// summarization prompt; pass nil to omit it.
func New(adapter ModelAdapter, model string, today func() string) *Summarizer {
	if today == nil {
		today = func() string { return "" }
	}
	return &Summarizer{adapter: adapter, model: model, today: today}
}

// Summarize returns content wrapped as
// "<summary>...</summary>\n\n<key_excerpts>...</key_excerpts>".
func (s *Summarizer) Summarize(ctx context.Context, content string) (string, error) {
	prompt := buildPrompt(content, s.today())

	raw, err := s.adapter.InvokeStructured(ctx, s.model, []transcript.Message{
		{Role: transcript.RoleUser, Content: prompt},
	}, "Summary", summarySchema)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var sum summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return "", fmt.Errorf("summarize: decode structured output: %w", err)
	}

	return fmt.Sprintf("<summary>\n%s\n</summary>\n\n<key_excerpts>\n%s\n</key_excerpts>", sum.Summary, sum.KeyExcerpts), nil
}

func buildPrompt(content, today string) string {
	header := "Summarize the following webpage content."
	if today != "" {
		header += fmt.Sprintf(" Today's date is %s.", today)
	}
	return fmt.Sprintf("%s\n\nFocus on information relevant to a research task, and preserve key facts, figures, and quotes verbatim in key_excerpts.\n\n<webpage_content>\n%s\n</webpage_content>", header, content)
}
