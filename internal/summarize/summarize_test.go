package summarize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

type stubAdapter struct {
	raw json.RawMessage
	err error

	capturedModel    string
	capturedMessages []transcript.Message
	capturedSchema   map[string]any
}

func (s *stubAdapter) InvokeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error) {
	s.capturedModel = model
	s.capturedMessages = messages
	s.capturedSchema = schema
	return s.raw, s.err
}

func TestSummarizeWrapsDelimitedSections(t *testing.T) {
	adapter := &stubAdapter{raw: []byte(`{"summary":"brief","key_excerpts":"quote one"}`)}
	s := New(adapter, "openai:gpt-4o-mini", func() string { return "2026-07-30" })

	out, err := s.Summarize(context.Background(), "raw page text")
	require.NoError(t, err)
	require.Equal(t, "<summary>\nbrief\n</summary>\n\n<key_excerpts>\nquote one\n</key_excerpts>", out)
	require.Equal(t, "openai:gpt-4o-mini", adapter.capturedModel)
	require.Contains(t, adapter.capturedMessages[0].Content, "2026-07-30")
	require.Contains(t, adapter.capturedMessages[0].Content, "raw page text")
}

func TestSummarizePropagatesAdapterError(t *testing.T) {
	adapter := &stubAdapter{err: context.DeadlineExceeded}
	s := New(adapter, "openai:gpt-4o-mini", nil)

	_, err := s.Summarize(context.Background(), "content")
	require.Error(t, err)
}
