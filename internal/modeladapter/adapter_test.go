package modeladapter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter/mockclient"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

func TestProviderPrefixSplit(t *testing.T) {
	prefix, bare := providerPrefix("openai:gpt-4o-mini")
	require.Equal(t, "openai", prefix)
	require.Equal(t, "gpt-4o-mini", bare)

	prefix, bare = providerPrefix("local-llama")
	require.Equal(t, "", prefix)
	require.Equal(t, "local-llama", bare)
}

func TestSupportsNativeToolsKnownAndUnknownPrefixes(t *testing.T) {
	require.True(t, supportsNativeTools("openai:gpt-4o"))
	require.True(t, supportsNativeTools("anthropic:claude-sonnet-4-5"))
	require.False(t, supportsNativeTools("google:gemini-1.5-pro"))
	require.False(t, supportsNativeTools("cohere:command-r-plus"))
	require.False(t, supportsNativeTools("unknown-vendor:some-model"))
}

func TestSupportsNativeStructuredOutputCoversFourPrefixes(t *testing.T) {
	for _, p := range []string{"openai", "anthropic", "google", "gemini"} {
		require.True(t, supportsNativeStructuredOutput(p+":x"), p)
	}
	require.False(t, supportsNativeStructuredOutput("cohere:command-r-plus"))
}

func TestIsTokenLimitExceededOpenAI(t *testing.T) {
	err := &ProviderError{Provider: "openai", Kind: "BadRequestError", Message: "maximum context length exceeded"}
	require.True(t, IsTokenLimitExceeded(err, "openai:gpt-4o"))
	require.True(t, IsTokenLimitExceeded(err, ""))
}

func TestIsTokenLimitExceededExplicitCode(t *testing.T) {
	err := &ProviderError{Provider: "openai", Kind: "InvalidRequestError", Code: "context_length_exceeded", Message: "nope"}
	require.True(t, IsTokenLimitExceeded(err, "openai:gpt-4o"))
}

func TestIsTokenLimitExceededAnthropic(t *testing.T) {
	err := &ProviderError{Provider: "anthropic", Kind: "BadRequestError", Message: "prompt is too long: 300000 tokens > 200000 maximum"}
	require.True(t, IsTokenLimitExceeded(err, "anthropic:claude-sonnet-4-5"))
}

func TestIsTokenLimitExceededGemini(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Kind: "ResourceExhausted", Message: "quota exceeded"}
	require.True(t, IsTokenLimitExceeded(err, "gemini:gemini-1.5-pro"))
}

func TestIsTokenLimitExceededFalseForUnrelatedError(t *testing.T) {
	err := &ProviderError{Provider: "openai", Kind: "AuthenticationError", Message: "invalid api key"}
	require.False(t, IsTokenLimitExceeded(err, "openai:gpt-4o"))
}

func TestIsTokenLimitExceededWrongHintSkipsMatch(t *testing.T) {
	err := &ProviderError{Provider: "anthropic", Kind: "BadRequestError", Message: "prompt is too long"}
	require.False(t, IsTokenLimitExceeded(err, "openai:gpt-4o"))
}

func TestModelContextWindowLookup(t *testing.T) {
	size, ok := ModelContextWindow("anthropic:claude-3-5-sonnet-20241022")
	require.True(t, ok)
	require.Equal(t, 200000, size)

	_, ok = ModelContextWindow("openai:nonexistent-model")
	require.False(t, ok)
}

func TestInvokeTextHappyPath(t *testing.T) {
	client := mockclient.New("openai", []mockclient.TextResponse{{Text: "hello there"}}, nil)
	a := New(map[string]ModelClient{"openai": client}, nil, Config{})

	out, err := a.InvokeText(context.Background(), "openai:gpt-4o-mini", []transcript.Message{
		{Role: transcript.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", out)
}

func TestInvokeTextRecoversFromTokenLimitByTruncating(t *testing.T) {
	client := mockclient.New("openai", []mockclient.TextResponse{
		{Err: &ProviderError{Provider: "openai", Kind: "BadRequestError", Message: "context length exceeded"}},
		{Text: "recovered"},
	}, nil)
	a := New(map[string]ModelClient{"openai": client}, nil, Config{})

	messages := []transcript.Message{
		{Role: transcript.RoleUser, Content: "hi"},
		{Role: transcript.RoleAssistant, Content: "first reply"},
		{Role: transcript.RoleUser, Content: "follow-up"},
	}
	out, err := a.InvokeText(context.Background(), "openai:gpt-4o-mini", messages)
	require.NoError(t, err)
	require.Equal(t, "recovered", out)

	require.Len(t, client.Recorded, 2)
	require.Len(t, client.Recorded[1], 1, "second attempt should have truncated back to before the last assistant message")
}

func TestInvokeTextFailsWithTokenLimitExceededWhenTruncationExhausted(t *testing.T) {
	client := mockclient.New("openai", []mockclient.TextResponse{
		{Err: &ProviderError{Provider: "openai", Kind: "BadRequestError", Message: "context length exceeded"}},
	}, nil)
	a := New(map[string]ModelClient{"openai": client}, nil, Config{})

	messages := []transcript.Message{
		{Role: transcript.RoleAssistant, Content: "only assistant message"},
	}
	_, err := a.InvokeText(context.Background(), "openai:gpt-4o-mini", messages)
	require.ErrorIs(t, err, ErrTokenLimitExceeded)
}

func TestInvokeTextFailsFastWhenMinimalPromptExceedsContextWindow(t *testing.T) {
	client := mockclient.New("openai", []mockclient.TextResponse{{Text: "unreachable"}}, nil)
	a := New(map[string]ModelClient{"openai": client}, nil, Config{})

	messages := []transcript.Message{
		{Role: transcript.RoleSystem, Content: strings.Repeat("a", 4*128000+1)},
		{Role: transcript.RoleUser, Content: "hi"},
	}
	_, err := a.InvokeText(context.Background(), "openai:gpt-4o", messages)
	require.ErrorIs(t, err, ErrTokenLimitExceeded)
	require.Empty(t, client.Recorded, "client should never be called once the minimal prompt alone can't fit")
}

func TestInvokeTextSkipsWindowCheckForUnknownModel(t *testing.T) {
	client := mockclient.New("local", []mockclient.TextResponse{{Text: "ok"}}, nil)
	a := New(map[string]ModelClient{"local": client}, nil, Config{})

	messages := []transcript.Message{
		{Role: transcript.RoleSystem, Content: strings.Repeat("a", 4*128000+1)},
		{Role: transcript.RoleUser, Content: "hi"},
	}
	out, err := a.InvokeText(context.Background(), "local:unlisted-model", messages)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestInvokeStructuredNativeHappyPath(t *testing.T) {
	client := mockclient.New("anthropic", nil, []mockclient.StructuredResponse{
		{Value: []byte(`{"bullet_findings":["a"],"open_gaps":[]}`)},
	})
	a := New(map[string]ModelClient{"anthropic": client}, nil, Config{})

	raw, err := a.InvokeStructured(context.Background(), "anthropic:claude-sonnet-4-5",
		[]transcript.Message{{Role: transcript.RoleUser, Content: "summarize"}},
		"CompressedNotes",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bullet_findings": map[string]any{"type": "array"},
				"open_gaps":       map[string]any{"type": "array"},
			},
			"required": []any{"bullet_findings", "open_gaps"},
		},
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"bullet_findings":["a"],"open_gaps":[]}`, string(raw))
}

func TestInvokeStructuredNativeRetriesOnValidationFailure(t *testing.T) {
	client := mockclient.New("anthropic", nil, []mockclient.StructuredResponse{
		{Value: []byte(`{"open_gaps":[]}`)},            // missing required bullet_findings
		{Value: []byte(`{"bullet_findings":[],"open_gaps":[]}`)},
	})
	a := New(map[string]ModelClient{"anthropic": client}, nil, Config{MaxStructuredOutputRetries: 3})

	sch := map[string]any{
		"type":       "object",
		"properties": map[string]any{"bullet_findings": map[string]any{"type": "array"}, "open_gaps": map[string]any{"type": "array"}},
		"required":   []any{"bullet_findings", "open_gaps"},
	}
	raw, err := a.InvokeStructured(context.Background(), "anthropic:claude-sonnet-4-5",
		[]transcript.Message{{Role: transcript.RoleUser, Content: "summarize"}}, "CompressedNotes", sch)
	require.NoError(t, err)
	require.JSONEq(t, `{"bullet_findings":[],"open_gaps":[]}`, string(raw))
}

func TestInvokeStructuredTextModeExtractsFromFencedBlock(t *testing.T) {
	client := mockclient.New("local", []mockclient.TextResponse{
		{Text: "Sure, here you go:\n```json\n{\"bullet_findings\":[\"x\"],\"open_gaps\":[\"y\"]}\n```"},
	}, nil)
	a := New(map[string]ModelClient{"local": client}, nil, Config{})

	sch := map[string]any{
		"type":       "object",
		"properties": map[string]any{"bullet_findings": map[string]any{"type": "array"}, "open_gaps": map[string]any{"type": "array"}},
		"required":   []any{"bullet_findings", "open_gaps"},
	}
	raw, err := a.InvokeStructured(context.Background(), "local:llama-3", []transcript.Message{
		{Role: transcript.RoleUser, Content: "summarize"},
	}, "CompressedNotes", sch)
	require.NoError(t, err)
	require.JSONEq(t, `{"bullet_findings":["x"],"open_gaps":["y"]}`, string(raw))
}

func TestInvokeTextPropagatesCancellation(t *testing.T) {
	client := mockclient.New("openai", []mockclient.TextResponse{{Text: "unreachable"}}, nil)
	a := New(map[string]ModelClient{"openai": client}, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.InvokeText(ctx, "openai:gpt-4o-mini", []transcript.Message{{Role: transcript.RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrCancelled)
}
