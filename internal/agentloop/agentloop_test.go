package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/toolregistry"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

type scriptedAdapter struct {
	replies []transcript.Message
	errs    []error
	calls   int
}

func (s *scriptedAdapter) InvokeWithTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return transcript.Message{}, s.errs[idx]
	}
	if idx >= len(s.replies) {
		return transcript.Message{Role: transcript.RoleAssistant, Content: "done"}, nil
	}
	return s.replies[idx], nil
}

func newRegistry() *toolregistry.Registry {
	r := toolregistry.New()
	r.RegisterCallable("web_search", "search", nil, func(ctx context.Context, input map[string]any) (string, error) {
		return "search result for " + input["query"].(string), nil
	})
	r.RegisterSchema(ResearchCompleteTool, "signal done", nil)
	return r
}

func TestRunTerminatesWhenNoToolCalls(t *testing.T) {
	adapter := &scriptedAdapter{replies: []transcript.Message{
		{Role: transcript.RoleAssistant, Content: "final answer, no tools"},
	}}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{})

	result := agent.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go"}})
	require.Equal(t, ReasonCompleted, result.Reason)
	require.Equal(t, "final answer, no tools", result.FinalMessage.Content)
	require.Empty(t, result.Notes)
}

func TestRunTerminatesOnResearchComplete(t *testing.T) {
	adapter := &scriptedAdapter{replies: []transcript.Message{
		{Role: transcript.RoleAssistant, ToolCalls: []transcript.ToolCall{{CallID: "1", Name: ResearchCompleteTool, Arguments: "{}"}}},
	}}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{})

	result := agent.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go"}})
	require.Equal(t, ReasonCompleted, result.Reason)
}

func TestRunExecutesToolCallsAndAccumulatesNotes(t *testing.T) {
	adapter := &scriptedAdapter{replies: []transcript.Message{
		{Role: transcript.RoleAssistant, ToolCalls: []transcript.ToolCall{
			{CallID: "1", Name: "web_search", Arguments: `{"query":"go concurrency"}`},
		}},
		{Role: transcript.RoleAssistant, Content: "wrapped up"},
	}}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{})

	result := agent.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go"}})
	require.Equal(t, ReasonCompleted, result.Reason)
	require.Len(t, result.Notes, 1)
	require.Contains(t, result.Notes[0].Content, "go concurrency")
	require.Equal(t, "1", result.Notes[0].ToolCallID)
	require.Equal(t, 1, result.ToolCalls)
}

func TestRunPreservesToolResultOrderAcrossConcurrentCalls(t *testing.T) {
	r := toolregistry.New()
	r.RegisterCallable("slow", "slow tool", nil, func(ctx context.Context, input map[string]any) (string, error) {
		return "slow:" + input["n"].(string), nil
	})
	r.RegisterCallable("fast", "fast tool", nil, func(ctx context.Context, input map[string]any) (string, error) {
		return "fast:" + input["n"].(string), nil
	})

	adapter := &scriptedAdapter{replies: []transcript.Message{
		{Role: transcript.RoleAssistant, ToolCalls: []transcript.ToolCall{
			{CallID: "a", Name: "slow", Arguments: `{"n":"1"}`},
			{CallID: "b", Name: "fast", Arguments: `{"n":"2"}`},
		}},
		{Role: transcript.RoleAssistant, Content: "done"},
	}}
	agent := New(adapter, r, "openai:gpt-4o-mini", Budget{})

	result := agent.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go"}})
	require.Len(t, result.Notes, 2)
	require.Equal(t, "a", result.Notes[0].ToolCallID)
	require.Equal(t, "b", result.Notes[1].ToolCallID)
}

func TestRunTerminatesOnBudgetExhaustion(t *testing.T) {
	adapter := &scriptedAdapter{}
	for i := 0; i < 5; i++ {
		adapter.replies = append(adapter.replies, transcript.Message{
			Role: transcript.RoleAssistant,
			ToolCalls: []transcript.ToolCall{{CallID: "x", Name: "web_search", Arguments: `{"query":"x"}`}},
		})
	}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{MaxIterations: 2})

	result := agent.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go"}})
	require.Equal(t, ReasonBudgetExhausted, result.Reason)
}

func TestRunRecoversFromTokenLimitByTruncating(t *testing.T) {
	adapter := &scriptedAdapter{
		errs: []error{modeladapter.ErrTokenLimitExceeded},
		replies: []transcript.Message{
			{},
			{Role: transcript.RoleAssistant, Content: "recovered"},
		},
	}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{})

	messages := []transcript.Message{
		{Role: transcript.RoleUser, Content: "hi"},
		{Role: transcript.RoleAssistant, Content: "prior turn"},
	}
	result := agent.Run(context.Background(), messages)
	require.Equal(t, ReasonCompleted, result.Reason)
	require.Equal(t, "recovered", result.FinalMessage.Content)
}

func TestRunTerminatesWhenTruncationExhausted(t *testing.T) {
	adapter := &scriptedAdapter{errs: []error{modeladapter.ErrTokenLimitExceeded}}
	agent := New(adapter, newRegistry(), "openai:gpt-4o-mini", Budget{})

	result := agent.Run(context.Background(), []transcript.Message{
		{Role: transcript.RoleAssistant, Content: "only assistant message"},
	})
	require.Equal(t, ReasonTokenLimitExhausted, result.Reason)
}
