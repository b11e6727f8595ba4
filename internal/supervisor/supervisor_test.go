package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/agentloop"
	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/toolregistry"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// scriptedAdapter answers InvokeStructured by schemaName, one scripted
// JSON response per call for a given schema (consumed in order).
type scriptedAdapter struct {
	bySchema map[string][]string
	calls    map[string]int
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{bySchema: map[string][]string{}, calls: map[string]int{}}
}

func (s *scriptedAdapter) script(schemaName string, responses ...string) *scriptedAdapter {
	s.bySchema[schemaName] = responses
	return s
}

func (s *scriptedAdapter) InvokeStructured(ctx context.Context, model string, messages []transcript.Message, schemaName string, schema map[string]any) (json.RawMessage, error) {
	idx := s.calls[schemaName]
	s.calls[schemaName] = idx + 1
	responses := s.bySchema[schemaName]
	if idx >= len(responses) {
		return nil, fmt.Errorf("no scripted response for schema %q call #%d", schemaName, idx)
	}
	return json.RawMessage(responses[idx]), nil
}

type stubReportWriter struct {
	brief string
	notes []string
}

func (w *stubReportWriter) Write(ctx context.Context, brief string, notes []string) string {
	w.brief = brief
	w.notes = notes
	return "# Final Report\n\n" + brief
}

// fixedReplyAdapter is an agentloop.ModelAdapter stub that always
// terminates immediately with a fixed note-free assistant reply.
type fixedReplyAdapter struct{ content string }

func (a *fixedReplyAdapter) InvokeWithTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	return transcript.Message{Role: transcript.RoleAssistant, Content: a.content}, nil
}

// erroringAdapter always fails, simulating a subtask whose agent run
// terminates with an error.
type erroringAdapter struct{}

func (a *erroringAdapter) InvokeWithTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error) {
	return transcript.Message{}, fmt.Errorf("boom")
}

// agentFactoryReturningNotes builds a factory whose agents immediately
// terminate with a single fixed assistant reply and no notes.
func agentFactoryReturningNotes() AgentFactory {
	return func() *agentloop.Agent {
		r := toolregistry.New()
		return agentloop.New(&fixedReplyAdapter{content: "note content"}, r, "openai:gpt-4o-mini", agentloop.Budget{})
	}
}

func TestRunHaltsForClarificationWhenNeeded(t *testing.T) {
	adapter := newScriptedAdapter().script("ClarifyDecision", `{"needs_clarification":true,"question":"which language?"}`)
	sup := New(adapter, nil, nil, Config{Model: "openai:gpt-4o-mini", AllowClarification: true})

	result, err := sup.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "tell me about programming"}})
	require.NoError(t, err)
	require.True(t, result.NeedsClarification)
	require.Equal(t, "which language?", result.ClarifyingQuestion)
}

func TestRunSkipsClarificationWhenNotAllowed(t *testing.T) {
	var dispatched atomic.Int32
	adapter := newScriptedAdapter().
		script("ResearchBrief", `{"brief":"research go generics"}`).
		script("ResearchPlan", `{"subtasks":["find spec","find examples"]}`).
		script("CompressedNotes", `{"bullet_findings":["finding A","finding B"],"open_gaps":[]}`)

	factory := func() *agentloop.Agent {
		dispatched.Add(1)
		r := toolregistry.New()
		return agentloop.New(&fixedReplyAdapter{content: "note content"}, r, "openai:gpt-4o-mini", agentloop.Budget{})
	}
	rw := &stubReportWriter{}
	sup := New(adapter, factory, rw, Config{Model: "openai:gpt-4o-mini", MaxConcurrentResearch: 2})

	result, err := sup.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "go generics"}})
	require.NoError(t, err)
	require.False(t, result.NeedsClarification)
	require.Equal(t, "research go generics", result.Brief)
	require.Equal(t, int32(2), dispatched.Load())
	require.Contains(t, result.FinalReport, "research go generics")
	require.Equal(t, []string{"finding A", "finding B"}, result.Notes)
}

func TestRunStopsReplanningWhenGapsClear(t *testing.T) {
	adapter := newScriptedAdapter().
		script("ResearchBrief", `{"brief":"b"}`).
		script("ResearchPlan", `{"subtasks":["task1"]}`).
		script("CompressedNotes", `{"bullet_findings":["f1"],"open_gaps":[]}`)

	sup := New(adapter, agentFactoryReturningNotes(), &stubReportWriter{}, Config{Model: "m"})

	result, err := sup.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "q"}})
	require.NoError(t, err)
	require.Equal(t, 0, result.ReplanRounds)
}

func TestRunReplansWhenGapsRemainUpToMax(t *testing.T) {
	adapter := newScriptedAdapter().
		script("ResearchBrief", `{"brief":"b"}`).
		script("ResearchPlan", `{"subtasks":["task1"]}`, `{"subtasks":["task2"]}`, `{"subtasks":["task3"]}`).
		script("CompressedNotes",
			`{"bullet_findings":["f1"],"open_gaps":["gap1"]}`,
			`{"bullet_findings":["f1","f2"],"open_gaps":["gap2"]}`,
			`{"bullet_findings":["f1","f2","f3"],"open_gaps":["gap3"]}`,
		)

	sup := New(adapter, agentFactoryReturningNotes(), &stubReportWriter{}, Config{Model: "m", MaxReplanRounds: 2})

	result, err := sup.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "q"}})
	require.NoError(t, err)
	require.Equal(t, 2, result.ReplanRounds)
}

func TestDispatchCollectsFailedSubtaskAsErrorNoteWithoutAbortingSiblings(t *testing.T) {
	adapter := newScriptedAdapter().
		script("ResearchBrief", `{"brief":"b"}`).
		script("ResearchPlan", `{"subtasks":["ok","bad"]}`).
		script("CompressedNotes", `{"bullet_findings":["kept"],"open_gaps":[]}`)

	callCount := 0
	factory := func() *agentloop.Agent {
		callCount++
		r := toolregistry.New()
		if callCount == 2 {
			return agentloop.New(&erroringAdapter{}, r, "m", agentloop.Budget{})
		}
		return agentloop.New(&fixedReplyAdapter{content: "good note"}, r, "m", agentloop.Budget{})
	}

	rw := &stubReportWriter{}
	sup := New(adapter, factory, rw, Config{Model: "m"})
	_, err := sup.Run(context.Background(), []transcript.Message{{Role: transcript.RoleUser, Content: "q"}})
	require.NoError(t, err)
}

func TestRunReturnsCancelledWhenContextDoneBeforeDispatch(t *testing.T) {
	adapter := newScriptedAdapter().script("ResearchBrief", `{"brief":"b"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sup := New(adapter, agentFactoryReturningNotes(), &stubReportWriter{}, Config{Model: "m"})
	result, err := sup.Run(ctx, []transcript.Message{{Role: transcript.RoleUser, Content: "q"}})
	require.NoError(t, err)
	require.True(t, result.Cancelled)
}
