// Package agentloop implements ToolLoopAgent: the per-SubTask iteration
// loop that calls ModelAdapter.InvokeWithTools, dispatches the resulting
// tool calls through a ToolRegistry, and terminates on completion or
// budget exhaustion.
//
// Grounded on the teacher's pkg/harness/toolloop.go (stream-turn, collect
// tool calls, execute, append follow-up messages, repeat) generalized
// from a streaming turn/event loop to a transcript-append loop, and on
// other_examples' go-research supervisor.go's executeParallelResearch
// (index-tagged channel to preserve call order under concurrent
// execution).
package agentloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/toolregistry"
	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// TerminationReason explains why a ToolLoopAgent stopped.
type TerminationReason string

const (
	ReasonCompleted           TerminationReason = "completed"
	ReasonBudgetExhausted     TerminationReason = "budget_exhausted"
	ReasonTokenLimitExhausted TerminationReason = "token_limit_exhausted"
	ReasonError               TerminationReason = "error"
)

// ResearchCompleteTool is the control-flow tool name that signals a
// ToolLoopAgent is done gathering information, independent of whether the
// model stopped issuing tool calls.
const ResearchCompleteTool = "ResearchComplete"

// Budget bounds a single agent run.
type Budget struct {
	MaxIterations int
	MaxToolCalls  int
}

// ModelAdapter is the subset of modeladapter.Adapter the loop calls
// through, declared locally to avoid coupling to the concrete type.
type ModelAdapter interface {
	InvokeWithTools(ctx context.Context, model string, messages []transcript.Message, tools []modeladapter.ToolSpec) (transcript.Message, error)
}

// Result is a terminated agent's output: the final assistant message plus
// every tool-result transcript entry produced along the way (the
// "notes"), in append order.
type Result struct {
	Reason       TerminationReason
	FinalMessage transcript.Message
	Notes        []transcript.Message
	Iterations   int
	ToolCalls    int
	Err          error
}

// Agent is a single ToolLoopAgent instance: Active until Run terminates
// it, per spec.md §3's Active→{Active,Terminated} state machine.
type Agent struct {
	adapter  ModelAdapter
	registry *toolregistry.Registry
	model    string
	budget   Budget
}

// New builds an Agent bound to model, using tools from registry.
func New(adapter ModelAdapter, registry *toolregistry.Registry, model string, budget Budget) *Agent {
	if budget.MaxIterations <= 0 {
		budget.MaxIterations = 10
	}
	if budget.MaxToolCalls <= 0 {
		budget.MaxToolCalls = 30
	}
	return &Agent{adapter: adapter, registry: registry, model: model, budget: budget}
}

// Run drives the loop to termination starting from transcript.
func (a *Agent) Run(ctx context.Context, initial []transcript.Message) Result {
	messages := make([]transcript.Message, len(initial))
	copy(messages, initial)

	var notes []transcript.Message
	iterations := 0
	toolCalls := 0

	for {
		iterations++
		if iterations > a.budget.MaxIterations || toolCalls > a.budget.MaxToolCalls {
			return Result{Reason: ReasonBudgetExhausted, Notes: notes, Iterations: iterations - 1, ToolCalls: toolCalls}
		}

		assistantMsg, err := a.adapter.InvokeWithTools(ctx, a.model, messages, a.registry.Specs())
		if err != nil {
			if isTokenLimitExceeded(err) {
				messages = transcript.TruncateFromLastAssistant(messages)
				if len(messages) == 0 {
					return Result{Reason: ReasonTokenLimitExhausted, Notes: notes, Iterations: iterations, ToolCalls: toolCalls, Err: err}
				}
				iterations--
				continue
			}
			return Result{Reason: ReasonError, Notes: notes, Iterations: iterations, ToolCalls: toolCalls, Err: err}
		}

		messages = append(messages, assistantMsg)

		if len(assistantMsg.ToolCalls) == 0 || hasResearchComplete(assistantMsg.ToolCalls) {
			return Result{Reason: ReasonCompleted, FinalMessage: assistantMsg, Notes: notes, Iterations: iterations, ToolCalls: toolCalls}
		}

		for _, toolMsg := range a.executeToolCalls(ctx, assistantMsg.ToolCalls) {
			messages = append(messages, toolMsg)
			notes = append(notes, toolMsg)
		}
		toolCalls += len(assistantMsg.ToolCalls)
	}
}

// executeToolCalls runs every call in calls concurrently and returns the
// resulting RoleTool messages in the same order the calls appeared,
// preserving call-ID pairing regardless of completion order.
func (a *Agent) executeToolCalls(ctx context.Context, calls []transcript.ToolCall) []transcript.Message {
	type indexed struct {
		index int
		msg   transcript.Message
	}

	results := make(chan indexed, len(calls))
	for i, call := range calls {
		i, call := i, call
		go func() {
			text, err := a.registry.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				text = fmt.Sprintf("error: tool %q failed: %v", call.Name, err)
			}
			results <- indexed{index: i, msg: transcript.Message{
				Role:       transcript.RoleTool,
				Content:    text,
				ToolCallID: call.CallID,
			}}
		}()
	}

	ordered := make([]transcript.Message, len(calls))
	for range calls {
		r := <-results
		ordered[r.index] = r.msg
	}
	return ordered
}

func hasResearchComplete(calls []transcript.ToolCall) bool {
	for _, c := range calls {
		if c.Name == ResearchCompleteTool {
			return true
		}
	}
	return false
}

// isTokenLimitExceeded recognizes both the adapter's own
// ErrTokenLimitExceeded sentinel (returned once the adapter has already
// exhausted its one truncate-and-retry) and a raw *ProviderError a
// ModelAdapter stub might return directly in tests.
func isTokenLimitExceeded(err error) bool {
	if errors.Is(err, modeladapter.ErrTokenLimitExceeded) {
		return true
	}
	var perr *modeladapter.ProviderError
	if errors.As(err, &perr) {
		return modeladapter.IsTokenLimitExceeded(perr, "")
	}
	return false
}
