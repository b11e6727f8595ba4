// Package toolregistry holds the name→descriptor mapping ToolLoopAgent
// consults on every iteration. A descriptor is one of three kinds: native
// (provider-handled, not directly invocable), schema-only (validates and
// echoes its input, used for control-flow tools like ResearchComplete), or
// callable (backed by a Go handler).
//
// Grounded on the teacher's pkg/harness/codex/tools.go (plain functions
// building protocol.ToolSpec values registered into a set) and
// pkg/backend.ToolHandler (name-dispatched handler signature).
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jordangeorgiev/open-deep-research/internal/modeladapter"
	"github.com/jordangeorgiev/open-deep-research/internal/schema"
)

// Kind identifies a descriptor's execution strategy.
type Kind string

const (
	KindNative   Kind = "native"
	KindSchema   Kind = "schema"
	KindCallable Kind = "callable"
)

// Handler is a callable tool's implementation. input is the tool-call
// arguments already decoded from JSON; the returned string is the text
// fed back into the transcript as the ToolResult.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Descriptor is one registered tool. It is immutable after Register and
// freely shared across concurrently running ToolLoopAgents.
type Descriptor struct {
	Name        string
	Description string
	Kind        Kind
	Schema      map[string]any // JSON schema for schema/callable kinds
	Handler     Handler         // set only for KindCallable
}

// Spec returns the modeladapter.ToolSpec this descriptor advertises to the
// model. Native descriptors still advertise a spec (the provider handles
// them directly); only Execute treats them specially.
func (d Descriptor) Spec() modeladapter.ToolSpec {
	return modeladapter.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Schema}
}

// Registry is a name→Descriptor map, safe for concurrent read access once
// construction (Register calls) is finished. Per spec.md §3's ownership
// note, ToolDescriptors are shared and immutable; registration takes the
// write lock and lookups take the read lock.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]Descriptor
	order []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// RegisterNative adds an opaque, provider-handled tool. Execute on it
// always fails.
func (r *Registry) RegisterNative(name, description string, toolSchema map[string]any) {
	r.register(Descriptor{Name: name, Description: description, Kind: KindNative, Schema: toolSchema})
}

// RegisterSchema adds a schema-only tool: Execute validates input against
// toolSchema and echoes it back as text. Used for control-flow signals
// like ResearchComplete, where the value of calling the tool is the call
// itself, not a side effect.
func (r *Registry) RegisterSchema(name, description string, toolSchema map[string]any) {
	r.register(Descriptor{Name: name, Description: description, Kind: KindSchema, Schema: toolSchema})
}

// RegisterCallable adds a tool backed by handler.
func (r *Registry) RegisterCallable(name, description string, toolSchema map[string]any, handler Handler) {
	r.register(Descriptor{Name: name, Description: description, Kind: KindCallable, Schema: toolSchema, Handler: handler})
}

func (r *Registry) register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
}

// Lookup returns the descriptor registered under name, if any.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every registered tool name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns the modeladapter.ToolSpec view of every registered tool,
// in registration order, for handing to ModelAdapter.InvokeWithTools.
func (r *Registry) Specs() []modeladapter.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]modeladapter.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Spec())
	}
	return out
}

// Execute dispatches by exact name match against argsJSON (the raw
// tool-call arguments, JSON-encoded). An unknown name returns an error
// text listing available tool names rather than an error value: per
// spec.md §4.2 this result is fed back into the transcript, not raised.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	d, ok := r.Lookup(name)
	if !ok {
		names := r.Names()
		sort.Strings(names)
		return fmt.Sprintf("error: unknown tool %q; available tools: %s", name, strings.Join(names, ", ")), nil
	}

	var input map[string]any
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &input); err != nil {
			return fmt.Sprintf("error: invalid arguments for tool %q: %v", name, err), nil
		}
	}

	switch d.Kind {
	case KindNative:
		return fmt.Sprintf("error: tool %q requires provider-level support", name), nil
	case KindSchema:
		if d.Schema != nil {
			if err := schema.Validate(d.Schema, input); err != nil {
				return fmt.Sprintf("error: invalid input for tool %q: %v", name, err), nil
			}
		}
		echo, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("toolregistry: encode echo for %q: %w", name, err)
		}
		return fmt.Sprintf("%s received: %s", name, echo), nil
	case KindCallable:
		if d.Schema != nil {
			if err := schema.Validate(d.Schema, input); err != nil {
				return fmt.Sprintf("error: invalid input for tool %q: %v", name, err), nil
			}
		}
		return d.Handler(ctx, input)
	default:
		return "", fmt.Errorf("toolregistry: descriptor %q has unknown kind %q", name, d.Kind)
	}
}
