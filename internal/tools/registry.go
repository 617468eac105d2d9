package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kodalabs/koda/internal/llm"
	"github.com/kodalabs/koda/internal/trace"
)

// Registry maps tool names to implementations and dispatches execution.
// Every dispatch is bracketed by tool_call / tool_result trace events.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	trace *trace.Collector // may be nil
}

// NewRegistry creates an empty registry. The collector may be nil.
func NewRegistry(tc *trace.Collector) *Registry {
	return &Registry{tools: map[string]Tool{}, trace: tc}
}

// SetCollector swaps the trace collector, e.g. at the start of a new task.
func (r *Registry) SetCollector(tc *trace.Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = tc
}

// Register adds a tool. Duplicate names are refused.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	slog.Debug("registered tool", "name", name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute dispatches a tool call. An unknown name yields a structured
// failure rather than an error; a panicking tool is trapped the same way.
// Trace events carry the output length and error summary only, never the
// full output.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	tc := r.trace
	r.mu.RUnlock()

	if !ok {
		slog.Error("unknown tool requested", "name", name)
		return ErrorResult("Unknown tool: %s", name)
	}

	if tc != nil {
		tc.Record(trace.EventToolCall, map[string]any{
			"tool":  name,
			"input": input,
		})
	}

	result := safeExecute(ctx, tool, input)

	if tc != nil {
		tc.Record(trace.EventToolResult, map[string]any{
			"tool":          name,
			"success":       result.Success,
			"output_length": len(result.Output),
			"error":         result.Error,
		})
	}

	return result
}

// safeExecute traps panics so a misbehaving tool can never take down the
// agent loop.
func safeExecute(ctx context.Context, tool Tool, input map[string]any) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "name", tool.Name(), "panic", rec)
			result = ErrorResult("tool %s failed: %v", tool.Name(), rec)
		}
	}()

	result = tool.Execute(ctx, input)
	if result == nil {
		result = ErrorResult("tool %s returned no result", tool.Name())
	}
	if !result.Success {
		slog.Debug("tool failed", "name", tool.Name(), "error", result.Error)
	}
	return result
}

// Definitions renders all registered tools for the LLM request, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
