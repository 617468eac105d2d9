package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/kodalabs/koda/internal/trace"
)

type fakeTool struct {
	name   string
	result *Result
	panics bool
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool" }
func (t *fakeTool) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}

func (t *fakeTool) Execute(ctx context.Context, args map[string]any) *Result {
	if t.panics {
		panic("boom")
	}
	return t.result
}

func TestRegistryRefusesDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&fakeTool{name: "a"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(&fakeTool{name: "a"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate register err = %v", err)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Execute(context.Background(), "nope", nil)
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(res.Error, "Unknown tool: nope") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRegistryTrapsPanics(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&fakeTool{name: "bad", panics: true}); err != nil {
		t.Fatal(err)
	}
	res := r.Execute(context.Background(), "bad", nil)
	if res.Success {
		t.Fatal("expected panic to become a failed result")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRegistryEmitsTraceEvents(t *testing.T) {
	tc := trace.NewCollector("task-1", "")
	r := NewRegistry(tc)
	big := strings.Repeat("x", 5000)
	if err := r.Register(&fakeTool{name: "big", result: NewResult(big)}); err != nil {
		t.Fatal(err)
	}

	r.Execute(context.Background(), "big", map[string]any{"k": "v"})

	calls := tc.EventsByType(trace.EventToolCall)
	results := tc.EventsByType(trace.EventToolResult)
	if len(calls) != 1 || len(results) != 1 {
		t.Fatalf("events = %d calls, %d results", len(calls), len(results))
	}
	if calls[0].Data["tool"] != "big" {
		t.Errorf("tool_call data = %v", calls[0].Data)
	}

	// The full output must never land in the trace, only its length.
	data := results[0].Data
	if data["output_length"] != 5000 {
		t.Errorf("output_length = %v", data["output_length"])
	}
	for _, v := range data {
		if s, ok := v.(string); ok && strings.Contains(s, big) {
			t.Fatal("full tool output leaked into trace event")
		}
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"read_file", "write_file", "shell"} {
		if err := r.Register(&fakeTool{name: name, result: NewResult("")}); err != nil {
			t.Fatal(err)
		}
	}

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("definitions = %d", len(defs))
	}
	want := []string{"read_file", "write_file", "shell"}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, d.Name, want[i])
		}
		if d.InputSchema == nil {
			t.Errorf("defs[%d] has no schema", i)
		}
	}
}
