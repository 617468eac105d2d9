package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/cost"
	"github.com/kodalabs/koda/internal/llm"
	"github.com/kodalabs/koda/internal/tools"
	"github.com/kodalabs/koda/internal/trace"
)

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Model:             "claude-sonnet-4",
			MaxTokens:         1024,
			MaxToolIterations: 10,
		},
		Memory: config.MemoryConfig{MaxWorkingItems: 10},
		Cost: config.CostConfig{
			BudgetPerTaskUSD: 1.0,
			Pricing: map[string]config.ModelPricing{
				"claude-sonnet-4": {InputPer1K: 0.003, OutputPer1K: 0.015},
			},
		},
	}
}

func toolUseReply(id, name string, input map[string]any) *llm.LLMResponse {
	return &llm.LLMResponse{
		Content:    []llm.Block{llm.ToolUseContent{ID: id, Name: name, Input: input}},
		StopReason: "tool_use",
	}
}

// stubTool answers every invocation with a fixed result.
type stubTool struct {
	name   string
	result *tools.Result
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub" }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	return s.result
}

func newTestLoop(t *testing.T, cfg *config.Config, client ChatClient, tc *trace.Collector, extra ...tools.Tool) *Loop {
	t.Helper()
	registry := tools.NewRegistry(tc)
	for _, tool := range extra {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	tracker := cost.NewTracker(cfg.Cost, tc)
	return NewLoop(cfg, client, registry, tracker, tc, nil)
}

func TestRunSingleTurnAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "4"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	collector := trace.NewCollector("task-1", "")
	tracker := cost.NewTracker(cfg.Cost, collector)
	client := llm.NewClient(cfg.LLM, "test-key", tracker, collector, llm.WithBaseURL(srv.URL))
	registry := tools.NewRegistry(collector)
	loop := NewLoop(cfg, client, registry, tracker, collector, nil)

	result := loop.Run(context.Background(), "What is 2+2?", "")

	if !result.Success {
		t.Errorf("success = false, response = %q", result.Response)
	}
	if result.Response != "4" {
		t.Errorf("response = %q, want \"4\"", result.Response)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(result.ToolCallsMade) != 0 {
		t.Errorf("tool calls = %v, want none", result.ToolCallsMade)
	}
	if result.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", result.TotalTokens)
	}

	spans := collector.Spans()
	if len(spans) != 1 || spans[0].Name != "iteration_0" {
		t.Fatalf("spans = %v", spans)
	}
	seen := map[trace.EventType]bool{}
	for _, e := range spans[0].Events {
		seen[e.EventType] = true
	}
	for _, et := range []trace.EventType{trace.EventLLMRequest, trace.EventLLMResponse, trace.EventThought} {
		if !seen[et] {
			t.Errorf("span missing %s event", et)
		}
	}
}

func TestRunToolCallThenAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.LLMResponse{
		toolUseReply("tu_1", "read_file", map[string]any{"path": "notes.txt"}),
		textReply("The file says hello"),
	}}
	readTool := &stubTool{name: "read_file", result: tools.NewResult("hello")}

	collector := trace.NewCollector("task-2", "")
	loop := newTestLoop(t, testConfig(), client, collector, readTool)

	result := loop.Run(context.Background(), "What does notes.txt say?", "")

	if !result.Success {
		t.Errorf("success = false, response = %q", result.Response)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if len(result.ToolCallsMade) != 1 || result.ToolCallsMade[0] != "read_file" {
		t.Errorf("tool calls = %v", result.ToolCallsMade)
	}
	if len(result.FilesModified) != 0 {
		t.Errorf("files modified = %v, want none", result.FilesModified)
	}

	if got, ok := loop.Memory().Get("last_read_file"); !ok || got != "hello" {
		t.Errorf("scratchpad last_read_file = %q, %v", got, ok)
	}

	// user task, assistant tool_use, user tool_result, assistant answer
	conv := client.convs[0]
	if len(conv.Messages) != 4 {
		t.Fatalf("conversation has %d messages, want 4", len(conv.Messages))
	}
	if conv.Messages[2].Role != llm.RoleUser {
		t.Errorf("message 2 role = %s, want user", conv.Messages[2].Role)
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&cost.BudgetExceededError{Spent: 0.06, Budget: 0.05},
	}}
	collector := trace.NewCollector("task-3", "")
	loop := newTestLoop(t, testConfig(), client, collector)

	result := loop.Run(context.Background(), "expensive task", "")

	if result.Success {
		t.Error("budget exhaustion must not be success")
	}
	if !strings.HasPrefix(result.Response, "Task stopped: budget exceeded") {
		t.Errorf("response = %q", result.Response)
	}
	if len(collector.EventsByType(trace.EventBudgetWarning)) == 0 {
		t.Error("no budget_warning event recorded")
	}
}

func TestRunGenericError(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("connection reset")}}
	collector := trace.NewCollector("task-4", "")
	loop := newTestLoop(t, testConfig(), client, collector)

	result := loop.Run(context.Background(), "task", "")

	if result.Success {
		t.Error("errored run must not be success")
	}
	if result.Response != "Agent encountered an error: connection reset" {
		t.Errorf("response = %q", result.Response)
	}
	if len(collector.EventsByType(trace.EventError)) != 1 {
		t.Error("expected one error event")
	}
}

func TestRunZeroIterationsNeverCallsLLM(t *testing.T) {
	client := &scriptedClient{responses: []*llm.LLMResponse{textReply("unreachable")}}
	cfg := testConfig()
	cfg.LLM.MaxToolIterations = 0
	loop := newTestLoop(t, cfg, client, nil)

	result := loop.Run(context.Background(), "task", "")

	if client.calls != 0 {
		t.Errorf("LLM called %d times, want 0", client.calls)
	}
	if result.Success {
		t.Error("exhausted run must not be success")
	}
	if !strings.Contains(result.Response, "max reached") {
		t.Errorf("response = %q", result.Response)
	}
}

func TestRunIterationExhaustion(t *testing.T) {
	// The model asks for a tool on every turn and never answers.
	client := &scriptedClient{responses: []*llm.LLMResponse{
		toolUseReply("tu_1", "read_file", map[string]any{"path": "a.txt"}),
	}}
	readTool := &stubTool{name: "read_file", result: tools.NewResult("data")}
	cfg := testConfig()
	cfg.LLM.MaxToolIterations = 3
	loop := newTestLoop(t, cfg, client, nil, readTool)

	result := loop.Run(context.Background(), "task", "")

	if result.Success {
		t.Error("exhausted run must not be success")
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
	if result.Response != "Task stopped after 3 iterations (max reached)" {
		t.Errorf("response = %q", result.Response)
	}
}

func TestRunTracksModifiedFilesOnce(t *testing.T) {
	client := &scriptedClient{responses: []*llm.LLMResponse{
		toolUseReply("tu_1", "write_file", map[string]any{"path": "a.txt", "content": "x"}),
		toolUseReply("tu_2", "write_file", map[string]any{"path": "a.txt", "content": "y"}),
		textReply("Updated the file"),
	}}
	writeTool := &stubTool{name: "write_file", result: tools.NewResult("Written 1 chars to a.txt")}
	loop := newTestLoop(t, testConfig(), client, nil, writeTool)

	result := loop.Run(context.Background(), "update a.txt", "")

	if !result.Success {
		t.Errorf("success = false, response = %q", result.Response)
	}
	if len(result.FilesModified) != 1 || result.FilesModified[0] != "a.txt" {
		t.Errorf("files modified = %v, want [a.txt]", result.FilesModified)
	}
}

func TestRunToolFailureFeedsErrorBack(t *testing.T) {
	client := &scriptedClient{responses: []*llm.LLMResponse{
		toolUseReply("tu_1", "shell", map[string]any{"command": "make"}),
		textReply("The build is broken"),
	}}
	failing := &stubTool{name: "shell", result: tools.ErrorResult("command not allowed")}
	loop := newTestLoop(t, testConfig(), client, nil, failing)

	loop.Run(context.Background(), "run the build", "")

	// The error, not the empty output, lands in the scratchpad.
	if got, _ := loop.Memory().Get("last_shell"); got != "command not allowed" {
		t.Errorf("scratchpad last_shell = %q", got)
	}

	conv := client.convs[0]
	blocks := conv.Messages[2].Content
	tr, ok := blocks[0].(llm.ToolResultContent)
	if !ok {
		t.Fatalf("message 2 block 0 = %T, want ToolResultContent", blocks[0])
	}
	if !tr.IsError {
		t.Error("tool result should be flagged as error")
	}
	if !strings.HasPrefix(tr.Content, "Error: command not allowed") {
		t.Errorf("tool result content = %q", tr.Content)
	}
}

func TestRunInjectsContextIntoSystemPrompt(t *testing.T) {
	client := &scriptedClient{responses: []*llm.LLMResponse{textReply("ok")}}
	loop := newTestLoop(t, testConfig(), client, nil)

	loop.Run(context.Background(), "task", "step 2 of the plan")

	system := client.convs[0].SystemPrompt
	if !strings.Contains(system, "Context:\nstep 2 of the plan") {
		t.Errorf("system prompt missing task context:\n%s", system)
	}
	if !strings.Contains(system, "Working memory: (empty)") {
		t.Errorf("system prompt missing working memory section:\n%s", system)
	}
}
