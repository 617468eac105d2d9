package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kodalabs/koda/internal/cache"
	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/cost"
	"github.com/kodalabs/koda/internal/llm"
	"github.com/kodalabs/koda/internal/memory"
	"github.com/kodalabs/koda/internal/tools"
	"github.com/kodalabs/koda/internal/trace"
)

const systemPromptTemplate = `You are Koda, an AI coding agent. You help developers by reading, understanding, and modifying code.

You have access to tools for interacting with the filesystem, running shell commands, searching code, and managing git.

Guidelines:
- Read files before modifying them
- Run tests after making changes
- Explain your reasoning before acting
- If you're unsure, search the codebase first
- Keep changes minimal and focused

%s
`

// ChatClient is the slice of the LLM gateway the agent needs.
type ChatClient interface {
	Chat(ctx context.Context, conv *llm.Conversation, tools []llm.ToolDefinition, opts ...llm.CallOption) (*llm.LLMResponse, error)
}

// StatusFunc receives human-readable progress updates during a run.
type StatusFunc func(msg string)

// AgentResult is the record emitted once per task.
type AgentResult struct {
	Success         bool     `json:"success"`
	Response        string   `json:"response"`
	Iterations      int      `json:"iterations"`
	ToolCallsMade   []string `json:"tool_calls_made"`
	FilesModified   []string `json:"files_modified"`
	TotalTokens     int      `json:"total_tokens"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Loop is the ReAct orchestrator: it alternates LLM turns with tool
// executions until the model answers, the budget runs out, or the
// iteration cap is hit.
type Loop struct {
	cfg      *config.Config
	llm      ChatClient
	tools    *tools.Registry
	cost     *cost.Tracker
	trace    *trace.Collector // may be nil
	memory   *memory.Working
	cache    *cache.TaskCache // may be nil
	onStatus StatusFunc
}

type LoopOption func(*Loop)

// WithCache wires the task-chain cache into the loop.
func WithCache(c *cache.TaskCache) LoopOption {
	return func(l *Loop) { l.cache = c }
}

// WithStatusFunc installs a progress callback.
func WithStatusFunc(fn StatusFunc) LoopOption {
	return func(l *Loop) { l.onStatus = fn }
}

// NewLoop assembles the orchestrator from its collaborators.
func NewLoop(cfg *config.Config, client ChatClient, registry *tools.Registry, costTracker *cost.Tracker, tc *trace.Collector, mem *memory.Working, opts ...LoopOption) *Loop {
	if mem == nil {
		mem = memory.NewWorking(cfg.Memory.MaxWorkingItems)
	}
	l := &Loop{
		cfg:      cfg,
		llm:      client,
		tools:    registry,
		cost:     costTracker,
		trace:    tc,
		memory:   mem,
		onStatus: func(string) {},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Memory exposes the loop's scratchpad, mainly for inspection.
func (l *Loop) Memory() *memory.Working { return l.memory }

// Run executes a task through the ReAct loop and returns the result
// record. It never returns an error; all failures are folded into the
// AgentResult.
func (l *Loop) Run(ctx context.Context, task, taskContext string) AgentResult {
	start := time.Now()
	toolCallsMade := []string{}
	filesModified := []string{}
	var chain []cache.ToolCall

	system := fmt.Sprintf(systemPromptTemplate, l.memory.ToContextString())
	if taskContext != "" {
		system += "\n\nContext:\n" + taskContext
	}

	conv := &llm.Conversation{SystemPrompt: system}
	conv.AddUserMessage(task)

	toolDefs := l.tools.Definitions()
	maxIterations := l.cfg.LLM.MaxToolIterations

	// A similar past task records a hit and its saved cost; the loop
	// still runs the LLM rather than blindly replaying the chain.
	if l.cache != nil {
		if cached, err := l.cache.Lookup(task); err != nil {
			slog.Warn("cache lookup failed", "error", err)
		} else if cached != nil {
			l.onStatus(fmt.Sprintf("Similar task seen before (%.0f%% match)", cached.Similarity*100))
		}
	}

	var finalResponse string
	failed := false
	terminated := false
	iterations := 0

	for iteration := 0; iteration < maxIterations; iteration++ {
		iterations = iteration + 1

		var span *trace.Span
		if l.trace != nil {
			span = l.trace.StartSpan(fmt.Sprintf("iteration_%d", iteration))
		}

		l.onStatus(fmt.Sprintf("Thinking... (iteration %d)", iteration+1))
		resp, err := l.llm.Chat(ctx, conv, toolDefs)
		if err != nil {
			var budgetErr *cost.BudgetExceededError
			if errors.As(err, &budgetErr) {
				slog.Warn("budget exceeded", "error", err)
				if l.trace != nil {
					l.trace.Record(trace.EventBudgetWarning, map[string]any{"error": err.Error()})
				}
				finalResponse = fmt.Sprintf("Task stopped: budget exceeded ($%.4f of $%.4f)",
					budgetErr.Spent, budgetErr.Budget)
			} else {
				slog.Error("agent loop error", "iteration", iteration, "error", err)
				if l.trace != nil {
					l.trace.Record(trace.EventError, map[string]any{"error": err.Error()})
				}
				finalResponse = fmt.Sprintf("Agent encountered an error: %v", err)
			}
			failed = true
			terminated = true
			l.endSpan(span)
			break
		}

		conv.AddAssistantMessage(resp.Content)

		if text := resp.Text(); text != "" && l.trace != nil {
			l.trace.Record(trace.EventThought, map[string]any{"text": truncateStr(text, 500)})
		}

		if !resp.HasToolCalls() {
			finalResponse = resp.Text()
			terminated = true
			l.endSpan(span)
			break
		}

		var results []llm.ToolResultContent
		for _, call := range resp.ToolCalls() {
			toolCallsMade = append(toolCallsMade, call.Name)
			l.onStatus("Using " + call.Name + callDetail(call))

			result := l.tools.Execute(ctx, call.Name, call.Input)
			chain = append(chain, cache.ToolCall{Name: call.Name, Input: call.Input})

			if call.Name == "write_file" && result.Success {
				if path, _ := call.Input["path"].(string); path != "" && !contains(filesModified, path) {
					filesModified = append(filesModified, path)
				}
			}

			// Most recent observation lands in the scratchpad; errors
			// are kept over empty output.
			observation := truncatePlain(result.Output, 200)
			if result.Output == "" {
				observation = result.Error
			}
			l.memory.Set("last_"+call.Name, observation)

			content := result.Output
			if !result.Success {
				content = fmt.Sprintf("Error: %s\n%s", result.Error, result.Output)
			}
			results = append(results, llm.ToolResultContent{
				ToolUseID: call.ID,
				Content:   content,
				IsError:   !result.Success,
			})
		}

		conv.AddToolResults(results)
		l.endSpan(span)
	}

	if !terminated {
		finalResponse = fmt.Sprintf("Task stopped after %d iterations (max reached)", maxIterations)
		failed = true
		iterations = maxIterations
	}

	summary := l.cost.Summarize()
	success := finalResponse != "" && !failed &&
		!strings.Contains(strings.ToLower(finalResponse), "error")

	if success && l.cache != nil && len(filesModified) > 0 {
		if err := l.cache.Store(task, chain, filesModified, summary.TotalCostUSD); err != nil {
			slog.Warn("cache store failed", "error", err)
		}
	}

	return AgentResult{
		Success:         success,
		Response:        finalResponse,
		Iterations:      iterations,
		ToolCallsMade:   toolCallsMade,
		FilesModified:   filesModified,
		TotalTokens:     summary.TotalTokens,
		TotalCostUSD:    summary.TotalCostUSD,
		DurationSeconds: math.Round(time.Since(start).Seconds()*100) / 100,
	}
}

func (l *Loop) endSpan(span *trace.Span) {
	if l.trace != nil && span != nil {
		l.trace.EndSpan(span)
	}
}

// callDetail abbreviates the payload of common tools for status lines.
func callDetail(call llm.ToolUseContent) string {
	switch call.Name {
	case "read_file", "write_file":
		if path, _ := call.Input["path"].(string); path != "" {
			return " → " + path
		}
	case "grep":
		if pattern, _ := call.Input["pattern"].(string); pattern != "" {
			return " → '" + pattern + "'"
		}
	case "shell":
		if command, _ := call.Input["command"].(string); command != "" {
			return " → " + truncatePlain(command, 40)
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Don't cut in the middle of a multi-byte rune
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

func truncatePlain(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
