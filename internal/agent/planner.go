package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/llm"
	"github.com/kodalabs/koda/internal/trace"
)

const plannerPrompt = `You are a task planner for an AI coding agent. Given a complex task,
decompose it into a sequence of concrete, actionable steps.

Rules:
- Each step should be independently executable
- Steps should be ordered by dependency
- Each step should be specific enough to execute without ambiguity
- Include verification steps (run tests, check output) where appropriate
- Maximum %d steps

Output format: return ONLY a numbered list, one step per line:
1. First step description
2. Second step description
...

Task: %s

Context: %s
`

// StepStatus is the closed set of plan step states.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

var statusIcons = map[StepStatus]string{
	StepPending:    "[ ]",
	StepInProgress: "[>]",
	StepCompleted:  "[x]",
	StepFailed:     "[!]",
	StepSkipped:    "[-]",
}

// PlanStep is one step of an execution plan.
type PlanStep struct {
	Index       int        `json:"index"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ExecutionPlan is a decomposed plan for a complex task.
type ExecutionPlan struct {
	Task         string      `json:"task"`
	Steps        []*PlanStep `json:"steps"`
	FailureCount int         `json:"failure_count"`
}

// CurrentStep returns the first pending step, or nil.
func (p *ExecutionPlan) CurrentStep() *PlanStep {
	for _, s := range p.Steps {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

// IsComplete reports whether no step is pending or in progress.
func (p *ExecutionPlan) IsComplete() bool {
	for _, s := range p.Steps {
		if s.Status == StepPending || s.Status == StepInProgress {
			return false
		}
	}
	return true
}

// ProgressSummary renders "Progress: C/T completed, F failed".
func (p *ExecutionPlan) ProgressSummary() string {
	completed, failed := 0, 0
	for _, s := range p.Steps {
		switch s.Status {
		case StepCompleted:
			completed++
		case StepFailed:
			failed++
		}
	}
	return fmt.Sprintf("Progress: %d/%d completed, %d failed", completed, len(p.Steps), failed)
}

// ToContextString renders the plan for injection into a sub-task prompt.
func (p *ExecutionPlan) ToContextString() string {
	lines := []string{"Execution Plan for: " + p.Task, ""}
	for _, s := range p.Steps {
		lines = append(lines, fmt.Sprintf("%s %d. %s", statusIcons[s.Status], s.Index, s.Description))
		if s.Result != "" {
			lines = append(lines, "    Result: "+truncateStr(s.Result, 100))
		}
		if s.Error != "" {
			lines = append(lines, "    Error: "+truncateStr(s.Error, 100))
		}
	}
	return strings.Join(lines, "\n")
}

var stepLineRe = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s*(.+)$`)

// Planner decomposes complex tasks into step sequences via the LLM, with
// replanning after failures.
type Planner struct {
	cfg   config.PlannerConfig
	llm   ChatClient
	trace *trace.Collector // may be nil
}

func NewPlanner(cfg config.PlannerConfig, client ChatClient, tc *trace.Collector) *Planner {
	return &Planner{cfg: cfg, llm: client, trace: tc}
}

// CreatePlan asks the LLM for a numbered step list and parses it. An
// unparseable response yields an empty plan, not an error.
func (p *Planner) CreatePlan(ctx context.Context, task, taskContext string) (*ExecutionPlan, error) {
	if taskContext == "" {
		taskContext = "(no additional context)"
	}
	prompt := fmt.Sprintf(plannerPrompt, p.cfg.MaxPlanSteps, task, taskContext)

	conv := &llm.Conversation{SystemPrompt: "You are a precise task planner."}
	conv.AddUserMessage(prompt)

	resp, err := p.llm.Chat(ctx, conv, nil, llm.WithMaxTokens(1024))
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	steps := parseSteps(resp.Text())
	plan := &ExecutionPlan{Task: task, Steps: steps}

	if p.trace != nil {
		descriptions := make([]string, 0, len(steps))
		for _, s := range steps {
			descriptions = append(descriptions, s.Description)
		}
		p.trace.Record(trace.EventPlanStep, map[string]any{
			"action":     "created",
			"task":       task,
			"step_count": len(steps),
			"steps":      descriptions,
		})
	}

	slog.Info("created plan", "steps", len(steps), "task", truncateStr(task, 80))
	return plan, nil
}

// Replan builds a fresh plan seeded with what succeeded and what failed
// in the previous attempt, and bumps the failure count.
func (p *Planner) Replan(ctx context.Context, plan *ExecutionPlan, taskContext string) (*ExecutionPlan, error) {
	attempt := []string{taskContext, "", "Previous attempt results:"}
	for _, s := range plan.Steps {
		switch s.Status {
		case StepCompleted:
			attempt = append(attempt, "  Completed: "+s.Description)
		case StepFailed:
			attempt = append(attempt, fmt.Sprintf("  Failed: %s - %s", s.Description, s.Error))
		}
	}

	newPlan, err := p.CreatePlan(ctx, plan.Task, strings.Join(attempt, "\n"))
	if err != nil {
		return nil, err
	}
	newPlan.FailureCount = plan.FailureCount + 1

	if p.trace != nil {
		p.trace.Record(trace.EventPlanStep, map[string]any{
			"action":         "replanned",
			"attempt":        newPlan.FailureCount,
			"new_step_count": len(newPlan.Steps),
		})
	}
	return newPlan, nil
}

// parseSteps extracts numbered list items; lines that do not match the
// pattern are ignored. Both "1." and "1)" separators are accepted.
func parseSteps(text string) []*PlanStep {
	var steps []*PlanStep
	for _, m := range stepLineRe.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		description := strings.TrimSpace(m[2])
		if description == "" {
			continue
		}
		steps = append(steps, &PlanStep{Index: idx, Description: description, Status: StepPending})
	}
	return steps
}
