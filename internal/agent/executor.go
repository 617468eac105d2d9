package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/trace"
)

// PlanExecutor routes a task, decomposes complex ones into a plan, and
// drives each step through the ReAct loop. Simple tasks bypass planning
// entirely.
type PlanExecutor struct {
	cfg     config.PlannerConfig
	router  *Router
	planner *Planner
	loop    *Loop
	trace   *trace.Collector // may be nil
}

func NewPlanExecutor(cfg config.PlannerConfig, router *Router, planner *Planner, loop *Loop, tc *trace.Collector) *PlanExecutor {
	return &PlanExecutor{cfg: cfg, router: router, planner: planner, loop: loop, trace: tc}
}

// Run executes the task with the strategy the router picks. Complex
// tasks run step by step with the rendered plan as context; a step is
// marked completed or failed by its sub-task's success. After the
// configured number of consecutive failures the planner replans once;
// failures after the second plan terminate the task as failed.
func (e *PlanExecutor) Run(ctx context.Context, task, taskContext string) AgentResult {
	decision := e.router.Route(task)
	if !decision.NeedsPlanning() {
		return e.loop.Run(ctx, task, taskContext)
	}

	start := time.Now()

	plan, err := e.planner.CreatePlan(ctx, task, taskContext)
	if err != nil {
		slog.Error("planning failed, falling back to direct loop", "error", err)
		return e.loop.Run(ctx, task, taskContext)
	}
	if len(plan.Steps) == 0 {
		slog.Warn("planner produced no steps, falling back to direct loop")
		return e.loop.Run(ctx, task, taskContext)
	}

	aggregate := AgentResult{ToolCallsMade: []string{}, FilesModified: []string{}}
	consecutiveFailures := 0
	replanned := false
	aborted := false

	for {
		step := plan.CurrentStep()
		if step == nil {
			break
		}
		step.Status = StepInProgress

		sub := e.loop.Run(ctx, step.Description, plan.ToContextString())
		e.mergeResult(&aggregate, sub)

		if sub.Success {
			step.Status = StepCompleted
			step.Result = sub.Response
			consecutiveFailures = 0
			e.recordStep("step_completed", step)
			continue
		}

		step.Status = StepFailed
		step.Error = sub.Response
		consecutiveFailures++
		e.recordStep("step_failed", step)

		if consecutiveFailures < e.cfg.ReplanAfterFailures {
			continue
		}
		if replanned {
			slog.Error("plan failed after replanning, aborting task", "task", truncateStr(task, 80))
			aborted = true
			break
		}

		newPlan, err := e.planner.Replan(ctx, plan, taskContext)
		if err != nil || len(newPlan.Steps) == 0 {
			slog.Error("replanning failed, aborting task", "error", err)
			aborted = true
			break
		}
		plan = newPlan
		replanned = true
		consecutiveFailures = 0
	}

	failedSteps := 0
	for _, s := range plan.Steps {
		if s.Status == StepFailed {
			failedSteps++
		}
	}

	aggregate.Success = !aborted && plan.IsComplete() && failedSteps == 0
	aggregate.Response = e.finalResponse(plan, aborted)
	aggregate.DurationSeconds = math.Round(time.Since(start).Seconds()*100) / 100
	return aggregate
}

// mergeResult folds a sub-task result into the aggregate. Cost and token
// totals are cumulative in the shared tracker, so the latest sub-result
// carries the running totals.
func (e *PlanExecutor) mergeResult(aggregate *AgentResult, sub AgentResult) {
	aggregate.Iterations += sub.Iterations
	aggregate.ToolCallsMade = append(aggregate.ToolCallsMade, sub.ToolCallsMade...)
	for _, f := range sub.FilesModified {
		if !contains(aggregate.FilesModified, f) {
			aggregate.FilesModified = append(aggregate.FilesModified, f)
		}
	}
	aggregate.TotalTokens = sub.TotalTokens
	aggregate.TotalCostUSD = sub.TotalCostUSD
}

func (e *PlanExecutor) finalResponse(plan *ExecutionPlan, aborted bool) string {
	summary := plan.ProgressSummary()
	if aborted {
		return fmt.Sprintf("Task failed: plan did not recover after replanning. %s", summary)
	}
	var last string
	for _, s := range plan.Steps {
		if s.Status == StepCompleted && s.Result != "" {
			last = s.Result
		}
	}
	if last == "" {
		return summary
	}
	return summary + "\n\n" + last
}

func (e *PlanExecutor) recordStep(action string, step *PlanStep) {
	if e.trace == nil {
		return
	}
	e.trace.Record(trace.EventPlanStep, map[string]any{
		"action": action,
		"index":  step.Index,
		"step":   step.Description,
	})
}
