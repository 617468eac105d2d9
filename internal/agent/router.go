// Package agent contains the ReAct loop, the complexity router, the
// planner, and the plan executor that ties them together.
package agent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kodalabs/koda/internal/config"
)

// Complexity classifies a task for strategy selection.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Keywords that suggest multi-step, complex tasks.
var complexKeywords = []string{
	"refactor", "migrate", "restructure", "redesign", "overhaul",
	"add feature", "implement", "build", "create new",
	"across files", "multiple files", "entire codebase",
	"test suite", "end to end", "integration",
	"optimize", "performance", "benchmark",
}

// Keywords that suggest simple, single-step tasks.
var simpleKeywords = []string{
	"fix typo", "rename", "add import", "remove unused",
	"update version", "change value", "read file",
	"what is", "explain", "show me", "find",
}

var (
	fileRefRe   = regexp.MustCompile(`[\w/]+\.\w{1,4}`)
	multiStepRe = regexp.MustCompile(`(?:then|after that|next|also|finally)`)
)

// RoutingDecision is the outcome of complexity classification.
type RoutingDecision struct {
	Complexity Complexity
	Score      float64
	Confidence float64
	Reason     string
}

// NeedsPlanning reports whether the task should be decomposed first.
func (d RoutingDecision) NeedsPlanning() bool {
	return d.Complexity == ComplexityComplex
}

// Router classifies tasks as simple (direct ReAct loop) or complex
// (plan-and-execute) from additive heuristic signals.
type Router struct {
	cfg config.PlannerConfig
}

func NewRouter(cfg config.PlannerConfig) *Router {
	return &Router{cfg: cfg}
}

// Route scores the task and picks a strategy. Pure function of the task
// string and the configured threshold.
func (r *Router) Route(task string) RoutingDecision {
	score := 0.0
	var reasons []string

	taskLower := strings.ToLower(task)

	var complexMatches []string
	for _, kw := range complexKeywords {
		if strings.Contains(taskLower, kw) {
			complexMatches = append(complexMatches, kw)
		}
	}
	if len(complexMatches) > 0 {
		score += 0.3 * float64(len(complexMatches))
		reasons = append(reasons, "Complex keywords: "+strings.Join(complexMatches, ", "))
	}

	var simpleMatches []string
	for _, kw := range simpleKeywords {
		if strings.Contains(taskLower, kw) {
			simpleMatches = append(simpleMatches, kw)
		}
	}
	if len(simpleMatches) > 0 {
		score -= 0.3 * float64(len(simpleMatches))
		reasons = append(reasons, "Simple keywords: "+strings.Join(simpleMatches, ", "))
	}

	wordCount := len(strings.Fields(task))
	switch {
	case wordCount > 50:
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("Long task description (%d words)", wordCount))
	case wordCount > 0 && wordCount < 10:
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("Short task description (%d words)", wordCount))
	}

	fileRefs := fileRefRe.FindAllString(task, -1)
	if len(fileRefs) > 2 {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("Multiple file references (%d)", len(fileRefs)))
	}

	stepCues := multiStepRe.FindAllString(taskLower, -1)
	if len(stepCues) > 0 {
		score += 0.15 * float64(len(stepCues))
		reasons = append(reasons, fmt.Sprintf("Multi-step indicators (%d)", len(stepCues)))
	}

	score = clamp01(score + 0.5)

	complexity := ComplexitySimple
	if score >= r.cfg.ComplexityThreshold {
		complexity = ComplexityComplex
	}

	reason := "Default classification"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	decision := RoutingDecision{
		Complexity: complexity,
		Score:      score,
		Confidence: abs(score-0.5) * 2,
		Reason:     reason,
	}

	slog.Info("routed task",
		"complexity", string(complexity),
		"score", fmt.Sprintf("%.2f", score),
		"confidence", fmt.Sprintf("%.2f", decision.Confidence),
	)
	return decision
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
