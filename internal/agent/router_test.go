package agent

import (
	"strings"
	"testing"

	"github.com/kodalabs/koda/internal/config"
)

func testRouter() *Router {
	return NewRouter(config.PlannerConfig{
		ComplexityThreshold: 0.6,
		MaxPlanSteps:        10,
		ReplanAfterFailures: 2,
	})
}

func TestRouteComplexTask(t *testing.T) {
	d := testRouter().Route("refactor the authentication module across multiple files, then update tests and run pytest")

	if d.Complexity != ComplexityComplex {
		t.Errorf("complexity = %s, want complex", d.Complexity)
	}
	if d.Score < 0.6 {
		t.Errorf("score = %f, want >= 0.6", d.Score)
	}
	if !strings.Contains(d.Reason, "Complex keywords") {
		t.Errorf("reason missing complex keywords: %q", d.Reason)
	}
	if !strings.Contains(d.Reason, "Multi-step indicators") {
		t.Errorf("reason missing multi-step indicators: %q", d.Reason)
	}
	if !d.NeedsPlanning() {
		t.Error("complex task should need planning")
	}
}

func TestRouteSimpleTask(t *testing.T) {
	d := testRouter().Route("fix typo in readme")

	if d.Complexity != ComplexitySimple {
		t.Errorf("complexity = %s, want simple", d.Complexity)
	}
	if !strings.Contains(d.Reason, "Simple keywords") {
		t.Errorf("reason = %q", d.Reason)
	}
	if d.NeedsPlanning() {
		t.Error("simple task should not need planning")
	}
}

func TestRouteEmptyTask(t *testing.T) {
	d := testRouter().Route("")

	if d.Complexity != ComplexitySimple {
		t.Errorf("complexity = %s, want simple", d.Complexity)
	}
	if d.Confidence != 0.0 {
		t.Errorf("confidence = %f, want 0.0", d.Confidence)
	}
	if d.Reason != "Default classification" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestRouteScoreClamped(t *testing.T) {
	// Stack enough complex keywords to push the raw score past 1.
	d := testRouter().Route("refactor migrate restructure redesign overhaul optimize the entire codebase with integration and performance benchmark work across files")
	if d.Score != 1.0 {
		t.Errorf("score = %f, want clamped to 1.0", d.Score)
	}
	if d.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", d.Confidence)
	}
}

func TestRouteFileReferences(t *testing.T) {
	d := testRouter().Route("update main.go, handler.go and internal/server/routes.go to use the new logger")
	if !strings.Contains(d.Reason, "Multiple file references") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestRouteConfidenceScalesFromMidpoint(t *testing.T) {
	// A single simple keyword and short text: 0.5 - 0.3 - 0.2 = 0.0.
	d := testRouter().Route("explain this")
	if d.Score != 0.0 {
		t.Errorf("score = %f, want 0.0", d.Score)
	}
	if d.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", d.Confidence)
	}
}
