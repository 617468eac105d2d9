// Package critic verifies generated code with a deterministic check
// pipeline and an optional LLM rubric evaluation.
package critic

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/tools"
	"github.com/kodalabs/koda/internal/trace"
)

// CheckStatus is the outcome of a single verification check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult is the outcome of one check in the pipeline.
type CheckResult struct {
	Name    string      `json:"check_name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
}

// VerificationResult aggregates the full pipeline outcome.
type VerificationResult struct {
	Checks []CheckResult `json:"checks"`
}

// Passed reports whether every non-skipped check passed.
func (r *VerificationResult) Passed() bool {
	for _, c := range r.Checks {
		if c.Status == CheckFailed {
			return false
		}
	}
	return true
}

// Errors returns the failed checks.
func (r *VerificationResult) Errors() []CheckResult {
	var failed []CheckResult
	for _, c := range r.Checks {
		if c.Status == CheckFailed {
			failed = append(failed, c)
		}
	}
	return failed
}

var statusIcons = map[CheckStatus]string{
	CheckPassed:  "OK",
	CheckFailed:  "FAIL",
	CheckSkipped: "SKIP",
}

// Summary renders a human-readable line per check.
func (r *VerificationResult) Summary() string {
	lines := make([]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		lines = append(lines, fmt.Sprintf("  [%s] %s: %s", statusIcons[c.Status], c.Name, c.Message))
	}
	return strings.Join(lines, "\n")
}

// Verifier runs the check pipeline over modified files: syntax first,
// then lint, then the test suite. A syntax failure stops the pipeline
// before lint and tests run.
type Verifier struct {
	cfg   config.CriticConfig
	trace *trace.Collector // may be nil

	astTool  *tools.ASTCheckTool
	lintTool *tools.LintTool
	testTool *tools.TestRunnerTool
}

func NewVerifier(cfg config.CriticConfig, toolsCfg config.ToolsConfig, tc *trace.Collector) *Verifier {
	return &Verifier{
		cfg:      cfg,
		trace:    tc,
		astTool:  &tools.ASTCheckTool{},
		lintTool: tools.NewLintTool(toolsCfg),
		testTool: tools.NewTestRunnerTool(toolsCfg),
	}
}

// Verify runs the pipeline on the modified files. Only Go source files
// go through the syntax and lint phases; a disabled phase contributes a
// single skipped check.
func (v *Verifier) Verify(ctx context.Context, files []string, testPath string) *VerificationResult {
	result := &VerificationResult{}

	goFiles := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f, ".go") {
			goFiles = append(goFiles, f)
		}
	}

	if v.cfg.ASTCheck {
		for _, file := range goFiles {
			check := v.runASTCheck(ctx, file)
			result.Checks = append(result.Checks, check)
			if check.Status == CheckFailed {
				v.recordCheck(check)
				return result
			}
		}
	} else {
		result.Checks = append(result.Checks, CheckResult{Name: "ast_check", Status: CheckSkipped, Message: "Disabled"})
	}

	if v.cfg.RunLint {
		for _, file := range goFiles {
			check := v.runLintCheck(ctx, file)
			result.Checks = append(result.Checks, check)
			if check.Status == CheckFailed {
				v.recordCheck(check)
			}
		}
	} else {
		result.Checks = append(result.Checks, CheckResult{Name: "lint", Status: CheckSkipped, Message: "Disabled"})
	}

	if v.cfg.RunTests {
		check := v.runTests(ctx, testPath)
		result.Checks = append(result.Checks, check)
		if check.Status == CheckFailed {
			v.recordCheck(check)
		}
	} else {
		result.Checks = append(result.Checks, CheckResult{Name: "tests", Status: CheckSkipped, Message: "Disabled"})
	}

	v.recordSummary(result)
	return result
}

func (v *Verifier) runASTCheck(ctx context.Context, file string) CheckResult {
	name := "ast_check:" + filepath.Base(file)
	res := v.astTool.Execute(ctx, map[string]any{"path": file})
	if res.Success {
		return CheckResult{Name: name, Status: CheckPassed, Message: "Syntax OK"}
	}
	details := res.Error
	if details == "" {
		details = res.Output
	}
	return CheckResult{Name: name, Status: CheckFailed, Message: "Syntax error", Details: details}
}

func (v *Verifier) runLintCheck(ctx context.Context, file string) CheckResult {
	name := "lint:" + filepath.Base(file)
	res := v.lintTool.Execute(ctx, map[string]any{"path": file})
	if res.Success {
		return CheckResult{Name: name, Status: CheckPassed, Message: "No lint issues"}
	}
	return CheckResult{Name: name, Status: CheckFailed, Message: "Lint issues found", Details: res.Output}
}

func (v *Verifier) runTests(ctx context.Context, testPath string) CheckResult {
	res := v.testTool.Execute(ctx, map[string]any{"path": testPath})
	if res.Success {
		return CheckResult{Name: "tests", Status: CheckPassed, Message: "All tests passed", Details: res.Output}
	}
	return CheckResult{Name: "tests", Status: CheckFailed, Message: "Tests failed", Details: res.Output}
}

func (v *Verifier) recordCheck(check CheckResult) {
	if v.trace == nil {
		return
	}
	v.trace.Record(trace.EventCriticCheck, map[string]any{
		"check":   check.Name,
		"status":  string(check.Status),
		"message": check.Message,
	})
}

func (v *Verifier) recordSummary(result *VerificationResult) {
	if v.trace == nil {
		return
	}
	v.trace.Record(trace.EventCriticCheck, map[string]any{
		"summary":       result.Summary(),
		"passed":        result.Passed(),
		"total_checks":  len(result.Checks),
		"failed_checks": len(result.Errors()),
	})
}
