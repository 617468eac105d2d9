package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kodalabs/koda/internal/config"
)

// ASTCheckTool validates Go source syntax by parsing the file.
type ASTCheckTool struct{}

func (t *ASTCheckTool) Name() string { return "ast_check" }
func (t *ASTCheckTool) Description() string {
	return "Check if a Go file has valid syntax by parsing it. Returns syntax errors if any."
}

func (t *ASTCheckTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the Go file to check",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ASTCheckTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", "")
	if path == "" {
		return ErrorResult("path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return ErrorResult("File not found: %s", path)
	}
	if filepath.Ext(path) != ".go" {
		return NewResult(fmt.Sprintf("Syntax check skipped (not a Go file): %s", path))
	}

	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
	if err == nil {
		return NewResult(fmt.Sprintf("Syntax OK: %s", path))
	}

	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		msg := fmt.Sprintf("Syntax error at line %d: %s", first.Pos.Line, first.Msg)
		return FailedResult(msg, msg)
	}
	msg := fmt.Sprintf("Syntax error: %v", err)
	return FailedResult(msg, msg)
}

// LintTool runs the configured lint command on a path.
type LintTool struct {
	cfg config.ToolsConfig
}

func NewLintTool(cfg config.ToolsConfig) *LintTool {
	return &LintTool{cfg: cfg}
}

func (t *LintTool) Name() string { return "lint" }
func (t *LintTool) Description() string {
	return "Run the linter on a file or directory to check for code quality issues."
}

func (t *LintTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to lint",
			},
		},
		"required": []string{"path"},
	}
}

func (t *LintTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", "")
	if path == "" {
		return ErrorResult("path is required")
	}

	cmdline := t.cfg.LintCommand
	if len(cmdline) == 0 {
		cmdline = []string{"go", "vet"}
	}

	timeout := time.Duration(t.cfg.ShellTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	output, code, err := runCommand(ctx, timeout, append(cmdline, path)...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorResult("Lint timed out")
		}
		return ErrorResult("%s not found on PATH", cmdline[0])
	}
	if code != 0 {
		return FailedResult(output, "Lint issues found")
	}
	if output == "" {
		output = "All checks passed"
	}
	return NewResult(output)
}

// TestRunnerTool runs the configured test command.
type TestRunnerTool struct {
	cfg config.ToolsConfig
}

func NewTestRunnerTool(cfg config.ToolsConfig) *TestRunnerTool {
	return &TestRunnerTool{cfg: cfg}
}

func (t *TestRunnerTool) Name() string { return "run_tests" }
func (t *TestRunnerTool) Description() string {
	return "Run the test suite on a package or directory and return the results."
}

func (t *TestRunnerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Package or directory to test",
				"default":     "./...",
			},
			"run": map[string]any{
				"type":        "string",
				"description": "Specific test name pattern to run",
			},
		},
	}
}

func (t *TestRunnerTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", "./...")

	cmdline := t.cfg.TestCommand
	if len(cmdline) == 0 {
		cmdline = []string{"go", "test"}
	}
	cmdline = append(append([]string{}, cmdline...), path)
	if run := strArg(args, "run", ""); run != "" {
		cmdline = append(cmdline, "-run", run)
	}

	timeoutSec := t.cfg.TestTimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 120
	}

	output, code, err := runCommand(ctx, time.Duration(timeoutSec)*time.Second, cmdline...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorResult("Tests timed out after %ds", timeoutSec)
		}
		return ErrorResult("Test run failed: %v", err)
	}
	if code != 0 {
		return FailedResult(output, "Tests failed")
	}
	return NewResult(output)
}

// runCommand executes argv with a timeout, returning trimmed combined
// output and the exit code. A non-nil error means the process could not
// run at all (or timed out).
func runCommand(ctx context.Context, timeout time.Duration, argv ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", 1, context.DeadlineExceeded
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return strings.TrimSpace(out.String()), exitErr.ExitCode(), nil
		}
		return "", 1, err
	}
	return strings.TrimSpace(out.String()), 0, nil
}
