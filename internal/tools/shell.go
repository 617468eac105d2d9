package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kodalabs/koda/internal/config"
)

// ShellTool executes shell commands behind a command allowlist.
type ShellTool struct {
	cfg config.ToolsConfig
}

func NewShellTool(cfg config.ToolsConfig) *ShellTool {
	return &ShellTool{cfg: cfg}
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	return "Execute a shell command and return its stdout/stderr. Commands are validated against an allowlist for safety."
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Working directory for the command",
				"default":     ".",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (uses default if not set)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) *Result {
	command := strings.TrimSpace(strArg(args, "command", ""))
	if command == "" {
		return ErrorResult("command is required")
	}
	workingDir := strArg(args, "working_dir", ".")

	// Allowlist check happens before any process is spawned.
	if t.cfg.SandboxEnabled {
		base := strings.Fields(command)[0]
		if !t.allowed(base) {
			return ErrorResult("Command '%s' not in allowed list: %v", base, t.cfg.AllowedCommands)
		}
	}

	timeoutSec := intArg(args, "timeout", 0)
	if timeoutSec <= 0 {
		timeoutSec = t.cfg.ShellTimeoutSec
	}
	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorResult("Command timed out after %ds", timeoutSec)
	}

	output := combineOutput(stdout.String(), stderr.String())

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return FailedResult(output, fmt.Sprintf("Exit code %d", exitErr.ExitCode()))
		}
		return ErrorResult("Execution failed: %v", err)
	}
	return NewResult(output)
}

func (t *ShellTool) allowed(base string) bool {
	for _, cmd := range t.cfg.AllowedCommands {
		if base == cmd {
			return true
		}
	}
	return false
}

func combineOutput(stdout, stderr string) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, "[stderr]\n"+stderr)
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
