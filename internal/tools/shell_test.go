package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/kodalabs/koda/internal/config"
)

func shellCfg(sandbox bool, allowed ...string) config.ToolsConfig {
	return config.ToolsConfig{
		ShellTimeoutSec: 5,
		SandboxEnabled:  sandbox,
		AllowedCommands: allowed,
	}
}

func TestShellAllowlistBlocks(t *testing.T) {
	tool := NewShellTool(shellCfg(true, "echo", "ls"))
	res := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if res.Success {
		t.Fatal("expected blocked command to fail")
	}
	if !strings.Contains(res.Error, "not in allowed list") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestShellRunsAllowedCommand(t *testing.T) {
	tool := NewShellTool(shellCfg(true, "echo"))
	res := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestShellSandboxDisabledSkipsAllowlist(t *testing.T) {
	tool := NewShellTool(shellCfg(false))
	res := tool.Execute(context.Background(), map[string]any{"command": "echo unrestricted"})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
}

func TestShellNonZeroExit(t *testing.T) {
	tool := NewShellTool(shellCfg(false))
	res := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"})
	if res.Success {
		t.Fatal("expected failure on non-zero exit")
	}
	if !strings.Contains(res.Error, "Exit code 3") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Output, "[stderr]") || !strings.Contains(res.Output, "oops") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestShellTimeout(t *testing.T) {
	tool := NewShellTool(shellCfg(false))
	res := tool.Execute(context.Background(), map[string]any{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	if res.Success {
		t.Fatal("expected timeout to fail")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q", res.Error)
	}
}
