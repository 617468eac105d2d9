package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 30 * time.Second

// runGit runs a git subcommand and returns its combined output and exit
// code. All failures are in-band.
func runGit(ctx context.Context, repoPath string, args ...string) (string, int) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "Git command timed out", 1
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return strings.TrimSpace(out.String()), exitErr.ExitCode()
		}
		return "git not found on PATH", 1
	}
	return strings.TrimSpace(out.String()), 0
}

func repoPathParam() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Path to the git repository",
		"default":     ".",
	}
}

// GitStatusTool shows the working tree status.
type GitStatusTool struct{}

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Show the git working tree status including staged, unstaged, and untracked files."
}

func (t *GitStatusTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"repo_path": repoPathParam()},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, args map[string]any) *Result {
	output, code := runGit(ctx, strArg(args, "repo_path", "."), "status", "--short")
	if code != 0 {
		return ErrorResult("%s", output)
	}
	if output == "" {
		output = "(clean working tree)"
	}
	return NewResult(output)
}

// GitDiffTool shows working tree or staged changes.
type GitDiffTool struct{}

func (t *GitDiffTool) Name() string { return "git_diff" }
func (t *GitDiffTool) Description() string {
	return "Show git diff for staged or unstaged changes, or between two refs."
}

func (t *GitDiffTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo_path": repoPathParam(),
			"staged": map[string]any{
				"type":        "boolean",
				"description": "Show staged changes (--cached)",
				"default":     false,
			},
			"ref": map[string]any{
				"type":        "string",
				"description": "Git ref to diff against (e.g., HEAD~1, main)",
			},
		},
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, args map[string]any) *Result {
	gitArgs := []string{"diff"}
	if boolArg(args, "staged", false) {
		gitArgs = append(gitArgs, "--cached")
	}
	if ref := strArg(args, "ref", ""); ref != "" {
		gitArgs = append(gitArgs, ref)
	}

	output, code := runGit(ctx, strArg(args, "repo_path", "."), gitArgs...)
	if code != 0 {
		return ErrorResult("%s", output)
	}
	if output == "" {
		output = "(no changes)"
	}
	return NewResult(output)
}

// GitLogTool shows recent commit history.
type GitLogTool struct{}

func (t *GitLogTool) Name() string { return "git_log" }
func (t *GitLogTool) Description() string {
	return "Show recent git commit log with short hashes and messages."
}

func (t *GitLogTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo_path": repoPathParam(),
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of commits to show",
				"default":     10,
			},
		},
	}
}

func (t *GitLogTool) Execute(ctx context.Context, args map[string]any) *Result {
	count := intArg(args, "count", 10)
	output, code := runGit(ctx, strArg(args, "repo_path", "."),
		"log", fmt.Sprintf("-%d", count), "--oneline", "--no-decorate")
	if code != 0 {
		return ErrorResult("%s", output)
	}
	if output == "" {
		output = "(no commits)"
	}
	return NewResult(output)
}

// GitCommitTool stages the given files and commits them.
type GitCommitTool struct{}

func (t *GitCommitTool) Name() string { return "git_commit" }
func (t *GitCommitTool) Description() string {
	return "Stage specified files and create a git commit with the given message."
}

func (t *GitCommitTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo_path": repoPathParam(),
			"files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "List of file paths to stage",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Commit message",
			},
		},
		"required": []string{"files", "message"},
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, args map[string]any) *Result {
	repoPath := strArg(args, "repo_path", ".")
	files := strSliceArg(args, "files")
	message := strArg(args, "message", "")

	if len(files) == 0 {
		return ErrorResult("files is required")
	}
	if message == "" {
		return ErrorResult("message is required")
	}

	for _, file := range files {
		if output, code := runGit(ctx, repoPath, "add", file); code != 0 {
			return ErrorResult("Failed to stage %s: %s", file, output)
		}
	}

	output, code := runGit(ctx, repoPath, "commit", "-m", message)
	if code != 0 {
		return ErrorResult("%s", output)
	}
	return NewResult(output)
}
