package tools

import (
	"context"
	"strings"
	"testing"
)

func TestASTCheckValidGo(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "ok.go", "package main\n\nfunc main() {}\n")

	res := (&ASTCheckTool{}).Execute(context.Background(), map[string]any{"path": path})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "Syntax OK") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestASTCheckInvalidGo(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "bad.go", "package main\n\nfunc main( {\n")

	res := (&ASTCheckTool{}).Execute(context.Background(), map[string]any{"path": path})
	if res.Success {
		t.Fatal("expected syntax error")
	}
	if !strings.Contains(res.Error, "Syntax error at line") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestASTCheckSkipsNonGo(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "notes.md", "# hello")

	res := (&ASTCheckTool{}).Execute(context.Background(), map[string]any{"path": path})
	if !res.Success || !strings.Contains(res.Output, "skipped") {
		t.Errorf("result = %+v", res)
	}
}

func TestASTCheckMissingFile(t *testing.T) {
	res := (&ASTCheckTool{}).Execute(context.Background(), map[string]any{"path": "does/not/exist.go"})
	if res.Success || !strings.Contains(res.Error, "File not found") {
		t.Errorf("result = %+v", res)
	}
}
