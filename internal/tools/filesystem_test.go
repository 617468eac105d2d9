package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFileNumbersLines(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "first\nsecond\nthird\n")

	res := (&ReadFileTool{}).Execute(context.Background(), map[string]any{"path": path})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "    1| first") || !strings.Contains(res.Output, "    3| third") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "[Showing") {
		t.Error("full read should not include a window marker")
	}
}

func TestReadFileWindow(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "line")
	}
	path := writeTemp(t, dir, "a.txt", strings.Join(lines, "\n"))

	res := (&ReadFileTool{}).Execute(context.Background(), map[string]any{
		"path":      path,
		"offset":    float64(5),
		"max_lines": float64(3),
	})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "    6| line") {
		t.Errorf("window should start at line 6: %q", res.Output)
	}
	if !strings.Contains(res.Output, "[Showing lines 6-8 of 20]") {
		t.Errorf("missing window marker: %q", res.Output)
	}
}

func TestReadFileMissing(t *testing.T) {
	res := (&ReadFileTool{}).Execute(context.Background(), map[string]any{
		"path": filepath.Join(t.TempDir(), "nope.txt"),
	})
	if res.Success || !strings.Contains(res.Error, "File not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "out.txt")

	res := (&WriteFileTool{}).Execute(context.Background(), map[string]any{
		"path":    path,
		"content": "hello",
	})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "Written 5 chars") {
		t.Errorf("output = %q", res.Output)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

func TestWriteFileSizeLimit(t *testing.T) {
	dir := t.TempDir()
	res := (&WriteFileTool{MaxFileSize: 10}).Execute(context.Background(), map[string]any{
		"path":    filepath.Join(dir, "big.txt"),
		"content": strings.Repeat("x", 11),
	})
	if res.Success || !strings.Contains(res.Error, "max file size") {
		t.Errorf("result = %+v", res)
	}
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "b.txt", "bb")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := (&ListDirectoryTool{}).Execute(context.Background(), map[string]any{"path": dir})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	out := res.Output
	if !strings.Contains(out, "[dir]  sub/") || !strings.Contains(out, "b.txt") {
		t.Errorf("output = %q", out)
	}
	// Directories sort before files.
	if strings.Index(out, "sub/") > strings.Index(out, "b.txt") {
		t.Errorf("directories should be listed first: %q", out)
	}
}

func TestGlobDoubleStar(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "top.go", "")
	writeTemp(t, dir, "pkg/deep/inner.go", "")
	writeTemp(t, dir, "pkg/readme.md", "")
	writeTemp(t, dir, ".hidden/secret.go", "")

	res := (&GlobTool{}).Execute(context.Background(), map[string]any{
		"pattern": "**/*.go",
		"path":    dir,
	})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "top.go") || !strings.Contains(res.Output, "inner.go") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "readme.md") || strings.Contains(res.Output, "secret.go") {
		t.Errorf("unexpected matches: %q", res.Output)
	}
}

func TestGlobNoMatches(t *testing.T) {
	res := (&GlobTool{}).Execute(context.Background(), map[string]any{
		"pattern": "*.zig",
		"path":    t.TempDir(),
	})
	if !res.Success || !strings.Contains(res.Output, "No files matching") {
		t.Errorf("result = %+v", res)
	}
}

func TestGrepFindsMatches(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.go", "package main\nfunc Hello() {}\n")
	writeTemp(t, dir, "b.go", "package main\nfunc Goodbye() {}\n")

	res := (&GrepTool{}).Execute(context.Background(), map[string]any{
		"pattern": `func H\w+`,
		"path":    dir,
	})
	if !res.Success {
		t.Fatalf("error: %s", res.Error)
	}
	if !strings.Contains(res.Output, "a.go:2: func Hello() {}") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "Goodbye") {
		t.Errorf("unexpected match: %q", res.Output)
	}
}

func TestGrepInvalidRegex(t *testing.T) {
	res := (&GrepTool{}).Execute(context.Background(), map[string]any{
		"pattern": "[unclosed",
		"path":    t.TempDir(),
	})
	if res.Success || !strings.Contains(res.Error, "Invalid regex") {
		t.Errorf("result = %+v", res)
	}
}
