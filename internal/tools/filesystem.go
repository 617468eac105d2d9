package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFileTool returns file contents with line numbers, windowed by
// offset and max_lines.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path. Returns the file content as text with line numbers."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute or relative file path to read",
			},
			"max_lines": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return",
				"default":     500,
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Line number to start reading from (0-indexed)",
				"default":     0,
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", "")
	if path == "" {
		return ErrorResult("path is required")
	}
	maxLines := intArg(args, "max_lines", 500)
	offset := intArg(args, "offset", 0)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult("File not found: %s", path)
		}
		return ErrorResult("Stat failed: %v", err)
	}
	if info.IsDir() {
		return ErrorResult("Not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult("Read failed: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + maxLines
	if end > total {
		end = total
	}
	sliced := lines[offset:end]

	var b strings.Builder
	for i, line := range sliced {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%5d| %s", offset+i+1, line)
	}

	output := b.String()
	if len(sliced) < total {
		output += fmt.Sprintf("\n\n[Showing lines %d-%d of %d]", offset+1, offset+len(sliced), total)
	}
	return NewResult(output)
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	MaxFileSize int64 // 0 = unlimited
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write text content to a file. Creates parent directories if they don't exist. Overwrites existing files."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path to write to",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", "")
	if path == "" {
		return ErrorResult("path is required")
	}
	content, _ := args["content"].(string)

	if t.MaxFileSize > 0 && int64(len(content)) > t.MaxFileSize {
		return ErrorResult("Content exceeds max file size (%d > %d bytes)", len(content), t.MaxFileSize)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ErrorResult("Write failed: %v", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult("Write failed: %v", err)
	}
	return NewResult(fmt.Sprintf("Written %d chars to %s", len(content), path))
}

// ListDirectoryTool lists a directory with sizes, directories first.
type ListDirectoryTool struct{}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "List files and subdirectories in a directory. Shows file sizes and types."
}

func (t *ListDirectoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path to list",
				"default":     ".",
			},
			"max_entries": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entries to return",
				"default":     100,
			},
		},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]any) *Result {
	path := strArg(args, "path", ".")
	maxEntries := intArg(args, "max_entries", 100)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult("Directory not found: %s", path)
		}
		return ErrorResult("Stat failed: %v", err)
	}
	if !info.IsDir() {
		return ErrorResult("Not a directory: %s", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult("List failed: %v", err)
	}

	// Directories first, then case-insensitive by name.
	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].IsDir(), entries[j].IsDir()
		if di != dj {
			return di
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	total := len(entries)
	shown := entries
	if total > maxEntries {
		shown = entries[:maxEntries]
	}

	var lines []string
	for _, e := range shown {
		if e.IsDir() {
			lines = append(lines, fmt.Sprintf("  [dir]  %s/", e.Name()))
			continue
		}
		size := int64(0)
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		lines = append(lines, fmt.Sprintf("  %8s  %s", humanSize(size), e.Name()))
	}

	output := fmt.Sprintf("%s/  (%d items)\n%s", path, total, strings.Join(lines, "\n"))
	if total > maxEntries {
		output += fmt.Sprintf("\n\n[Showing %d of %d entries]", maxEntries, total)
	}
	return NewResult(output)
}

func humanSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%dB", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(size)/(1024*1024))
	}
}

// GlobTool finds files matching a glob pattern, with ** support.
type GlobTool struct{}

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g., '**/*.go' for all Go files). Returns matching file paths."
}

func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern to match (e.g., '**/*.go', 'internal/**/*.go')",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Root directory to search from",
				"default":     ".",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results",
				"default":     50,
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern := strArg(args, "pattern", "")
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	root := strArg(args, "path", ".")
	maxResults := intArg(args, "max_results", 50)

	if _, err := os.Stat(root); err != nil {
		return ErrorResult("Path not found: %s", root)
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		// Skip hidden directories entirely.
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if matchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, p)
			if len(matches) >= maxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return ErrorResult("Glob failed: %v", err)
	}

	if len(matches) == 0 {
		return NewResult(fmt.Sprintf("No files matching '%s' in %s", pattern, root))
	}
	sort.Strings(matches)
	return NewResult(strings.Join(matches, "\n"))
}

// matchGlob matches a slash-separated relative path against a pattern,
// treating a leading "**/" as "any number of directories, including none".
func matchGlob(pattern, rel string) bool {
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "**/") {
		return false
	}
	tail := pattern[strings.Index(pattern, "**/")+3:]
	head := pattern[:strings.Index(pattern, "**/")]

	if head != "" && !strings.HasPrefix(rel, head) {
		return false
	}
	sub := strings.TrimPrefix(rel, head)

	// Match tail against every path suffix of sub.
	parts := strings.Split(sub, "/")
	for i := range parts {
		candidate := strings.Join(parts[i:], "/")
		if ok, _ := filepath.Match(tail, candidate); ok {
			return true
		}
	}
	return false
}
