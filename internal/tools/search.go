package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Extensions searched when no file pattern is given.
var searchableExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".java": true, ".rs": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rb": true, ".php": true, ".swift": true,
	".kt": true, ".yaml": true, ".yml": true, ".toml": true, ".json": true,
	".md": true, ".txt": true, ".cfg": true, ".sh": true, ".bash": true,
	".zsh": true, ".sql": true, ".html": true, ".css": true, ".scss": true,
	".mod": true, ".sum": true,
}

// GrepTool searches file contents for a regular expression.
type GrepTool struct{}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression pattern. Returns matching lines with file paths and line numbers."
}

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression pattern to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory or file to search in",
				"default":     ".",
			},
			"file_pattern": map[string]any{
				"type":        "string",
				"description": "Glob to filter files (e.g., '*.go')",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of matching lines",
				"default":     50,
			},
			"case_insensitive": map[string]any{
				"type":        "boolean",
				"description": "Case-insensitive search",
				"default":     false,
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) *Result {
	pattern := strArg(args, "pattern", "")
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	root := strArg(args, "path", ".")
	filePattern := strArg(args, "file_pattern", "")
	maxResults := intArg(args, "max_results", 50)

	if boolArg(args, "case_insensitive", false) {
		pattern = "(?i)" + pattern
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult("Invalid regex: %v", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return ErrorResult("Path not found: %s", root)
	}

	var files []string
	if !info.IsDir() {
		files = []string{root}
	} else {
		files = collectFiles(root, filePattern)
	}

	var matches []string
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		rel := file
		if info.IsDir() {
			if r, err := filepath.Rel(root, file); err == nil {
				rel = r
			}
		}
		for num, line := range strings.Split(string(data), "\n") {
			if regex.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, num+1, strings.TrimRight(line, " \t\r")))
				if len(matches) >= maxResults {
					break
				}
			}
		}
		if len(matches) >= maxResults {
			break
		}
	}

	if len(matches) == 0 {
		return NewResult(fmt.Sprintf("No matches for '%s' in %s", strArg(args, "pattern", ""), root))
	}
	return NewResult(strings.Join(matches, "\n"))
}

func collectFiles(root, filePattern string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filePattern != "" {
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
				return nil
			}
		} else if !searchableExtensions[filepath.Ext(d.Name())] {
			return nil
		}
		files = append(files, p)
		return nil
	})
	sort.Strings(files)
	return files
}
