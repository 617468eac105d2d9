package tools

import "fmt"

// Result is the unified return type from tool execution. A tool failure
// travels in-band as Success=false; tools never return Go errors to the
// agent loop.
type Result struct {
	Output  string `json:"output"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func NewResult(output string) *Result {
	return &Result{Output: output, Success: true}
}

func ErrorResult(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FailedResult carries partial output alongside the error.
func FailedResult(output, errMsg string) *Result {
	return &Result{Output: output, Success: false, Error: errMsg}
}
