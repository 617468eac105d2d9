// Package tools holds the tool contract, the registry, and the built-in
// tools the agent can invoke.
package tools

import "context"

// Tool is the uniform contract for everything the agent can execute.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for the tool's input. The same
	// schema is sent to the model and used to document the contract.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// strArg reads a string argument, falling back to def when absent.
func strArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intArg reads a numeric argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// boolArg reads a boolean argument.
func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// strSliceArg reads a list-of-strings argument.
func strSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
