package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/llm"
)

const evaluatorPrompt = `You are a code reviewer evaluating generated code changes. Score each dimension 1-5.

Code being evaluated:
` + "```" + `
%s
` + "```" + `

Task that was requested:
%s

Evaluate on these dimensions:
1. Correctness: does the code do what was requested? Are there logic errors?
2. Style: does it follow Go conventions (gofmt, naming, error handling)?
3. Edge Cases: does it handle errors, empty inputs, and boundary conditions?
4. Simplicity: is the code minimal and focused, or over-engineered?

Respond with ONLY valid JSON:
{
    "correctness": {"score": 1-5, "reasoning": "..."},
    "style": {"score": 1-5, "reasoning": "..."},
    "edge_cases": {"score": 1-5, "reasoning": "..."},
    "simplicity": {"score": 1-5, "reasoning": "..."},
    "overall_verdict": "pass" or "fail",
    "suggestions": ["suggestion 1", "suggestion 2"]
}
`

// evaluationModel is a cheaper model used for rubric scoring.
const evaluationModel = "claude-haiku-4-5"

var rubricDimensions = []string{"correctness", "style", "edge_cases", "simplicity"}

// DimensionScore is one rubric dimension with its reasoning.
type DimensionScore struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// EvaluationResult is the structured verdict from the rubric evaluator.
type EvaluationResult struct {
	Scores      []DimensionScore `json:"scores"`
	Verdict     string           `json:"verdict"`
	Suggestions []string         `json:"suggestions"`
	RawResponse string           `json:"-"`
}

// Passed reports whether the verdict is "pass".
func (r *EvaluationResult) Passed() bool { return r.Verdict == "pass" }

// AverageScore is the mean across scored dimensions, 0 when none.
func (r *EvaluationResult) AverageScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	total := 0
	for _, s := range r.Scores {
		total += s.Score
	}
	return float64(total) / float64(len(r.Scores))
}

// Summary renders the verdict with per-dimension scores and suggestions.
func (r *EvaluationResult) Summary() string {
	lines := []string{fmt.Sprintf("Verdict: %s (avg: %.1f/5)", strings.ToUpper(r.Verdict), r.AverageScore())}
	for _, s := range r.Scores {
		lines = append(lines, fmt.Sprintf("  %s: %d/5 - %s", s.Name, s.Score, s.Reasoning))
	}
	if len(r.Suggestions) > 0 {
		lines = append(lines, "Suggestions:")
		for _, s := range r.Suggestions {
			lines = append(lines, "  - "+s)
		}
	}
	return strings.Join(lines, "\n")
}

// ChatClient is the slice of the LLM gateway the evaluator needs.
type ChatClient interface {
	Chat(ctx context.Context, conv *llm.Conversation, tools []llm.ToolDefinition, opts ...llm.CallOption) (*llm.LLMResponse, error)
}

// Evaluator scores generated code against the task with an LLM rubric.
// Evaluation is advisory; a parse failure defaults to pass rather than
// blocking the task on its own reviewer.
type Evaluator struct {
	cfg config.CriticConfig
	llm ChatClient
}

func NewEvaluator(cfg config.CriticConfig, client ChatClient) *Evaluator {
	return &Evaluator{cfg: cfg, llm: client}
}

// Evaluate sends the code and task to the rubric model. Disabled rubric
// returns an immediate pass.
func (e *Evaluator) Evaluate(ctx context.Context, code, task string) (*EvaluationResult, error) {
	if !e.cfg.RubricEnabled {
		return &EvaluationResult{Verdict: "pass"}, nil
	}

	if len(code) > 3000 {
		code = code[:3000]
	}
	prompt := fmt.Sprintf(evaluatorPrompt, code, task)

	conv := &llm.Conversation{SystemPrompt: "You are a precise code reviewer. Respond only with JSON."}
	conv.AddUserMessage(prompt)

	resp, err := e.llm.Chat(ctx, conv, nil, llm.WithModel(evaluationModel), llm.WithMaxTokens(512))
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}

	return parseEvaluation(resp.Text()), nil
}

type rawDimension struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

type rawEvaluation struct {
	Correctness    *rawDimension `json:"correctness"`
	Style          *rawDimension `json:"style"`
	EdgeCases      *rawDimension `json:"edge_cases"`
	Simplicity     *rawDimension `json:"simplicity"`
	OverallVerdict string        `json:"overall_verdict"`
	Suggestions    []string      `json:"suggestions"`
}

// parseEvaluation reads the model's JSON verdict, tolerating markdown
// fences around it. An unparseable response defaults to pass so a broken
// reviewer never blocks a finished task.
func parseEvaluation(text string) *EvaluationResult {
	result := &EvaluationResult{RawResponse: text}

	jsonText := strings.TrimSpace(text)
	if start := strings.Index(jsonText, "{"); start >= 0 {
		if end := strings.LastIndex(jsonText, "}"); end > start {
			jsonText = jsonText[start : end+1]
		}
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		slog.Warn("failed to parse evaluation response", "error", err)
		result.Verdict = "pass"
		result.Suggestions = []string{"Evaluation parsing failed, manual review recommended"}
		return result
	}

	dims := map[string]*rawDimension{
		"correctness": raw.Correctness,
		"style":       raw.Style,
		"edge_cases":  raw.EdgeCases,
		"simplicity":  raw.Simplicity,
	}
	for _, name := range rubricDimensions {
		d := dims[name]
		if d == nil {
			continue
		}
		score := d.Score
		if score == 0 {
			score = 3
		}
		result.Scores = append(result.Scores, DimensionScore{
			Name:      name,
			Score:     clampScore(score),
			Reasoning: d.Reasoning,
		})
	}

	result.Verdict = raw.OverallVerdict
	if result.Verdict == "" {
		result.Verdict = "fail"
	}
	result.Suggestions = raw.Suggestions
	return result
}

func clampScore(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}
