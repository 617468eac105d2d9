// Package cost tracks per-call token usage and enforces the per-task budget.
package cost

import (
	"fmt"
	"log/slog"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/trace"
)

// BudgetExceededError is the distinguished signal raised when a task's
// cumulative cost exceeds its budget. Only the agent loop catches it.
type BudgetExceededError struct {
	Spent  float64
	Budget float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: $%.4f spent of $%.4f limit", e.Spent, e.Budget)
}

// APICallRecord is one entry in the append-only ledger.
type APICallRecord struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
}

// TotalCost is the record's input + output cost.
func (r APICallRecord) TotalCost() float64 { return r.InputCost + r.OutputCost }

// TotalTokens is the record's input + output tokens.
func (r APICallRecord) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Summary is a point-in-time projection over the ledger.
type Summary struct {
	TotalCostUSD       float64 `json:"total_cost_usd"`
	TotalTokens        int     `json:"total_tokens"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	CacheSavingsUSD    float64 `json:"cache_savings_usd"`
	APICalls           int     `json:"api_calls"`
	BudgetRemainingUSD float64 `json:"budget_remaining_usd"`
}

// Tracker records API calls, computes costs from the pricing table, and
// enforces the per-task budget. Owned by a single task; no locking.
type Tracker struct {
	cfg          config.CostConfig
	trace        *trace.Collector // may be nil
	records      []APICallRecord
	cacheSavings float64
}

// NewTracker creates a tracker for one task. The collector may be nil.
func NewTracker(cfg config.CostConfig, tc *trace.Collector) *Tracker {
	return &Tracker{cfg: cfg, trace: tc}
}

// RecordCall appends an API call to the ledger and checks the budget.
// An unknown model logs a warning and contributes zero cost. When the
// call would push the total past the budget it is NOT appended and a
// *BudgetExceededError is returned.
func (t *Tracker) RecordCall(model string, inputTokens, outputTokens, cachedTokens int) (APICallRecord, error) {
	budget := t.cfg.BudgetPerTaskUSD

	// Once the budget is blown, further calls are refused outright and
	// the refused call is never appended to the ledger.
	if spent := t.TotalCost(); spent > budget {
		return APICallRecord{}, &BudgetExceededError{Spent: spent, Budget: budget}
	}

	var inputCost, outputCost, cacheSaving float64

	if pricing, ok := t.cfg.Pricing[model]; ok {
		inputCost = float64(inputTokens) / 1000 * pricing.InputPer1K
		outputCost = float64(outputTokens) / 1000 * pricing.OutputPer1K
		cacheSaving = float64(cachedTokens) / 1000 * pricing.InputPer1K
	} else {
		slog.Warn("no pricing found for model, assuming zero cost", "model", model)
	}

	record := APICallRecord{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CachedTokens: cachedTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
	}

	t.cacheSavings += cacheSaving
	t.records = append(t.records, record)
	total := t.TotalCost()

	if budget > 0 && total > budget*0.8 {
		slog.Warn("cost warning",
			"spent_usd", fmt.Sprintf("%.4f", total),
			"budget_usd", fmt.Sprintf("%.4f", budget),
			"pct", fmt.Sprintf("%.0f", total/budget*100),
		)
		if t.trace != nil {
			t.trace.Record(trace.EventBudgetWarning, map[string]any{
				"spent":  total,
				"budget": budget,
			})
		}
	}

	return record, nil
}

// TotalCost is the cost across all recorded calls.
func (t *Tracker) TotalCost() float64 {
	total := 0.0
	for _, r := range t.records {
		total += r.TotalCost()
	}
	return total
}

// TotalTokens is the token count across all recorded calls.
func (t *Tracker) TotalTokens() int {
	total := 0
	for _, r := range t.records {
		total += r.TotalTokens()
	}
	return total
}

// InputTokens is the input-token count across all calls.
func (t *Tracker) InputTokens() int {
	total := 0
	for _, r := range t.records {
		total += r.InputTokens
	}
	return total
}

// OutputTokens is the output-token count across all calls.
func (t *Tracker) OutputTokens() int {
	total := 0
	for _, r := range t.records {
		total += r.OutputTokens
	}
	return total
}

// CacheSavings is the accumulated savings from cache-read tokens.
func (t *Tracker) CacheSavings() float64 { return t.cacheSavings }

// CallCount is the number of recorded calls.
func (t *Tracker) CallCount() int { return len(t.records) }

// Records returns a copy of the ledger.
func (t *Tracker) Records() []APICallRecord {
	out := make([]APICallRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Summarize projects the ledger into a Summary.
func (t *Tracker) Summarize() Summary {
	return Summary{
		TotalCostUSD:       t.TotalCost(),
		TotalTokens:        t.TotalTokens(),
		InputTokens:        t.InputTokens(),
		OutputTokens:       t.OutputTokens(),
		CacheSavingsUSD:    t.cacheSavings,
		APICalls:           t.CallCount(),
		BudgetRemainingUSD: t.cfg.BudgetPerTaskUSD - t.TotalCost(),
	}
}
