package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/cost"
	"github.com/kodalabs/koda/internal/trace"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Client talks to the Anthropic messages API via net/http, feeding the
// cost tracker and the trace collector on every call.
type Client struct {
	cfg     config.LLMConfig
	apiKey  string
	baseURL string

	http        *http.Client
	retryConfig RetryConfig
	limiter     *rate.Limiter

	cost  *cost.Tracker
	trace *trace.Collector // may be nil
}

type Option func(*Client)

// WithBaseURL points the client at a different API base (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retryConfig = rc }
}

// NewClient creates a gateway. A rate limiter is installed when the
// config sets a requests-per-minute cap.
func NewClient(cfg config.LLMConfig, apiKey string, costTracker *cost.Tracker, tc *trace.Collector, opts ...Option) *Client {
	c := &Client{
		cfg:         cfg,
		apiKey:      apiKey,
		baseURL:     anthropicAPIBase,
		http:        &http.Client{Timeout: 120 * time.Second},
		retryConfig: DefaultRetryConfig(),
		cost:        costTracker,
		trace:       tc,
	}
	if cfg.RateLimitRPM > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 1)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CallOption adjusts a single Chat call.
type CallOption func(*callParams)

type callParams struct {
	model     string
	maxTokens int
}

// WithModel overrides the configured model for one call.
func WithModel(model string) CallOption {
	return func(p *callParams) { p.model = model }
}

// WithMaxTokens overrides max_tokens for one call.
func WithMaxTokens(n int) CallOption {
	return func(p *callParams) { p.maxTokens = n }
}

// Chat sends the conversation and parses the response into content
// blocks. After a successful response the cost tracker records the call;
// a budget-exceeded error from the tracker escapes to the caller.
func (c *Client) Chat(ctx context.Context, conv *Conversation, tools []ToolDefinition, opts ...CallOption) (*LLMResponse, error) {
	params := callParams{model: c.cfg.Model, maxTokens: c.cfg.MaxTokens}
	for _, o := range opts {
		o(&params)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	body := c.buildRequestBody(params, conv, tools)

	if c.trace != nil {
		c.trace.Record(trace.EventLLMRequest, map[string]any{
			"model":         params.model,
			"message_count": len(conv.Messages),
			"tool_count":    len(tools),
		})
	}
	slog.Debug("llm request", "model", params.model, "messages", len(conv.Messages))

	resp, err := RetryDo(ctx, c.retryConfig, func() (*apiResponse, error) {
		return c.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	blocks := parseContentBlocks(resp.Content)
	cacheRead := resp.Usage.CacheReadInputTokens

	if _, err := c.cost.RecordCall(params.model, resp.Usage.InputTokens, resp.Usage.OutputTokens, cacheRead); err != nil {
		return nil, err
	}

	if c.trace != nil {
		c.trace.Record(trace.EventLLMResponse, map[string]any{
			"model":             params.model,
			"stop_reason":       resp.StopReason,
			"input_tokens":      resp.Usage.InputTokens,
			"output_tokens":     resp.Usage.OutputTokens,
			"cache_read_tokens": cacheRead,
			"has_tool_calls":    resp.StopReason == "tool_use",
		})
	}
	slog.Debug("llm response",
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return &LLMResponse{
		Content:         blocks,
		StopReason:      resp.StopReason,
		Model:           params.model,
		InputTokens:     resp.Usage.InputTokens,
		OutputTokens:    resp.Usage.OutputTokens,
		CacheReadTokens: cacheRead,
	}, nil
}

func (c *Client) buildRequestBody(params callParams, conv *Conversation, tools []ToolDefinition) map[string]any {
	body := map[string]any{
		"model":       params.model,
		"max_tokens":  params.maxTokens,
		"temperature": c.cfg.Temperature,
		"messages":    conv.apiFormat(),
	}

	if conv.SystemPrompt != "" {
		body["system"] = conv.SystemPrompt
	}

	if len(tools) > 0 {
		defs := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, t.apiFormat())
		}
		body["tools"] = defs
	}

	return body
}

func (c *Client) doRequest(ctx context.Context, body map[string]any) (*apiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, &HTTPError{
			Status:     httpResp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	return &resp, nil
}

func parseContentBlocks(raw []apiContentBlock) []Block {
	var blocks []Block
	for _, b := range raw {
		switch b.Type {
		case "text":
			blocks = append(blocks, TextContent{Text: b.Text})
		case "tool_use":
			input := map[string]any{}
			_ = json.Unmarshal(b.Input, &input)
			blocks = append(blocks, ToolUseContent{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	return blocks
}

// --- API wire types ---

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type apiUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}
