// Package llm is the gateway to the Anthropic messages API. It owns the
// conversation model, the content-block union, and the wire encoding.
package llm

import "fmt"

// Role of a conversation message. The API only ever sees user/assistant;
// the system prompt travels as a top-level request field.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one content block inside a message: text, a tool invocation
// requested by the model, or a tool result sent back.
type Block interface {
	// apiFormat renders the block in the provider wire format.
	apiFormat() map[string]any
}

// TextContent is a plain text block.
type TextContent struct {
	Text string
}

func (b TextContent) apiFormat() map[string]any {
	return map[string]any{"type": "text", "text": b.Text}
}

// ToolUseContent is a tool invocation requested by the assistant.
type ToolUseContent struct {
	ID    string
	Name  string
	Input map[string]any
}

func (b ToolUseContent) apiFormat() map[string]any {
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"type":  "tool_use",
		"id":    b.ID,
		"name":  b.Name,
		"input": input,
	}
}

// ToolResultContent carries a tool's output back to the model.
type ToolResultContent struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (b ToolResultContent) apiFormat() map[string]any {
	return map[string]any{
		"type":        "tool_result",
		"tool_use_id": b.ToolUseID,
		"content":     b.Content,
		"is_error":    b.IsError,
	}
}

// Message is a conversation turn holding structured content blocks.
type Message struct {
	Role    Role
	Content []Block
}

func (m *Message) apiFormat() map[string]any {
	content := make([]map[string]any, 0, len(m.Content))
	for _, b := range m.Content {
		content = append(content, b.apiFormat())
	}
	return map[string]any{"role": string(m.Role), "content": content}
}

// Text concatenates all text blocks in the message.
func (m *Message) Text() string {
	return joinText(m.Content)
}

// ToolCalls returns all tool_use blocks in the message.
func (m *Message) ToolCalls() []ToolUseContent {
	return toolUses(m.Content)
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

func (t ToolDefinition) apiFormat() map[string]any {
	return map[string]any{
		"name":         t.Name,
		"description":  t.Description,
		"input_schema": t.InputSchema,
	}
}

// LLMResponse is a parsed model response.
type LLMResponse struct {
	Content         []Block
	StopReason      string
	Model           string
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
}

// HasToolCalls reports whether the model stopped to invoke tools.
func (r *LLMResponse) HasToolCalls() bool { return r.StopReason == "tool_use" }

// ToolCalls returns all tool_use blocks in the response.
func (r *LLMResponse) ToolCalls() []ToolUseContent { return toolUses(r.Content) }

// Text concatenates the response's text blocks.
func (r *LLMResponse) Text() string { return joinText(r.Content) }

// TotalTokens is input + output tokens.
func (r *LLMResponse) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Conversation holds the message history for one agent session.
// The agent loop owns it exclusively.
type Conversation struct {
	SystemPrompt string
	Messages     []*Message
}

// AddUserMessage appends a plain text user message.
func (c *Conversation) AddUserMessage(text string) *Message {
	msg := &Message{Role: RoleUser, Content: []Block{TextContent{Text: text}}}
	c.Messages = append(c.Messages, msg)
	return msg
}

// AddAssistantMessage appends an assistant message from response content.
func (c *Conversation) AddAssistantMessage(content []Block) *Message {
	msg := &Message{Role: RoleAssistant, Content: content}
	c.Messages = append(c.Messages, msg)
	return msg
}

// AddToolResults appends tool results as a single user message.
func (c *Conversation) AddToolResults(results []ToolResultContent) *Message {
	content := make([]Block, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	msg := &Message{Role: RoleUser, Content: content}
	c.Messages = append(c.Messages, msg)
	return msg
}

func (c *Conversation) apiFormat() []map[string]any {
	out := make([]map[string]any, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, m.apiFormat())
	}
	return out
}

// TokenEstimate is a rough count using the 4-chars-per-token heuristic.
func (c *Conversation) TokenEstimate() int {
	chars := len(c.SystemPrompt)
	for _, m := range c.Messages {
		for _, b := range m.Content {
			switch blk := b.(type) {
			case TextContent:
				chars += len(blk.Text)
			case ToolResultContent:
				chars += len(blk.Content)
			case ToolUseContent:
				chars += len(fmt.Sprintf("%v", blk.Input))
			}
		}
	}
	return chars / 4
}

func joinText(blocks []Block) string {
	out := ""
	for _, b := range blocks {
		if t, ok := b.(TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

func toolUses(blocks []Block) []ToolUseContent {
	var calls []ToolUseContent
	for _, b := range blocks {
		if tu, ok := b.(ToolUseContent); ok {
			calls = append(calls, tu)
		}
	}
	return calls
}
