package trace

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of trace event kinds.
type EventType string

const (
	EventLLMRequest    EventType = "llm_request"
	EventLLMResponse   EventType = "llm_response"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventThought       EventType = "thought"
	EventPlanStep      EventType = "plan_step"
	EventCriticCheck   EventType = "critic_check"
	EventCacheHit      EventType = "cache_hit"
	EventCacheMiss     EventType = "cache_miss"
	EventMemoryStore   EventType = "memory_store"
	EventMemoryRecall  EventType = "memory_recall"
	EventError         EventType = "error"
	EventBudgetWarning EventType = "budget_warning"
)

// Event is a single point-in-time record within a span.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"` // unix seconds
}

// Span is a time-bounded unit of work (e.g. one loop iteration).
// A span is open until EndTime is set.
type Span struct {
	SpanID    string         `json:"span_id"`
	Name      string         `json:"name"`
	ParentID  string         `json:"parent_id,omitempty"`
	StartTime float64        `json:"start_time"` // unix seconds
	EndTime   *float64       `json:"end_time"`
	Events    []*Event       `json:"events"`
	Metadata  map[string]any `json:"metadata"`
}

// DurationMS returns the span duration in milliseconds, or nil while open.
func (s *Span) DurationMS() *float64 {
	if s.EndTime == nil {
		return nil
	}
	d := (*s.EndTime - s.StartTime) * 1000
	return &d
}

// Closed reports whether the span has been ended.
func (s *Span) Closed() bool { return s.EndTime != nil }

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
