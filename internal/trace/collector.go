// Package trace records hierarchical spans and typed events for a single
// task run and persists them as a JSON document.
package trace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Collector aggregates spans and events for one task execution.
// Safe for concurrent record calls within a task; a coarse lock guards
// all span and event mutation.
type Collector struct {
	taskID string
	logDir string

	mu     sync.Mutex
	spans  []*Span
	active *Span
}

// NewCollector creates a collector for a single task. logDir may be empty,
// in which case Save is a no-op.
func NewCollector(taskID, logDir string) *Collector {
	return &Collector{taskID: taskID, logDir: logDir}
}

// TaskID returns the task this collector belongs to.
func (c *Collector) TaskID() string { return c.taskID }

// StartSpan opens a new span and makes it the active span.
func (c *Collector) StartSpan(name string) *Span {
	return c.StartChildSpan(name, "")
}

// StartChildSpan opens a new span nested under parentID.
func (c *Collector) StartChildSpan(name, parentID string) *Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	span := &Span{
		SpanID:    newID(),
		Name:      name,
		ParentID:  parentID,
		StartTime: nowUnix(),
		Metadata:  map[string]any{},
	}
	c.spans = append(c.spans, span)
	c.active = span
	slog.Debug("trace: started span", "name", name, "span_id", span.SpanID)
	return span
}

// EndSpan closes the given span, or the active span when nil.
// Idempotent on already-closed spans.
func (c *Collector) EndSpan(span *Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := span
	if target == nil {
		target = c.active
	}
	if target == nil || target.Closed() {
		return
	}
	end := nowUnix()
	target.EndTime = &end
	if target == c.active {
		c.active = nil
	}
	if d := target.DurationMS(); d != nil {
		slog.Debug("trace: closed span", "name", target.Name, "duration_ms", *d)
	}
}

// Record appends an event to the active span. Events recorded outside any
// span land in an on-demand "orphan" span.
func (c *Collector) Record(et EventType, data map[string]any) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := &Event{
		EventID:   newID(),
		EventType: et,
		Data:      data,
		Timestamp: nowUnix(),
	}

	if c.active == nil {
		orphan := &Span{
			SpanID:    newID(),
			Name:      "orphan",
			StartTime: nowUnix(),
			Metadata:  map[string]any{},
		}
		c.spans = append(c.spans, orphan)
		c.active = orphan
	}
	c.active.Events = append(c.active.Events, event)
	return event
}

// ActiveSpan returns the currently active span, or nil.
func (c *Collector) ActiveSpan() *Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// EventCount returns the total number of events across all spans.
func (c *Collector) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventCountLocked()
}

func (c *Collector) eventCountLocked() int {
	n := 0
	for _, s := range c.spans {
		n += len(s.Events)
	}
	return n
}

// EventsByType returns all events of one type across spans, in append order.
func (c *Collector) EventsByType(et EventType) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []*Event
	for _, span := range c.spans {
		for _, e := range span.Events {
			if e.EventType == et {
				events = append(events, e)
			}
		}
	}
	return events
}

// Spans returns a snapshot of all spans in start order.
func (c *Collector) Spans() []*Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Span, len(c.spans))
	copy(out, c.spans)
	return out
}

// Document is the persisted trace format.
type Document struct {
	TaskID      string        `json:"task_id"`
	Spans       []*SpanRecord `json:"spans"`
	TotalEvents int           `json:"total_events"`
}

// SpanRecord is a span in its serialized form.
type SpanRecord struct {
	SpanID     string         `json:"span_id"`
	Name       string         `json:"name"`
	ParentID   string         `json:"parent_id,omitempty"`
	StartTime  float64        `json:"start_time"`
	EndTime    *float64       `json:"end_time"`
	DurationMS *float64       `json:"duration_ms"`
	Events     []*Event       `json:"events"`
	Metadata   map[string]any `json:"metadata"`
}

// ToDocument serializes the full trace.
func (c *Collector) ToDocument() *Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := &Document{TaskID: c.taskID, TotalEvents: c.eventCountLocked()}
	for _, s := range c.spans {
		events := s.Events
		if events == nil {
			events = []*Event{}
		}
		doc.Spans = append(doc.Spans, &SpanRecord{
			SpanID:     s.SpanID,
			Name:       s.Name,
			ParentID:   s.ParentID,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			DurationMS: s.DurationMS(),
			Events:     events,
			Metadata:   s.Metadata,
		})
	}
	return doc
}

// Save persists the trace as pretty-printed JSON under the configured
// directory, filename trace_<task_id>.json. Returns the written path.
// No-op when no log dir is configured.
func (c *Collector) Save() (string, error) {
	if c.logDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return "", fmt.Errorf("trace: create log dir: %w", err)
	}

	doc := c.ToDocument()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("trace: marshal: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(c.logDir, fmt.Sprintf("trace_%s.json", c.taskID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("trace: write %s: %w", path, err)
	}

	slog.Info("trace saved", "path", path, "events", doc.TotalEvents)
	return path, nil
}

// LoadDocument reads a persisted trace file back into memory.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trace: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trace: parse %s: %w", path, err)
	}
	return &doc, nil
}
