// Package memory provides the per-task working scratchpad.
package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Working is a bounded key-value scratchpad for a single task run.
// Ordering is LRU by last access or write; once capacity is exceeded the
// least-recently-used key is evicted. Not safe for concurrent use; the
// agent loop owns it.
type Working struct {
	maxItems int
	store    map[string]any
	order    []string // oldest first
}

// NewWorking creates a scratchpad holding at most maxItems entries.
// Non-positive maxItems falls back to 20.
func NewWorking(maxItems int) *Working {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Working{
		maxItems: maxItems,
		store:    map[string]any{},
	}
}

// Set stores a value and promotes the key to most-recently-used.
// Evicts the oldest keys while over capacity.
func (w *Working) Set(key string, value any) {
	if _, ok := w.store[key]; ok {
		w.removeFromOrder(key)
	}
	w.store[key] = value
	w.order = append(w.order, key)

	for len(w.store) > w.maxItems {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.store, oldest)
		slog.Debug("working memory evicted key", "key", oldest)
	}
}

// Get retrieves a value and promotes the key to most-recently-used.
// The second return is false when the key is absent.
func (w *Working) Get(key string) (any, bool) {
	v, ok := w.store[key]
	if ok {
		w.removeFromOrder(key)
		w.order = append(w.order, key)
	}
	return v, ok
}

// Delete removes a key. Returns true when the key existed.
func (w *Working) Delete(key string) bool {
	if _, ok := w.store[key]; !ok {
		return false
	}
	delete(w.store, key)
	w.removeFromOrder(key)
	return true
}

// Clear drops all entries.
func (w *Working) Clear() {
	w.store = map[string]any{}
	w.order = nil
}

// Keys returns the stored keys in LRU order, oldest first.
func (w *Working) Keys() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Len returns the number of stored entries.
func (w *Working) Len() int { return len(w.store) }

// Has reports whether a key is present without touching its recency.
func (w *Working) Has(key string) bool {
	_, ok := w.store[key]
	return ok
}

// ToContextString renders the scratchpad for injection into the system
// prompt, one "key: value" line per entry in LRU order. Values longer
// than 200 characters are truncated with an ellipsis marker.
func (w *Working) ToContextString() string {
	if len(w.store) == 0 {
		return "Working memory: (empty)"
	}

	var b strings.Builder
	b.WriteString("Working memory:")
	for _, key := range w.order {
		val := truncateStr(fmt.Sprintf("%v", w.store[key]), 200)
		b.WriteString("\n  ")
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(val)
	}
	return b.String()
}

func (w *Working) removeFromOrder(key string) {
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Don't cut in the middle of a multi-byte rune
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
