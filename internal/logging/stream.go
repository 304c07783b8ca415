// Package logging wires slog for the service and keeps recent entries in
// memory for the logs endpoint.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is how many entries the logs endpoint can return
const DefaultBufferSize = 1000

// LogEntry represents a structured log entry
type LogEntry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// Filter narrows GetRecent results
type Filter struct {
	MinLevel  slog.Level
	Component string
}

// RingBuffer stores the most recent log entries
type RingBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RingBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add adds a log entry to the ring buffer
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Len returns how many entries are stored
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// GetRecent returns up to n of the newest entries matching f, oldest first
func (rb *RingBuffer) GetRecent(n int, f Filter) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	result := make([]LogEntry, 0, n)
	// walk newest to oldest, then reverse
	for i := 0; i < rb.count && len(result) < n; i++ {
		e := rb.entries[(rb.head-1-i+rb.size)%rb.size]
		if f.Component != "" && e.Component != f.Component {
			continue
		}
		if ParseLevel(e.Level) < f.MinLevel {
			continue
		}
		result = append(result, e)
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StreamHandler is a slog handler that captures logs to a ring buffer
// before passing them on
type StreamHandler struct {
	buffer *RingBuffer
	next   slog.Handler
	level  slog.Level
	attrs  []slog.Attr
}

// NewStreamHandler wraps next, capturing every enabled record
func NewStreamHandler(buffer *RingBuffer, next slog.Handler, level slog.Level) *StreamHandler {
	return &StreamHandler{
		buffer: buffer,
		next:   next,
		level:  level,
	}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	collect := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	entry := LogEntry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
	}
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.buffer.Add(entry)

	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithAttrs(attrs),
		level:  h.level,
		attrs:  merged,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{
		buffer: h.buffer,
		next:   h.next.WithGroup(name),
		level:  h.level,
		attrs:  h.attrs,
	}
}

// Setup installs the default logger writing level/format to w and returns
// the buffer backing the logs endpoint
func Setup(w io.Writer, level, format string) *RingBuffer {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var next slog.Handler
	if strings.EqualFold(format, "text") {
		next = slog.NewTextHandler(w, opts)
	} else {
		next = slog.NewJSONHandler(w, opts)
	}

	buffer := NewRingBuffer(DefaultBufferSize)
	slog.SetDefault(slog.New(NewStreamHandler(buffer, next, lvl)))
	return buffer
}
