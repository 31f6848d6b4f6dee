package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Raw       string    `json:"raw"`
}

// Buffer is a fixed-size ring of recent log lines. It implements io.Writer
// so it can sit behind zerolog next to stdout.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
	now     func() time.Time
}

// New creates a buffer holding at most size entries
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		now:     time.Now,
	}
}

// Write records p as a single entry
func (b *Buffer) Write(p []byte) (int, error) {
	raw := strings.TrimRight(string(p), "\n")
	entry := parse(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = b.now()
	}
	b.entries[b.head] = entry
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	return len(p), nil
}

// Entries returns the buffered lines oldest first
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	start := 0
	if b.count == len(b.entries) {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%len(b.entries)]
	}
	return result
}

// Recent returns at most n of the newest entries, optionally keeping only
// those at level. An empty level matches everything.
func (b *Buffer) Recent(n int, level string) []Entry {
	entries := b.Entries()
	if level != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// Clear drops every entry
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// parse reads the fields zerolog writes; non-JSON lines are kept as is
func parse(raw string) Entry {
	entry := Entry{Level: "info", Message: raw, Raw: raw}

	var line struct {
		Level   string          `json:"level"`
		Message string          `json:"message"`
		Time    json.RawMessage `json:"time"`
		Source  string          `json:"source"`
	}
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return entry
	}
	if line.Level != "" {
		entry.Level = line.Level
	}
	if line.Message != "" {
		entry.Message = line.Message
	}
	entry.Timestamp = parseTime(line.Time)
	entry.Source = line.Source
	return entry
}

// parseTime accepts both RFC 3339 and unix-second timestamps
func parseTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err == nil {
		return time.Unix(secs, 0)
	}
	return time.Time{}
}
