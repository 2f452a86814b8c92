package capture

import (
	"sync"
	"time"
)

// Entry is a single delivery recorded by the capture server.
type Entry struct {
	Seq        int       `json:"seq"`
	Path       string    `json:"path"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Log is an append-only, arrival-ordered record of deliveries. Append is
// the single mutation point; sequence numbers are assigned under the same
// lock, so they are unique and monotonic.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLog creates an empty capture log.
func NewLog() *Log {
	return &Log{entries: make([]Entry, 0)}
}

// Append records a payload and returns the stored entry.
func (l *Log) Append(path string, payload []byte) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{
		Seq:        len(l.entries),
		Path:       path,
		Payload:    string(payload),
		ReceivedAt: time.Now(),
	}
	l.entries = append(l.entries, e)
	return e
}

// Len returns the number of captured deliveries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in arrival order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Payloads returns the captured payloads in arrival order.
func (l *Log) Payloads() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Payload
	}
	return out
}
