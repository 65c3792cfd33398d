package logging

import (
	"sync"

	"scriptor/internal/buffer"
)

// LogBuffer keeps the most recent entries for inspection.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{entries: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.entries.Add(entry)
	b.mu.Unlock()
}

// List returns the buffered entries oldest first.
func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}
