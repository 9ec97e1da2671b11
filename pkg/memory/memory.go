// Package memory keeps a bounded, concurrency-safe history of text entries.
package memory

import (
	"errors"
	"sync"
)

var ErrNoCapacity = errors.New("memory capacity must be positive")

type Memory struct {
	entries  []string
	capacity int
	mu       sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	return &Memory{
		entries:  make([]string, 0, max(capacity, 0)),
		capacity: capacity,
	}
}

// Store appends an entry, evicting the oldest once capacity is exceeded.
func (m *Memory) Store(entry string) error {
	if m.capacity <= 0 {
		return ErrNoCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
	return nil
}

// GetAllMessages returns a copy of every entry, oldest first.
func (m *Memory) GetAllMessages() []string {
	return m.Recent(-1)
}

// Recent returns a copy of the last n entries; n < 0 returns all of them.
func (m *Memory) Recent(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n < 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]string, n)
	copy(out, m.entries[len(m.entries)-n:])
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}
