package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process Store driver. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	windows map[string]Window
	entries map[string]Entry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]Window),
		entries: make(map[string]Entry),
	}
}

// UpdateWindow implements WindowStore. The check and the mutation run under
// one lock. ttl is unused: windows are overwritten, never expired.
func (m *Memory) UpdateWindow(_ context.Context, key string, _ time.Duration, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, found := m.windows[key]
	next, write := fn(cur, found)
	if write {
		m.windows[key] = next
	}
	return nil
}

// Get implements EntryStore. The returned Data is a copy.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Data: clone(e.Data), Timestamp: e.Timestamp}, true, nil
}

// Put implements EntryStore.
func (m *Memory) Put(_ context.Context, key string, e Entry, maxEntries int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted string
	if maxEntries > 0 && len(m.entries) >= maxEntries {
		var oldest time.Time
		first := true
		for k, v := range m.entries {
			if first || v.Timestamp.Before(oldest) {
				evicted, oldest, first = k, v.Timestamp, false
			}
		}
		delete(m.entries, evicted)
	}
	m.entries[key] = Entry{Data: clone(e.Data), Timestamp: e.Timestamp}
	return evicted, nil
}

// Len implements EntryStore.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
