package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries is the default size of the memory storage.
const DefaultMaxEntries = 1000

type memoryItem struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	// reference in the history
	href *list.Element
}

// Memory is a Storage keeping a limited number of entries in memory. When
// full, it drops the least recently used entry.
type Memory struct {
	size int
	now  func() time.Time

	mu    sync.Mutex
	items map[string]*memoryItem
	// least recently used key at the end
	history *list.List
}

// NewMemory creates a memory storage of size entries.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMaxEntries
	}

	return &Memory{
		size:    size,
		now:     time.Now,
		items:   make(map[string]*memoryItem, size),
		history: list.New(),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}

	if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
		// remove expired
		delete(m.items, key)
		m.history.Remove(it.href)
		return nil, nil
	}

	m.history.MoveToFront(it.href)
	return it.entry, nil
}

func (m *Memory) Put(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.items[key]; ok {
		// update
		it.entry = e
		it.expiresAt = expiresAt
		m.history.MoveToFront(it.href)
		return nil
	}

	// create
	m.items[key] = &memoryItem{
		key:       key,
		entry:     e,
		expiresAt: expiresAt,
		href:      m.history.PushFront(key),
	}

	// remove least used
	if len(m.items) > m.size {
		leastUsed := m.history.Back()
		delete(m.items, leastUsed.Value.(string))
		m.history.Remove(leastUsed)
	}

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.items[key]; ok {
		delete(m.items, key)
		m.history.Remove(it.href)
	}

	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Close() error { return nil }
