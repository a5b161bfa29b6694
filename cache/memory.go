// Package cache provides the recent-message cache used to warm a freshly
// opened conversation before its first history fetch returns. The in-memory
// implementation is the default; a Redis-backed one serves headless
// deployments that survive process restarts.
package cache

import (
	"context"
	"sync"

	"github.com/whisper/messenger-sdk/chat"
)

// DefaultCapacity is the number of recent messages retained per chat.
const DefaultCapacity = 50

// Recent stores the last N confirmed messages per chat. Implementations are
// best-effort: a cache failure must never fail the operation that triggered
// it.
type Recent interface {
	// Add records a confirmed message for its chat.
	Add(ctx context.Context, msg chat.Message) error

	// Get returns the cached messages for a chat in chronological order
	// (oldest first).
	Get(ctx context.Context, chatID string) ([]chat.Message, error)

	// Clear drops the cache for a chat.
	Clear(ctx context.Context, chatID string) error
}

// Memory is an in-process Recent implementation using a fixed-size ring
// buffer per chat. It is goroutine-safe.
type Memory struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string]*ringBuffer // chatID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of messages.
type ringBuffer struct {
	items []chat.Message
	pos   int
	count int
}

// NewMemory creates an empty in-memory cache. capacity <= 0 selects
// DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Add appends a message to the chat's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (m *Memory) Add(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rb, ok := m.buffers[msg.ChatID]
	if !ok {
		rb = &ringBuffer{items: make([]chat.Message, m.capacity)}
		m.buffers[msg.ChatID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % m.capacity
	if rb.count < m.capacity {
		rb.count++
	}
	return nil
}

// Get returns the cached messages for a chat in chronological order (oldest
// first). Returns an empty slice if the chat has no buffer.
func (m *Memory) Get(_ context.Context, chatID string) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rb, ok := m.buffers[chatID]
	if !ok {
		return []chat.Message{}, nil
	}

	result := make([]chat.Message, rb.count)
	// The oldest message is at position (pos - count) mod capacity.
	start := (rb.pos - rb.count + m.capacity) % m.capacity
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%m.capacity]
	}
	return result, nil
}

// Clear deletes the buffer for a chat.
func (m *Memory) Clear(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buffers, chatID)
	return nil
}
