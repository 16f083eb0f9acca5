package bus

import (
	"context"
	"sync"
	"time"
)

// Published records one message handed to MemoryBus.Publish, for test
// assertions.
type Published struct {
	Topic string
	Key   []byte
	Value []byte
}

// MemoryBus is an in-process, channel-backed Bus. It backs ingest-loop
// tests and lets the engine run end-to-end without a real broker.
type MemoryBus struct {
	inbox chan Message

	mu        sync.Mutex
	published []Published
	closed    bool
}

// NewMemoryBus constructs a MemoryBus with the given inbound buffer size.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemoryBus{inbox: make(chan Message, buffer)}
}

// Enqueue pushes an inbound message for a future Poll to return. Blocks if
// the inbox is full; intended for test setup, not production use.
func (m *MemoryBus) Enqueue(msg Message) {
	m.inbox <- msg
}

// Poll returns the next enqueued message, or (nil, nil) after timeout.
func (m *MemoryBus) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-m.inbox:
		if !ok {
			return nil, nil
		}
		return &msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit is a no-op: MemoryBus has no durable offsets to advance.
func (m *MemoryBus) Commit(ctx context.Context) error { return nil }

// Publish records the message for later inspection via Published.
func (m *MemoryBus) Publish(ctx context.Context, topic string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Published{Topic: topic, Key: key, Value: value})
	return nil
}

// Published returns every message handed to Publish so far.
func (m *MemoryBus) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.published))
	copy(out, m.published)
	return out
}

// Close marks the bus closed and drains nothing further; calls after the
// first are no-ops.
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.inbox)
		m.closed = true
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
