package match

import (
	"sync"

	"github.com/0x5487/exchange-core/protocol"
)

// Publisher receives the engine's event batches.
//
// IMPORTANT: Publish is called from the engine thread and must not block.
// Implementations either hand events off to their own buffering (see
// eventbus.Broadcaster) or process them synchronously and cheaply. Events
// are shared immutable values; implementations must not mutate them.
type Publisher interface {
	Publish(...*protocol.Event)
}

// MemoryPublisher stores events in memory, useful for testing.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []*protocol.Event
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events: make([]*protocol.Event, 0),
	}
}

// Publish appends events to the in-memory slice.
func (m *MemoryPublisher) Publish(events ...*protocol.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

// Count returns the number of events stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns the event at the specified index.
func (m *MemoryPublisher) Get(index int) *protocol.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[index]
}

// Events returns a copy of all events stored.
func (m *MemoryPublisher) Events() []*protocol.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*protocol.Event, len(m.events))
	copy(events, m.events)
	return events
}

// DiscardPublisher drops all events, useful for benchmarking.
type DiscardPublisher struct{}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(events ...*protocol.Event) {
}
