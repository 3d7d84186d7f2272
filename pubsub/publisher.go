// Package pubsub holds the external publishing boundary: market-data
// envelopes going to a broker and the raw event log going to a topic.
package pubsub

import (
	"log/slog"
	"os"
	"sync"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// Publisher delivers an outward payload on a named channel. Channel names
// follow the market-data convention (trade:<symbol>, depth:<symbol>,
// ticker:<symbol>, user:<user_id>).
type Publisher interface {
	Publish(channel string, payload []byte) error
}

// MemoryPublisher stores published messages, useful for testing.
type MemoryPublisher struct {
	mu       sync.RWMutex
	messages map[string][][]byte
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		messages: make(map[string][][]byte),
	}
}

// Publish records the payload under its channel.
func (m *MemoryPublisher) Publish(channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channel] = append(m.messages[channel], payload)
	return nil
}

// Messages returns the payloads published on channel.
func (m *MemoryPublisher) Messages(channel string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]byte, len(m.messages[channel]))
	copy(out, m.messages[channel])
	return out
}

// Channels returns the channels that received at least one message.
func (m *MemoryPublisher) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := make([]string, 0, len(m.messages))
	for channel := range m.messages {
		channels = append(channels, channel)
	}
	return channels
}
