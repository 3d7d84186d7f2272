// Package eventbus fans the engine's event stream out to its consumers.
//
// The producer side is effectively unbounded: Publish appends to a
// per-subscriber buffer and returns, so the engine thread is never blocked
// by a slow consumer. Each subscription drains its buffer through its own
// pump goroutine, which means a lagging subscriber only grows (or, with
// DropOldest, trims) its own buffer.
package eventbus

import (
	"sync"

	"github.com/rs/xid"

	"github.com/0x5487/exchange-core/protocol"
)

// Policy selects what a subscription does when its buffer exceeds capacity.
type Policy int

const (
	// NoDrop buffers without bound and surfaces lag via metrics. Used for
	// the persistence and aggregator arms, which must see every event.
	NoDrop Policy = iota

	// DropOldest discards the oldest buffered events beyond capacity.
	// Reserved for real-time fan-out, where at-most-once is acceptable.
	DropOldest
)

// Broadcaster is the single-producer/multi-consumer fan-out. It implements
// match.Publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a consumer. capacity only matters for DropOldest;
// NoDrop subscriptions buffer without bound. The subscription starts
// observing the stream from this call on and sees a prefix-closed,
// strictly sequence-ordered view.
func (b *Broadcaster) Subscribe(name string, capacity int, policy Policy) *Subscription {
	sub := &Subscription{
		name:     name,
		id:       xid.New().String(),
		capacity: capacity,
		policy:   policy,
		out:      make(chan *protocol.Event, 64),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.finish()
		close(sub.out)
		return sub
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish hands a batch of events to every subscription. It never blocks;
// ordering per subscriber follows call order (single producer).
func (b *Broadcaster) Publish(events ...*protocol.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.offer(events)
	}
}

// Close stops the fan-out. Buffered events are still delivered; every
// subscription's channel is closed once its buffer is drained.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// Subscription is one consumer's ordered view of the event stream.
type Subscription struct {
	name     string
	id       string
	capacity int
	policy   Policy

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []*protocol.Event
	finished bool
	dropped  uint64

	out chan *protocol.Event
}

// Name returns the subscriber name given to Subscribe.
func (s *Subscription) Name() string {
	return s.name
}

// ID returns the subscription's unique instance ID.
func (s *Subscription) ID() string {
	return s.id
}

// Events is the delivery channel. It is closed after the broadcaster shuts
// down and the remaining buffer has been drained.
func (s *Subscription) Events() <-chan *protocol.Event {
	return s.out
}

// Dropped returns how many events this subscription discarded (DropOldest
// only).
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the current buffer length, the subscriber's lag.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Subscription) offer(events []*protocol.Event) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}

	s.buf = append(s.buf, events...)

	if s.policy == DropOldest && s.capacity > 0 && len(s.buf) > s.capacity {
		over := len(s.buf) - s.capacity
		s.buf = append(s.buf[:0:0], s.buf[over:]...)
		s.dropped += uint64(over)
		droppedEvents.WithLabelValues(s.name).Add(float64(over))
	}

	pendingEvents.WithLabelValues(s.name).Set(float64(len(s.buf)))
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.cond.Signal()
}

// pump moves events from the buffer to the delivery channel. Blocking on a
// slow receiver is fine here: only this subscription's buffer grows.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.finished {
			s.cond.Wait()
		}

		if len(s.buf) == 0 && s.finished {
			s.mu.Unlock()
			close(s.out)
			return
		}

		batch := s.buf
		s.buf = nil
		pendingEvents.WithLabelValues(s.name).Set(0)
		s.mu.Unlock()

		for _, event := range batch {
			s.out <- event
		}
	}
}
