package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/0x5487/exchange-core/marketdata"
	"github.com/0x5487/exchange-core/protocol"
)

var (
	ErrChannelFull = errors.New("persistence channel is full")
	ErrClosed      = errors.New("persistence writer is closed")
)

// OrderRow is the final state of a terminal order (fully filled or
// canceled). One row per order.
type OrderRow struct {
	OrderID   protocol.OrderID   `json:"order_id"`
	UserID    protocol.UserID    `json:"user_id"`
	Symbol    string             `json:"symbol"`
	Side      protocol.Side      `json:"side"`
	Kind      protocol.OrderKind `json:"kind"`
	Price     protocol.Price     `json:"price"`
	Original  protocol.Quantity  `json:"original_qty"`
	Remaining protocol.Quantity  `json:"remaining_qty"`
	Status    string             `json:"status"` // filled, canceled
	CreatedTs time.Time          `json:"created_ts"`
	UpdatedTs time.Time          `json:"updated_ts"`
}

// TradeRow is one row per Trade event.
type TradeRow struct {
	Sequence     uint64            `json:"seq"`
	TradeID      protocol.TradeID  `json:"trade_id"`
	Symbol       string            `json:"symbol"`
	Price        protocol.Price    `json:"price"`
	Quantity     protocol.Quantity `json:"quantity"`
	TakerSide    protocol.Side     `json:"taker_side"`
	MakerOrderID protocol.OrderID  `json:"maker_order_id"`
	TakerOrderID protocol.OrderID  `json:"taker_order_id"`
	Ts           time.Time         `json:"ts"`
}

// CancelRow is one row per OrderCanceled event.
type CancelRow struct {
	Sequence  uint64                `json:"seq"`
	OrderID   protocol.OrderID      `json:"order_id"`
	UserID    protocol.UserID       `json:"user_id"`
	Symbol    string                `json:"symbol"`
	Remaining protocol.Quantity     `json:"remaining_qty"`
	Reason    protocol.CancelReason `json:"reason"`
	Ts        time.Time             `json:"ts"`
}

// TickerRow is a periodic snapshot of per-symbol ticker state.
type TickerRow struct {
	marketdata.TickerSnapshot
	Ts time.Time `json:"ts"`
}

// Batch is one prepared write set, grouped per table.
type Batch struct {
	Orders  []OrderRow
	Trades  []TradeRow
	Cancels []CancelRow
	Tickers []TickerRow
	Markets []protocol.Market

	// events counts buffered input events; the size flush threshold is
	// based on events, not rows.
	events int
}

// Empty reports whether the batch has nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Orders) == 0 && len(b.Trades) == 0 && len(b.Cancels) == 0 &&
		len(b.Tickers) == 0 && len(b.Markets) == 0
}

// Store is the durable backend boundary. The wire protocol behind it is
// opaque to the core; implementations must be safe for use from the single
// writer goroutine.
type Store interface {
	WriteBatch(ctx context.Context, batch *Batch) error
}

// MemoryStore keeps batches in memory, useful for testing.
type MemoryStore struct {
	mu            sync.Mutex
	batches       []*Batch
	failRemaining int
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailNext makes the next n WriteBatch calls return an error.
func (m *MemoryStore) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemaining = n
}

// WriteBatch records the batch, or fails when failures are armed.
func (m *MemoryStore) WriteBatch(ctx context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRemaining > 0 {
		m.failRemaining--
		return errors.New("memory store: injected failure")
	}

	m.batches = append(m.batches, batch)
	return nil
}

// Batches returns the recorded batches.
func (m *MemoryStore) Batches() []*Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches := make([]*Batch, len(m.batches))
	copy(batches, m.batches)
	return batches
}
