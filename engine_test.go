package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/exchange-core/protocol"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000).UTC()
}

func startTestEngine(t *testing.T, cfg Config, opts ...EngineOption) (*Engine, *MemoryPublisher) {
	t.Helper()

	publisher := NewMemoryPublisher()
	opts = append([]EngineOption{WithClock(fixedClock)}, opts...)
	engine := NewEngine(cfg, publisher, opts...)

	go func() {
		_ = engine.Start()
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	return engine, publisher
}

func place(t *testing.T, engine *Engine, user uint64, side protocol.Side, kind protocol.OrderKind, qty, price uint64) {
	t.Helper()

	err := engine.PlaceOrder(context.Background(), &protocol.PlaceOrderCommand{
		UserID:   protocol.UserID(user),
		Symbol:   testSymbol,
		Side:     side,
		Kind:     kind,
		Quantity: protocol.Quantity(qty),
		Price:    protocol.Price(price),
	})
	require.NoError(t, err)
}

func waitForEvents(t *testing.T, publisher *MemoryPublisher, count int) {
	t.Helper()

	assert.Eventually(t, func() bool {
		return publisher.Count() >= count
	}, time.Second, 5*time.Millisecond)
}

func TestEngineMatchingFlow(t *testing.T) {
	engine, publisher := startTestEngine(t, DefaultConfig())

	place(t, engine, 1, protocol.SideSell, protocol.OrderKindLimit, 10, 100)
	place(t, engine, 2, protocol.SideSell, protocol.OrderKindLimit, 5, 100)
	place(t, engine, 3, protocol.SideBuy, protocol.OrderKindLimit, 12, 100)

	// Accept, Accept, Accept, Trade, Fill, Fill, Trade, Fill, Fill.
	waitForEvents(t, publisher, 9)

	events := publisher.Events()
	require.Len(t, events, 9)

	assert.Equal(t, protocol.EventAccepted, events[0].Type)
	assert.Equal(t, protocol.OrderID(1), events[0].OrderID)
	assert.Equal(t, protocol.EventAccepted, events[1].Type)
	assert.Equal(t, protocol.EventAccepted, events[2].Type)
	assert.Equal(t, protocol.EventTrade, events[3].Type)
	assert.Equal(t, protocol.Quantity(10), events[3].Quantity)
	assert.Equal(t, protocol.EventTrade, events[6].Type)
	assert.Equal(t, protocol.Quantity(2), events[6].Quantity)

	// The event sequence is dense and strictly increasing from 1.
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Sequence)
		assert.Equal(t, fixedClock(), event.Ts)
	}

	assert.Equal(t, uint64(9), engine.EventSequence())
	assert.Equal(t, uint64(3), engine.OrderSequence())
}

func TestEngineValidationRejects(t *testing.T) {
	tests := []struct {
		name   string
		cmd    *protocol.PlaceOrderCommand
		reason protocol.RejectReason
	}{
		{
			name: "ZeroQuantity",
			cmd: &protocol.PlaceOrderCommand{
				UserID: 1, Symbol: testSymbol, Side: protocol.SideBuy,
				Kind: protocol.OrderKindLimit, Quantity: 0, Price: 100,
			},
			reason: protocol.RejectReasonInvalidQuantity,
		},
		{
			name: "LimitWithoutPrice",
			cmd: &protocol.PlaceOrderCommand{
				UserID: 1, Symbol: testSymbol, Side: protocol.SideBuy,
				Kind: protocol.OrderKindLimit, Quantity: 5, Price: 0,
			},
			reason: protocol.RejectReasonInvalidPrice,
		},
		{
			name: "MarketWithPrice",
			cmd: &protocol.PlaceOrderCommand{
				UserID: 1, Symbol: testSymbol, Side: protocol.SideBuy,
				Kind: protocol.OrderKindMarket, Quantity: 5, Price: 100,
			},
			reason: protocol.RejectReasonInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, publisher := startTestEngine(t, DefaultConfig())

			require.NoError(t, engine.PlaceOrder(context.Background(), tt.cmd))
			waitForEvents(t, publisher, 1)

			event := publisher.Get(0)
			assert.Equal(t, protocol.EventRejected, event.Type)
			assert.Equal(t, tt.reason, event.RejectReason)
			// Rejects never touch the book and never consume an order ID.
			assert.Equal(t, uint64(0), engine.OrderSequence())
		})
	}
}

func TestEngineSymbolWhitelist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Markets = []protocol.Market{{Symbol: testSymbol, PriceScale: 4, QuantityScale: 2}}
	engine, publisher := startTestEngine(t, cfg)

	err := engine.PlaceOrder(context.Background(), &protocol.PlaceOrderCommand{
		UserID: 1, Symbol: "DOGE_USDC", Side: protocol.SideBuy,
		Kind: protocol.OrderKindLimit, Quantity: 5, Price: 100,
	})
	require.NoError(t, err)
	waitForEvents(t, publisher, 1)

	event := publisher.Get(0)
	assert.Equal(t, protocol.EventRejected, event.Type)
	assert.Equal(t, protocol.RejectReasonUnknownSymbol, event.RejectReason)

	// The whitelisted symbol still works.
	place(t, engine, 1, protocol.SideBuy, protocol.OrderKindLimit, 5, 100)
	waitForEvents(t, publisher, 2)
	assert.Equal(t, protocol.EventAccepted, publisher.Get(1).Type)
}

func TestEngineCancelFlow(t *testing.T) {
	engine, publisher := startTestEngine(t, DefaultConfig())

	place(t, engine, 1, protocol.SideBuy, protocol.OrderKindLimit, 5, 50)
	waitForEvents(t, publisher, 1)

	err := engine.CancelOrder(context.Background(), &protocol.CancelOrderCommand{
		UserID: 1, Symbol: testSymbol, OrderID: 1,
	})
	require.NoError(t, err)
	waitForEvents(t, publisher, 2)

	canceled := publisher.Get(1)
	assert.Equal(t, protocol.EventCanceled, canceled.Type)
	assert.Equal(t, protocol.Quantity(5), canceled.RemainingQuantity)

	// Cancel on a symbol with no book cannot target an existing order.
	err = engine.CancelOrder(context.Background(), &protocol.CancelOrderCommand{
		UserID: 1, Symbol: "NEVER_SEEN", OrderID: 42,
	})
	require.NoError(t, err)
	waitForEvents(t, publisher, 3)
	assert.Equal(t, protocol.RejectReasonUnknownOrder, publisher.Get(2).RejectReason)
}

func TestEngineMarketInsufficientLiquidity(t *testing.T) {
	engine, publisher := startTestEngine(t, DefaultConfig())

	place(t, engine, 1, protocol.SideBuy, protocol.OrderKindMarket, 10, 0)
	waitForEvents(t, publisher, 2)

	events := publisher.Events()
	assert.Equal(t, protocol.EventAccepted, events[0].Type)
	assert.Equal(t, protocol.EventCanceled, events[1].Type)
	assert.Equal(t, protocol.Quantity(10), events[1].RemainingQuantity)
	assert.Equal(t, protocol.CancelReasonInsufficientLiquidity, events[1].CancelReason)
}

// Replaying the same command sequence on a fresh engine yields the
// identical event sequence.
func TestEngineDeterminism(t *testing.T) {
	run := func() []*protocol.Event {
		engine, publisher := startTestEngine(t, DefaultConfig())

		place(t, engine, 1, protocol.SideSell, protocol.OrderKindLimit, 10, 100)
		place(t, engine, 2, protocol.SideSell, protocol.OrderKindLimit, 5, 100)
		place(t, engine, 3, protocol.SideBuy, protocol.OrderKindLimit, 12, 100)
		place(t, engine, 4, protocol.SideBuy, protocol.OrderKindMarket, 2, 0)
		require.NoError(t, engine.CancelOrder(context.Background(), &protocol.CancelOrderCommand{
			UserID: 2, Symbol: testSymbol, OrderID: 2,
		}))

		waitForEvents(t, publisher, 14)
		return publisher.Events()
	}

	first := run()
	second := run()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, *first[i], *second[i], "event %d differs", i)
	}
}

func TestEngineShutdown(t *testing.T) {
	publisher := NewMemoryPublisher()
	engine := NewEngine(DefaultConfig(), publisher, WithClock(fixedClock))

	started := make(chan struct{})
	go func() {
		close(started)
		_ = engine.Start()
	}()
	<-started

	// Enqueue work, then shut down: everything already accepted drains.
	for i := 0; i < 10; i++ {
		require.NoError(t, engine.PlaceOrder(context.Background(), &protocol.PlaceOrderCommand{
			UserID: 1, Symbol: testSymbol, Side: protocol.SideBuy,
			Kind: protocol.OrderKindLimit, Quantity: 1, Price: protocol.Price(i + 1),
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(ctx))

	assert.Equal(t, 10, publisher.Count())

	// New commands are refused after shutdown.
	err := engine.PlaceOrder(context.Background(), &protocol.PlaceOrderCommand{
		UserID: 1, Symbol: testSymbol, Side: protocol.SideBuy,
		Kind: protocol.OrderKindLimit, Quantity: 1, Price: 1,
	})
	assert.Equal(t, ErrShutdown, err)
}

func TestEngineDepthQuery(t *testing.T) {
	engine, publisher := startTestEngine(t, DefaultConfig())

	place(t, engine, 1, protocol.SideBuy, protocol.OrderKindLimit, 5, 99)
	place(t, engine, 2, protocol.SideSell, protocol.OrderKindLimit, 3, 101)
	waitForEvents(t, publisher, 2)

	snap, err := engine.Depth(context.Background(), testSymbol, 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, protocol.Price(99), snap.Bids[0].Price)
	assert.Equal(t, protocol.Quantity(5), snap.Bids[0].Quantity)
	assert.Equal(t, protocol.Price(101), snap.Asks[0].Price)
}
