package marketdata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/exchange-core/protocol"
)

const testSymbol = "SOL_USDC"

func testConfig() Config {
	return Config{
		DepthThrottle: 100 * time.Millisecond,
		DepthLevels:   20,
		TickerWindow:  24 * time.Hour,
		Markets: []protocol.Market{
			{Symbol: testSymbol, PriceScale: 2, QuantityScale: 1},
		},
	}
}

func newTestAggregator(opts ...AggregatorOption) (*Aggregator, *[]Message) {
	published := &[]Message{}
	agg := NewAggregator(testConfig(), &protocol.DefaultJSONSerializer{}, func(msg Message) {
		*published = append(*published, msg)
	}, opts...)
	return agg, published
}

func stamp(seq uint64, ts time.Time, event *protocol.Event) *protocol.Event {
	event.Sequence = seq
	event.Ts = ts
	return event
}

// tradeStream builds the event stream of scenario: two resting sells at
// 100 (qty 10 and 5), then a buy for 12 that fills the first and part of
// the second.
func tradeStream(ts time.Time) []*protocol.Event {
	return []*protocol.Event{
		stamp(1, ts, protocol.NewAcceptedEvent(testSymbol, 1, 1, protocol.SideSell, protocol.OrderKindLimit, 100, 10)),
		stamp(2, ts, protocol.NewAcceptedEvent(testSymbol, 2, 2, protocol.SideSell, protocol.OrderKindLimit, 100, 5)),
		stamp(3, ts, protocol.NewAcceptedEvent(testSymbol, 3, 3, protocol.SideBuy, protocol.OrderKindLimit, 100, 12)),
		stamp(4, ts, protocol.NewTradeEvent(testSymbol, 1, 100, 10, protocol.SideBuy, 1, 3)),
		stamp(5, ts, protocol.NewFilledEvent(testSymbol, 1, 1, 10, 0)),
		stamp(6, ts, protocol.NewFilledEvent(testSymbol, 3, 3, 10, 2)),
		stamp(7, ts, protocol.NewTradeEvent(testSymbol, 2, 100, 2, protocol.SideBuy, 2, 3)),
		stamp(8, ts, protocol.NewFilledEvent(testSymbol, 2, 2, 2, 3)),
		stamp(9, ts, protocol.NewFilledEvent(testSymbol, 3, 3, 2, 0)),
	}
}

func TestAggregatorDepthFromEvents(t *testing.T) {
	agg, _ := newTestAggregator()

	ts := time.UnixMilli(1700000000000).UTC()
	for _, event := range tradeStream(ts) {
		agg.Process(event)
	}

	// After the full command: bids empty, asks hold order 2's residual 3.
	bids, asks := agg.book(testSymbol).Depth(20)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.Equal(t, protocol.Price(100), asks[0].Price)
	assert.Equal(t, protocol.Quantity(3), asks[0].Quantity)
}

func TestAggregatorDepthCancelAndMarket(t *testing.T) {
	agg, _ := newTestAggregator()
	ts := time.UnixMilli(1700000000000).UTC()

	agg.Process(stamp(1, ts, protocol.NewAcceptedEvent(testSymbol, 1, 1, protocol.SideBuy, protocol.OrderKindLimit, 50, 5)))

	bids, _ := agg.book(testSymbol).Depth(20)
	require.Len(t, bids, 1)
	assert.Equal(t, protocol.Quantity(5), bids[0].Quantity)

	// A canceled market order never rested and must not disturb depth.
	agg.Process(stamp(2, ts, protocol.NewAcceptedEvent(testSymbol, 2, 2, protocol.SideSell, protocol.OrderKindMarket, 0, 9)))
	agg.Process(stamp(3, ts, protocol.NewCanceledEvent(testSymbol, 2, 2, protocol.SideSell, protocol.OrderKindMarket, 0, 9, protocol.CancelReasonInsufficientLiquidity)))

	bids, asks := agg.book(testSymbol).Depth(20)
	require.Len(t, bids, 1)
	assert.Empty(t, asks)

	// Cancel of the resting bid empties the book.
	agg.Process(stamp(4, ts, protocol.NewCanceledEvent(testSymbol, 1, 1, protocol.SideBuy, protocol.OrderKindLimit, 50, 5, protocol.CancelReasonUserRequested)))
	bids, _ = agg.book(testSymbol).Depth(20)
	assert.Empty(t, bids)
}

func TestAggregatorTicker(t *testing.T) {
	agg, _ := newTestAggregator()
	ts := time.UnixMilli(1700000000000).UTC()

	agg.Process(stamp(1, ts, protocol.NewTradeEvent(testSymbol, 1, 100, 10, protocol.SideBuy, 1, 2)))
	agg.Process(stamp(2, ts.Add(time.Minute), protocol.NewTradeEvent(testSymbol, 2, 110, 5, protocol.SideBuy, 1, 2)))
	agg.Process(stamp(3, ts.Add(2*time.Minute), protocol.NewTradeEvent(testSymbol, 3, 95, 2, protocol.SideSell, 1, 2)))

	ticker := agg.ticker(testSymbol)
	assert.Equal(t, protocol.Price(100), ticker.Open)
	assert.Equal(t, protocol.Price(110), ticker.High)
	assert.Equal(t, protocol.Price(95), ticker.Low)
	assert.Equal(t, protocol.Price(95), ticker.Last)
	assert.Equal(t, protocol.Quantity(17), ticker.BaseVolume)
	assert.Equal(t, uint64(100*10+110*5+95*2), ticker.QuoteVolume)
	assert.Equal(t, uint64(3), ticker.TradeCount)
	assert.Equal(t, int64(-5), ticker.PriceChange())
}

// The 24h window rolls forward in whole-window increments driven by trade
// timestamps, resetting the aggregates.
func TestAggregatorTickerWindowRoll(t *testing.T) {
	agg, _ := newTestAggregator()
	ts := time.UnixMilli(1700000000000).UTC()

	agg.Process(stamp(1, ts, protocol.NewTradeEvent(testSymbol, 1, 100, 10, protocol.SideBuy, 1, 2)))
	agg.Process(stamp(2, ts.Add(time.Hour), protocol.NewTradeEvent(testSymbol, 2, 120, 1, protocol.SideBuy, 1, 2)))

	// 49 hours later: two whole windows have passed.
	agg.Process(stamp(3, ts.Add(49*time.Hour), protocol.NewTradeEvent(testSymbol, 3, 105, 4, protocol.SideSell, 1, 2)))

	ticker := agg.ticker(testSymbol)
	assert.Equal(t, ts.Add(48*time.Hour), ticker.WindowStart)
	assert.Equal(t, protocol.Price(105), ticker.Open)
	assert.Equal(t, protocol.Price(105), ticker.High)
	assert.Equal(t, protocol.Price(105), ticker.Low)
	assert.Equal(t, protocol.Quantity(4), ticker.BaseVolume)
	assert.Equal(t, uint64(1), ticker.TradeCount)
	assert.Equal(t, int64(0), ticker.PriceChange())
}

// Feeding the same prefix in arbitrary chunks yields the same ticker
// state.
func TestAggregatorChunkingIdempotence(t *testing.T) {
	ts := time.UnixMilli(1700000000000).UTC()
	events := tradeStream(ts)

	whole, _ := newTestAggregator()
	for _, event := range events {
		whole.Process(event)
	}

	chunked, _ := newTestAggregator()
	for i, event := range events {
		chunked.Process(event)
		// Interleave throttle emissions between chunks.
		if i%3 == 0 {
			chunked.EmitDepth()
		}
	}

	assert.Equal(t, whole.ticker(testSymbol).Snapshot(), chunked.ticker(testSymbol).Snapshot())

	wholeBids, wholeAsks := whole.book(testSymbol).Depth(20)
	chunkedBids, chunkedAsks := chunked.book(testSymbol).Depth(20)
	assert.Equal(t, wholeBids, chunkedBids)
	assert.Equal(t, wholeAsks, chunkedAsks)
}

func TestAggregatorDepthThrottle(t *testing.T) {
	agg, _ := newTestAggregator()
	ts := time.UnixMilli(1700000000000).UTC()

	// Nothing dirty, nothing emitted.
	assert.Empty(t, agg.EmitDepth())

	agg.Process(stamp(1, ts, protocol.NewAcceptedEvent(testSymbol, 1, 1, protocol.SideBuy, protocol.OrderKindLimit, 50, 5)))

	msgs := agg.EmitDepth()
	require.Len(t, msgs, 1)
	assert.Equal(t, DepthChannel(testSymbol), msgs[0].Channel)

	var payload DepthPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	require.Len(t, payload.Bids, 1)
	assert.Equal(t, [2]string{"0.5", "0.5"}, payload.Bids[0])

	// The dirty flag is cleared: no change, no second emission.
	assert.Empty(t, agg.EmitDepth())

	// A trade-only event does not mark depth dirty; its fills do.
	agg.Process(stamp(2, ts, protocol.NewTradeEvent(testSymbol, 1, 50, 1, protocol.SideSell, 1, 9)))
	assert.Empty(t, agg.EmitDepth())
}

func TestAggregatorMessages(t *testing.T) {
	agg, published := newTestAggregator()
	ts := time.UnixMilli(1700000000000).UTC()

	for _, event := range tradeStream(ts) {
		for _, msg := range agg.Process(event) {
			*published = append(*published, msg)
		}
	}

	channels := make(map[string]int)
	for _, msg := range *published {
		channels[msg.Channel]++
	}

	// Two trades: trade + ticker per trade; user updates for every
	// lifecycle event.
	assert.Equal(t, 2, channels[TradeChannel(testSymbol)])
	assert.Equal(t, 2, channels[TickerChannel(testSymbol)])
	assert.Equal(t, 2, channels[UserChannel(1)]) // ack + fill
	assert.Equal(t, 2, channels[UserChannel(2)])
	assert.Equal(t, 3, channels[UserChannel(3)]) // ack + two fills

	// Trade payloads render scaled integers as decimal strings.
	var trade TradePayload
	for _, msg := range *published {
		if msg.Channel == TradeChannel(testSymbol) {
			require.NoError(t, json.Unmarshal(msg.Payload, &trade))
			break
		}
	}
	assert.Equal(t, "1", trade.Price)    // 100 with price scale 2
	assert.Equal(t, "1", trade.Quantity) // 10 with quantity scale 1
	assert.Equal(t, "buy", trade.TakerSide)
}

type captureTickerStore struct {
	snaps []TickerSnapshot
}

func (c *captureTickerStore) EnqueueTicker(snap TickerSnapshot) {
	c.snaps = append(c.snaps, snap)
}

func TestAggregatorTickerStoreFlush(t *testing.T) {
	store := &captureTickerStore{}
	agg, _ := newTestAggregator(WithTickerStore(store))
	ts := time.UnixMilli(1700000000000).UTC()

	agg.Process(stamp(1, ts, protocol.NewTradeEvent(testSymbol, 1, 100, 10, protocol.SideBuy, 1, 2)))

	agg.FlushTickers(false)
	require.Len(t, store.snaps, 1)
	assert.Equal(t, testSymbol, store.snaps[0].Symbol)

	// Nothing changed: the dirty set is empty.
	agg.FlushTickers(false)
	assert.Len(t, store.snaps, 1)

	// The shutdown flush pushes every known ticker.
	agg.FlushTickers(true)
	assert.Len(t, store.snaps, 2)
}
