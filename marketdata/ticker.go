package marketdata

import (
	"time"

	"github.com/0x5487/exchange-core/protocol"
)

// TickerState is one symbol's rolling-window statistics, derived solely
// from Trade events. The window rolls forward in whole window increments
// driven by trade timestamps, never by the wall clock, so feeding the same
// trade prefix always yields the same state.
type TickerState struct {
	Symbol      string
	WindowStart time.Time
	Open        protocol.Price
	High        protocol.Price
	Low         protocol.Price
	Last        protocol.Price
	BaseVolume  protocol.Quantity
	QuoteVolume uint64
	TradeCount  uint64

	initialized bool
}

func newTickerState(symbol string) *TickerState {
	return &TickerState{Symbol: symbol}
}

// PriceChange is last minus open in scaled price units.
func (t *TickerState) PriceChange() int64 {
	return int64(t.Last) - int64(t.Open)
}

// applyTrade folds one trade into the window, rolling it first when the
// trade timestamp has moved past the current window's end.
func (t *TickerState) applyTrade(price protocol.Price, quantity protocol.Quantity, ts time.Time, window time.Duration) {
	if !t.initialized {
		t.initialized = true
		t.WindowStart = ts
		t.Open = price
		t.High = price
		t.Low = price
	} else if window > 0 && !ts.Before(t.WindowStart.Add(window)) {
		for !ts.Before(t.WindowStart.Add(window)) {
			t.WindowStart = t.WindowStart.Add(window)
		}
		t.Open = price
		t.High = price
		t.Low = price
		t.BaseVolume = 0
		t.QuoteVolume = 0
		t.TradeCount = 0
	}

	t.Last = price
	if price > t.High {
		t.High = price
	}
	if price < t.Low {
		t.Low = price
	}

	t.BaseVolume += quantity
	t.QuoteVolume += uint64(price) * uint64(quantity)
	t.TradeCount++
}

// Snapshot returns a copy suitable for handing to other goroutines.
func (t *TickerState) Snapshot() TickerSnapshot {
	return TickerSnapshot{
		Symbol:      t.Symbol,
		WindowStart: t.WindowStart,
		Open:        t.Open,
		High:        t.High,
		Low:         t.Low,
		Last:        t.Last,
		BaseVolume:  t.BaseVolume,
		QuoteVolume: t.QuoteVolume,
		TradeCount:  t.TradeCount,
		PriceChange: t.PriceChange(),
	}
}

// TickerSnapshot is an immutable copy of a symbol's ticker state, pushed
// periodically to the persistence writer and rendered onto the ticker
// channel.
type TickerSnapshot struct {
	Symbol      string            `json:"symbol"`
	WindowStart time.Time         `json:"window_start"`
	Open        protocol.Price    `json:"open"`
	High        protocol.Price    `json:"high"`
	Low         protocol.Price    `json:"low"`
	Last        protocol.Price    `json:"last"`
	BaseVolume  protocol.Quantity `json:"base_volume"`
	QuoteVolume uint64            `json:"quote_volume"`
	TradeCount  uint64            `json:"trade_count"`
	PriceChange int64             `json:"price_change"`
}
