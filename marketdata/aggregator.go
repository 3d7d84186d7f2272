// Package marketdata derives outward-facing market state from the engine's
// event stream. The aggregator never reads the order books and performs no
// I/O: it consumes events, maintains per-symbol derived state, and returns
// message envelopes for an external publisher.
package marketdata

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/0x5487/exchange-core/protocol"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// PublishFunc receives outward message envelopes. It must not block for
// long; the real-time fan-out behind it applies its own drop policy.
type PublishFunc func(Message)

// TickerStore receives periodic ticker snapshots for durable storage.
type TickerStore interface {
	EnqueueTicker(TickerSnapshot)
}

// Config holds the aggregator's tuning options.
type Config struct {
	// DepthThrottle is the minimum interval between depth snapshots per
	// symbol. Depth is published only for symbols whose book changed.
	DepthThrottle time.Duration

	// DepthLevels caps snapshot depth per side.
	DepthLevels int

	// TickerWindow is the rolling statistics window.
	TickerWindow time.Duration

	// Markets supplies per-symbol scales for decimal rendering.
	Markets []protocol.Market
}

// Aggregator consumes engine events and maintains per-symbol tickers and
// aggregated depth. State is owned by the Run goroutine; Process and the
// emit methods must not be called concurrently with it.
type Aggregator struct {
	cfg         Config
	transformer *Transformer
	publish     PublishFunc
	tickerStore TickerStore
	clock       func() time.Time

	books       map[string]*AggregatedBook
	tickers     map[string]*TickerState
	depthDirty  map[string]struct{}
	tickerDirty map[string]struct{}
}

// AggregatorOption configures optional aggregator behavior.
type AggregatorOption func(*Aggregator)

// WithTickerStore wires the periodic ticker snapshot sink.
func WithTickerStore(store TickerStore) AggregatorOption {
	return func(a *Aggregator) {
		a.tickerStore = store
	}
}

// WithAggregatorClock overrides the throttle-loop timestamp source.
func WithAggregatorClock(clock func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

// NewAggregator creates an aggregator publishing through publish.
func NewAggregator(cfg Config, serializer protocol.Serializer, publish PublishFunc, opts ...AggregatorOption) *Aggregator {
	agg := &Aggregator{
		cfg:         cfg,
		transformer: NewTransformer(serializer, cfg.Markets),
		publish:     publish,
		clock:       func() time.Time { return time.Now().UTC() },
		books:       make(map[string]*AggregatedBook),
		tickers:     make(map[string]*TickerState),
		depthDirty:  make(map[string]struct{}),
		tickerDirty: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(agg)
	}

	return agg
}

// Transformer exposes the aggregator's transformer for external renderers.
func (a *Aggregator) Transformer() *Transformer {
	return a.transformer
}

func (a *Aggregator) book(symbol string) *AggregatedBook {
	book, ok := a.books[symbol]
	if !ok {
		book = NewAggregatedBook()
		a.books[symbol] = book
	}
	return book
}

func (a *Aggregator) ticker(symbol string) *TickerState {
	ticker, ok := a.tickers[symbol]
	if !ok {
		ticker = newTickerState(symbol)
		a.tickers[symbol] = ticker
	}
	return ticker
}

// Process folds one event into the derived state and returns the messages
// to publish immediately (trade, ticker and user lifecycle messages).
// Depth is not emitted here; it accumulates behind the throttle. Feeding
// the same event prefix in any chunking yields the same state.
func (a *Aggregator) Process(event *protocol.Event) []Message {
	if event.MutatesBook() {
		a.book(event.Symbol).Apply(event)
		a.depthDirty[event.Symbol] = struct{}{}
	}

	var out []Message

	switch event.Type {
	case protocol.EventTrade:
		ticker := a.ticker(event.Symbol)
		ticker.applyTrade(event.Price, event.Quantity, event.Ts, a.cfg.TickerWindow)
		a.tickerDirty[event.Symbol] = struct{}{}

		if msg, err := a.transformer.Trade(event); err == nil {
			out = append(out, msg)
		} else {
			logger.Error("failed to render trade message", "error", err, "symbol", event.Symbol)
		}
		if msg, err := a.transformer.Ticker(ticker.Snapshot(), event.Ts.UnixMilli()); err == nil {
			out = append(out, msg)
		} else {
			logger.Error("failed to render ticker message", "error", err, "symbol", event.Symbol)
		}

	case protocol.EventAccepted, protocol.EventRejected, protocol.EventFilled, protocol.EventCanceled:
		if msg, err := a.transformer.OrderUpdate(event); err == nil && msg.Channel != "" {
			out = append(out, msg)
		} else if err != nil {
			logger.Error("failed to render order update", "error", err, "symbol", event.Symbol)
		}
	}

	return out
}

// EmitDepth returns depth messages for every symbol whose book changed
// since the last emit, and clears the dirty flags.
func (a *Aggregator) EmitDepth() []Message {
	if len(a.depthDirty) == 0 {
		return nil
	}

	now := a.clock().UnixMilli()
	out := make([]Message, 0, len(a.depthDirty))

	for symbol := range a.depthDirty {
		bids, asks := a.books[symbol].Depth(a.cfg.DepthLevels)
		msg, err := a.transformer.Depth(symbol, bids, asks, now)
		if err != nil {
			logger.Error("failed to render depth message", "error", err, "symbol", symbol)
			continue
		}
		out = append(out, msg)
	}

	a.depthDirty = make(map[string]struct{})
	return out
}

// FlushTickers pushes snapshots of changed tickers to the ticker store.
// When all is true every known ticker is pushed, used for the final flush
// at shutdown.
func (a *Aggregator) FlushTickers(all bool) {
	if a.tickerStore == nil {
		return
	}

	if all {
		for _, ticker := range a.tickers {
			a.tickerStore.EnqueueTicker(ticker.Snapshot())
		}
	} else {
		for symbol := range a.tickerDirty {
			a.tickerStore.EnqueueTicker(a.tickers[symbol].Snapshot())
		}
	}

	a.tickerDirty = make(map[string]struct{})
}

// Run consumes events until the channel closes or ctx is cancelled. A
// time-driven loop at the throttle period emits depth snapshots for dirty
// symbols and pushes ticker snapshots to the store.
func (a *Aggregator) Run(ctx context.Context, events <-chan *protocol.Event) {
	throttle := time.NewTicker(a.cfg.DepthThrottle)
	defer throttle.Stop()

	flush := func(msgs []Message) {
		for _, msg := range msgs {
			a.publish(msg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush(a.EmitDepth())
			a.FlushTickers(true)
			return

		case event, ok := <-events:
			if !ok {
				flush(a.EmitDepth())
				a.FlushTickers(true)
				return
			}
			flush(a.Process(event))

		case <-throttle.C:
			flush(a.EmitDepth())
			a.FlushTickers(false)
		}
	}
}
