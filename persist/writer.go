// Package persist turns the lossless event stream into batched durable
// writes. The writer consumes events through a bounded channel, groups
// them into per-table write sets, and flushes when either the batch size
// or the batch timeout threshold trips. Failures are retried with bounded
// exponential backoff and never propagate back to the engine.
package persist

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/0x5487/exchange-core/marketdata"
	"github.com/0x5487/exchange-core/protocol"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// Config holds the writer's tuning options.
type Config struct {
	// BatchSize is the max number of buffered events per flush.
	BatchSize int

	// BatchTimeout is the max age of the oldest buffered event before a
	// flush is forced.
	BatchTimeout time.Duration

	// ChannelCapacity bounds the input channel; a full channel is the
	// persistence backpressure point.
	ChannelCapacity int

	// Retry policy for transient store failures.
	RetryBase   time.Duration
	RetryFactor int
	RetryCap    time.Duration
	MaxRetries  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		BatchTimeout:    100 * time.Millisecond,
		ChannelCapacity: 10000,
		RetryBase:       50 * time.Millisecond,
		RetryFactor:     2,
		RetryCap:        5 * time.Second,
		MaxRetries:      5,
	}
}

// Writer is the batched persistence consumer. Run owns all batching state;
// Enqueue/TryEnqueue/EnqueueTicker are the only concurrent entry points.
type Writer struct {
	cfg   Config
	store Store

	in       chan *protocol.Event
	tickerIn chan marketdata.TickerSnapshot

	closeOnce sync.Once
	closed    chan struct{}
	finished  chan struct{}

	tracker *tracker

	// markets is written with the first flush.
	markets []protocol.Market
}

// NewWriter creates a writer targeting store. markets, when non-empty, is
// written once with the first batch.
func NewWriter(cfg Config, store Store, markets []protocol.Market) *Writer {
	return &Writer{
		cfg:      cfg,
		store:    store,
		in:       make(chan *protocol.Event, cfg.ChannelCapacity),
		tickerIn: make(chan marketdata.TickerSnapshot, 256),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
		tracker:  newTracker(),
		markets:  markets,
	}
}

// Enqueue hands an event to the writer, blocking while the bounded channel
// is full. Blocking here is the designed persistence backpressure: the
// caller is a bus subscription pump, never the engine.
func (w *Writer) Enqueue(ctx context.Context, event *protocol.Event) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	select {
	case w.in <- event:
		return nil
	case <-w.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue is the non-blocking variant. ErrChannelFull is the
// persistence-lag signal for producers that must not block.
func (w *Writer) TryEnqueue(event *protocol.Event) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	select {
	case w.in <- event:
		return nil
	default:
		channelFull.Inc()
		return ErrChannelFull
	}
}

// EnqueueTicker implements marketdata.TickerStore. Ticker snapshots are
// periodic; one may be dropped on a full channel without losing data the
// next snapshot won't carry.
func (w *Writer) EnqueueTicker(snap marketdata.TickerSnapshot) {
	select {
	case w.tickerIn <- snap:
	default:
		droppedTickers.Inc()
	}
}

// Close stops intake. Run drains what was already enqueued, performs the
// final flush and returns.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
	})
}

// Done is closed when Run has finished its final flush.
func (w *Writer) Done() <-chan struct{} {
	return w.finished
}

// Run is the writer loop. It returns after Close (or ctx cancellation)
// once buffered input is drained and the outstanding batch has been given
// one final write attempt.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.finished)

	batch := w.newBatch()
	evictions := make([]protocol.OrderID, 0, 16)

	var timer *time.Timer
	var timeout <-chan time.Time

	armTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.cfg.BatchTimeout)
			timeout = timer.C
		}
	}
	disarmTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timeout = nil
		}
	}

	flush := func(final bool) {
		if batch.Empty() {
			return
		}
		w.flush(ctx, batch, final)
		w.tracker.evict(evictions)
		evictions = evictions[:0]
		batch = &Batch{}
		disarmTimer()
	}

	for {
		select {
		case event := <-w.in:
			w.addEvent(batch, event, &evictions)
			if batch.events >= w.cfg.BatchSize {
				flush(false)
			} else {
				armTimer()
			}

		case snap := <-w.tickerIn:
			batch.Tickers = append(batch.Tickers, TickerRow{TickerSnapshot: snap, Ts: time.Now().UTC()})
			armTimer()

		case <-timeout:
			timer = nil
			timeout = nil
			flush(false)

		case <-w.closed:
			w.drain(batch, &evictions)
			flush(true)
			return

		case <-ctx.Done():
			w.drain(batch, &evictions)
			flush(true)
			return
		}
	}
}

// drain consumes whatever is still buffered in the channels.
func (w *Writer) drain(batch *Batch, evictions *[]protocol.OrderID) {
	for {
		select {
		case event := <-w.in:
			w.addEvent(batch, event, evictions)
		case snap := <-w.tickerIn:
			batch.Tickers = append(batch.Tickers, TickerRow{TickerSnapshot: snap, Ts: time.Now().UTC()})
		default:
			return
		}
	}
}

func (w *Writer) newBatch() *Batch {
	batch := &Batch{}
	if len(w.markets) > 0 {
		batch.Markets = w.markets
		w.markets = nil
	}
	return batch
}

func (w *Writer) addEvent(batch *Batch, event *protocol.Event, evictions *[]protocol.OrderID) {
	batch.events++

	if final := w.tracker.apply(event); final != nil {
		batch.Orders = append(batch.Orders, *final)
		*evictions = append(*evictions, final.OrderID)
	}

	switch event.Type {
	case protocol.EventTrade:
		batch.Trades = append(batch.Trades, TradeRow{
			Sequence:     event.Sequence,
			TradeID:      event.TradeID,
			Symbol:       event.Symbol,
			Price:        event.Price,
			Quantity:     event.Quantity,
			TakerSide:    event.TakerSide,
			MakerOrderID: event.MakerOrderID,
			TakerOrderID: event.TakerOrderID,
			Ts:           event.Ts,
		})

	case protocol.EventCanceled:
		batch.Cancels = append(batch.Cancels, CancelRow{
			Sequence:  event.Sequence,
			OrderID:   event.OrderID,
			UserID:    event.UserID,
			Symbol:    event.Symbol,
			Remaining: event.RemainingQuantity,
			Reason:    event.CancelReason,
			Ts:        event.Ts,
		})
	}
}

// flush submits the batch, retrying transient failures with exponential
// backoff. The final flush at shutdown gets a single attempt. A batch that
// exhausts its retries is dropped; the real-time event stream is
// unaffected.
func (w *Writer) flush(ctx context.Context, batch *Batch, final bool) {
	batchFlushes.Inc()

	attempts := w.cfg.MaxRetries
	if final {
		attempts = 1
	}

	backoff := w.cfg.RetryBase
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.store.WriteBatch(ctx, batch)
		if err == nil {
			return
		}

		flushFailures.Inc()
		logger.Warn("store write failed",
			"error", err,
			"attempt", attempt,
			"orders", len(batch.Orders),
			"trades", len(batch.Trades),
			"cancels", len(batch.Cancels))

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			attempt = attempts
		}

		backoff *= time.Duration(w.cfg.RetryFactor)
		if backoff > w.cfg.RetryCap {
			backoff = w.cfg.RetryCap
		}
	}

	droppedBatches.Inc()
	logger.Error("batch dropped after retry exhaustion",
		"orders", len(batch.Orders),
		"trades", len(batch.Trades),
		"cancels", len(batch.Cancels),
		"tickers", len(batch.Tickers))
}
