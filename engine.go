package match

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/0x5487/exchange-core/protocol"
)

// engineInput is the internal wrapper for everything entering the engine
// loop: trading commands plus synchronous read requests.
type engineInput struct {
	cmd   *protocol.Command
	depth *depthRequest
}

type depthRequest struct {
	symbol string
	limit  int
	resp   chan DepthSnapshot
}

// DepthSnapshot is the result of a synchronous depth query.
type DepthSnapshot struct {
	Symbol string
	Bids   []protocol.DepthLevel
	Asks   []protocol.DepthLevel
}

// Engine is the single-threaded executor that owns all order books. One
// goroutine (Start) consumes validated commands from a bounded channel,
// mutates the books, stamps every produced event with a dense global
// sequence and a timestamp, and hands the batch to the Publisher.
//
// The engine never blocks on its consumers and never performs I/O. Order
// IDs, trade IDs and event sequences come from atomic counters so external
// observers can read the next values safely; only the engine thread ever
// advances them.
type Engine struct {
	cfg        Config
	isShutdown atomic.Bool

	orderIDs atomic.Uint64
	tradeIDs atomic.Uint64
	eventSeq atomic.Uint64

	// books is owned by the engine goroutine; no lock.
	books map[string]*OrderBook

	// whitelist is nil when symbols are created on first sight.
	whitelist map[string]protocol.Market

	inChan           chan engineInput
	done             chan struct{}
	shutdownComplete chan struct{}

	clock     Clock
	publisher Publisher
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the event timestamp source. Matching itself never
// reads the clock, so injecting a fixed clock makes runs reproducible.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine creates a new engine. When cfg.Markets is non-empty it acts as
// a fixed symbol whitelist and the books are created up front; otherwise
// books are created on first sight of a symbol.
func NewEngine(cfg Config, publisher Publisher, opts ...EngineOption) *Engine {
	engine := &Engine{
		cfg:              cfg,
		books:            make(map[string]*OrderBook),
		inChan:           make(chan engineInput, cfg.OrderChannelCapacity),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		clock:            SystemClock,
		publisher:        publisher,
	}

	if len(cfg.Markets) > 0 {
		engine.whitelist = make(map[string]protocol.Market, len(cfg.Markets))
		for _, market := range cfg.Markets {
			engine.whitelist[market.Symbol] = market
			engine.books[market.Symbol] = NewOrderBook(market.Symbol, &engine.tradeIDs)
		}
	}

	return engine
}

// PlaceOrder submits an order command. It suspends on a full command
// channel (the external backpressure point) until ctx is done, and returns
// ErrShutdown once shutdown has begun.
func (engine *Engine) PlaceOrder(ctx context.Context, cmd *protocol.PlaceOrderCommand) error {
	if cmd == nil || len(cmd.Symbol) == 0 {
		return ErrInvalidParam
	}
	return engine.enqueue(ctx, engineInput{cmd: &protocol.Command{Type: protocol.CmdPlaceOrder, Place: cmd}})
}

// CancelOrder submits a cancellation command.
func (engine *Engine) CancelOrder(ctx context.Context, cmd *protocol.CancelOrderCommand) error {
	if cmd == nil || len(cmd.Symbol) == 0 {
		return ErrInvalidParam
	}
	return engine.enqueue(ctx, engineInput{cmd: &protocol.Command{Type: protocol.CmdCancelOrder, Cancel: cmd}})
}

// EnqueueCommand submits a pre-built command envelope.
func (engine *Engine) EnqueueCommand(ctx context.Context, cmd *protocol.Command) error {
	if cmd == nil || len(cmd.Symbol()) == 0 {
		return ErrInvalidParam
	}
	return engine.enqueue(ctx, engineInput{cmd: cmd})
}

func (engine *Engine) enqueue(ctx context.Context, input engineInput) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	select {
	case engine.inChan <- input:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Depth returns the aggregated depth of a symbol's book. It is thread-safe
// and interacts with the engine loop via a response channel.
func (engine *Engine) Depth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error) {
	if len(symbol) == 0 || limit <= 0 {
		return DepthSnapshot{}, ErrInvalidParam
	}

	respChan := make(chan DepthSnapshot, 1)
	if err := engine.enqueue(ctx, engineInput{depth: &depthRequest{symbol: symbol, limit: limit, resp: respChan}}); err != nil {
		return DepthSnapshot{}, err
	}

	select {
	case snap := <-respChan:
		return snap, nil
	case <-ctx.Done():
		return DepthSnapshot{}, ErrTimeout
	}
}

// OrderSequence returns the last issued order ID.
func (engine *Engine) OrderSequence() uint64 {
	return engine.orderIDs.Load()
}

// EventSequence returns the last issued event sequence.
func (engine *Engine) EventSequence() uint64 {
	return engine.eventSeq.Load()
}

// Start runs the engine loop. It blocks until Shutdown is called and all
// pending commands are drained, then returns nil.
func (engine *Engine) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-engine.done:
			return engine.drain()
		case input := <-engine.inChan:
			engine.process(input)
		}
	}
}

// Shutdown signals the engine to stop accepting new commands and waits
// until everything already enqueued has been processed. Matching of a
// single command is atomic with respect to shutdown.
func (engine *Engine) Shutdown(ctx context.Context) error {
	if engine.isShutdown.CompareAndSwap(false, true) {
		close(engine.done)
	}

	select {
	case <-engine.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands in the channel before returning.
func (engine *Engine) drain() error {
	defer close(engine.shutdownComplete)

	for {
		select {
		case input := <-engine.inChan:
			engine.process(input)
		default:
			return nil
		}
	}
}

func (engine *Engine) process(input engineInput) {
	if input.depth != nil {
		engine.handleDepth(input.depth)
		return
	}

	if input.cmd == nil {
		return
	}

	switch input.cmd.Type {
	case protocol.CmdPlaceOrder:
		if input.cmd.Place != nil {
			engine.handlePlace(input.cmd.Place)
		}
	case protocol.CmdCancelOrder:
		if input.cmd.Cancel != nil {
			engine.handleCancel(input.cmd.Cancel)
		}
	default:
		logger.Warn("unknown command type", "type", input.cmd.Type)
	}
}

func (engine *Engine) handleDepth(req *depthRequest) {
	snap := DepthSnapshot{Symbol: req.symbol}
	if book, ok := engine.books[req.symbol]; ok {
		snap.Bids, snap.Asks = book.Depth(req.limit)
	}

	select {
	case req.resp <- snap:
	default:
	}
}

// book returns the symbol's order book, creating it on first sight unless a
// whitelist is configured. Returns nil for unknown whitelisted symbols.
func (engine *Engine) book(symbol string) *OrderBook {
	if book, ok := engine.books[symbol]; ok {
		return book
	}

	if engine.whitelist != nil {
		return nil
	}

	book := NewOrderBook(symbol, &engine.tradeIDs)
	engine.books[symbol] = book
	return book
}

func (engine *Engine) handlePlace(cmd *protocol.PlaceOrderCommand) {
	if reason := validatePlace(cmd); reason != protocol.RejectReasonNone {
		engine.emit(protocol.NewRejectedEvent(cmd.Symbol, 0, cmd.UserID, reason))
		return
	}

	book := engine.book(cmd.Symbol)
	if book == nil {
		engine.emit(protocol.NewRejectedEvent(cmd.Symbol, 0, cmd.UserID, protocol.RejectReasonUnknownSymbol))
		return
	}

	order := &Order{
		ID:        protocol.OrderID(engine.orderIDs.Add(1)),
		UserID:    cmd.UserID,
		Symbol:    cmd.Symbol,
		Side:      cmd.Side,
		Kind:      cmd.Kind,
		Price:     cmd.Price,
		Original:  cmd.Quantity,
		Remaining: cmd.Quantity,
	}

	switch cmd.Kind {
	case protocol.OrderKindLimit:
		engine.emit(book.PlaceLimit(order)...)
	case protocol.OrderKindMarket:
		engine.emit(book.PlaceMarket(order)...)
	default:
		logger.Warn("unknown order kind", "kind", cmd.Kind, "symbol", cmd.Symbol)
	}
}

func validatePlace(cmd *protocol.PlaceOrderCommand) protocol.RejectReason {
	if cmd.Quantity == 0 {
		return protocol.RejectReasonInvalidQuantity
	}

	switch cmd.Kind {
	case protocol.OrderKindLimit:
		if cmd.Price == 0 {
			return protocol.RejectReasonInvalidPrice
		}
	case protocol.OrderKindMarket:
		// A market order carrying a price is ambiguous (a protective limit
		// is not supported) and is refused rather than guessed at.
		if cmd.Price != 0 {
			return protocol.RejectReasonInvalidPrice
		}
	}

	return protocol.RejectReasonNone
}

func (engine *Engine) handleCancel(cmd *protocol.CancelOrderCommand) {
	if engine.whitelist != nil {
		if _, ok := engine.whitelist[cmd.Symbol]; !ok {
			engine.emit(protocol.NewRejectedEvent(cmd.Symbol, cmd.OrderID, cmd.UserID, protocol.RejectReasonUnknownSymbol))
			return
		}
	}

	book, ok := engine.books[cmd.Symbol]
	if !ok {
		// No book means the order cannot exist.
		engine.emit(protocol.NewRejectedEvent(cmd.Symbol, cmd.OrderID, cmd.UserID, protocol.RejectReasonUnknownOrder))
		return
	}

	engine.emit(book.Cancel(cmd.OrderID, cmd.UserID)...)
}

// emit stamps each event with a fresh global sequence and a timestamp from
// the injected clock, then publishes the batch. The publisher contract
// requires Publish to not block the caller.
func (engine *Engine) emit(events ...*protocol.Event) {
	if len(events) == 0 {
		return
	}

	now := engine.clock()
	for _, event := range events {
		event.Sequence = engine.eventSeq.Add(1)
		event.Ts = now
	}

	engine.publisher.Publish(events...)
}
