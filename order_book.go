package match

import (
	"sync/atomic"

	"github.com/0x5487/exchange-core/protocol"
)

// OrderBook is the price-time priority book of a single symbol. It is a
// passive data structure: no goroutine, no locks, no I/O. All methods must
// be called from the engine thread only; external readers see depth via the
// market-data aggregator.
//
// Events returned by the mutating methods are unstamped; the engine assigns
// Sequence and Ts before publishing.
type OrderBook struct {
	symbol   string
	bidQueue *queue
	askQueue *queue

	// arrival is the per-symbol arrival sequence, the tiebreak after price.
	arrival uint64

	// tradeIDs is the engine-owned process-wide trade ID counter.
	tradeIDs *atomic.Uint64
}

// NewOrderBook creates an empty book for symbol. tradeIDs is shared across
// all books so trade IDs are process-unique.
func NewOrderBook(symbol string, tradeIDs *atomic.Uint64) *OrderBook {
	return &OrderBook{
		symbol:   symbol,
		bidQueue: newBuyerQueue(),
		askQueue: newSellerQueue(),
		tradeIDs: tradeIDs,
	}
}

// Symbol returns the symbol this book trades.
func (book *OrderBook) Symbol() string {
	return book.symbol
}

func (book *OrderBook) queues(side protocol.Side) (myQueue, targetQueue *queue) {
	if side == protocol.SideBuy {
		return book.bidQueue, book.askQueue
	}
	return book.askQueue, book.bidQueue
}

// crosses reports whether a limit taker at price can trade against the best
// opposite level at makerPrice.
func crosses(side protocol.Side, price, makerPrice protocol.Price) bool {
	if side == protocol.SideBuy {
		return makerPrice <= price
	}
	return makerPrice >= price
}

// PlaceLimit matches the order against the opposite side while crossing
// prices exist, then rests any residual at its price level's tail. Emits
// OrderAccepted, then Trade + OrderFilled(maker) + OrderFilled(taker) per
// match.
func (book *OrderBook) PlaceLimit(order *Order) []*protocol.Event {
	myQueue, targetQueue := book.queues(order.Side)

	book.arrival++
	order.Arrival = book.arrival

	events := make([]*protocol.Event, 0, 8)
	events = append(events, protocol.NewAcceptedEvent(
		book.symbol, order.ID, order.UserID, order.Side, protocol.OrderKindLimit, order.Price, order.Original))

	for order.Remaining > 0 {
		maker := targetQueue.peekHeadOrder()
		if maker == nil || !crosses(order.Side, order.Price, maker.Price) {
			break
		}

		targetQueue.removeOrder(maker.Price, maker.ID)
		events = book.matchOne(order, maker, events)

		if maker.Remaining > 0 {
			// Maker keeps its time priority at its level.
			targetQueue.insertOrder(maker, true)
		}
	}

	if order.Remaining > 0 {
		myQueue.insertOrder(order, false)
	}

	return events
}

// PlaceMarket matches the order against the opposite side until filled or
// the book side is empty. Market orders never rest: any residual is
// auto-canceled with reason insufficient_liquidity.
func (book *OrderBook) PlaceMarket(order *Order) []*protocol.Event {
	_, targetQueue := book.queues(order.Side)

	book.arrival++
	order.Arrival = book.arrival

	events := make([]*protocol.Event, 0, 8)
	events = append(events, protocol.NewAcceptedEvent(
		book.symbol, order.ID, order.UserID, order.Side, protocol.OrderKindMarket, 0, order.Original))

	for order.Remaining > 0 {
		maker := targetQueue.popHeadOrder()
		if maker == nil {
			break
		}

		events = book.matchOne(order, maker, events)

		if maker.Remaining > 0 {
			targetQueue.insertOrder(maker, true)
		}
	}

	if order.Remaining > 0 {
		events = append(events, protocol.NewCanceledEvent(
			book.symbol, order.ID, order.UserID, order.Side, protocol.OrderKindMarket,
			0, order.Remaining, protocol.CancelReasonInsufficientLiquidity))
	}

	return events
}

// matchOne executes a single match between the incoming taker and the
// resting maker. Trade quantity is min of both remainders, trade price is
// the maker's price. Fill events carry the post-decrement remainders,
// maker first.
func (book *OrderBook) matchOne(taker, maker *Order, events []*protocol.Event) []*protocol.Event {
	quantity := taker.Remaining
	if maker.Remaining < quantity {
		quantity = maker.Remaining
	}

	taker.Remaining -= quantity
	maker.Remaining -= quantity

	tradeID := protocol.TradeID(book.tradeIDs.Add(1))
	events = append(events, protocol.NewTradeEvent(
		book.symbol, tradeID, maker.Price, quantity, taker.Side, maker.ID, taker.ID))
	events = append(events, protocol.NewFilledEvent(
		book.symbol, maker.ID, maker.UserID, quantity, maker.Remaining))
	events = append(events, protocol.NewFilledEvent(
		book.symbol, taker.ID, taker.UserID, quantity, taker.Remaining))

	return events
}

// Cancel removes a resting order. A cancel for an absent order (already
// filled, already canceled, or never placed) is rejected with
// unknown_order; a cancel by a different user is rejected with not_owner.
func (book *OrderBook) Cancel(orderID protocol.OrderID, userID protocol.UserID) []*protocol.Event {
	myQueue := book.askQueue
	order := myQueue.order(orderID)
	if order == nil {
		myQueue = book.bidQueue
		order = myQueue.order(orderID)
	}

	if order == nil {
		return []*protocol.Event{protocol.NewRejectedEvent(
			book.symbol, orderID, userID, protocol.RejectReasonUnknownOrder)}
	}

	if order.UserID != userID {
		return []*protocol.Event{protocol.NewRejectedEvent(
			book.symbol, orderID, userID, protocol.RejectReasonNotOwner)}
	}

	myQueue.removeOrder(order.Price, order.ID)

	return []*protocol.Event{protocol.NewCanceledEvent(
		book.symbol, order.ID, order.UserID, order.Side, order.Kind,
		order.Price, order.Remaining, protocol.CancelReasonUserRequested)}
}

// Depth aggregates queued quantities per price level, up to limit levels
// each side. Pure read, engine thread only.
func (book *OrderBook) Depth(limit int) (bids, asks []protocol.DepthLevel) {
	return book.bidQueue.depth(limit), book.askQueue.depth(limit)
}

// BestBid returns the highest resting bid price.
func (book *OrderBook) BestBid() (protocol.Price, bool) {
	return book.bidQueue.bestPrice()
}

// BestAsk returns the lowest resting ask price.
func (book *OrderBook) BestAsk() (protocol.Price, bool) {
	return book.askQueue.bestPrice()
}

// Stats returns order book queue statistics.
func (book *OrderBook) Stats() BookStats {
	return BookStats{
		AskDepthCount: book.askQueue.depthCount(),
		AskOrderCount: book.askQueue.orderCount(),
		BidDepthCount: book.bidQueue.depthCount(),
		BidOrderCount: book.bidQueue.orderCount(),
	}
}

// BookStats contains statistics about the order book queues.
type BookStats struct {
	AskDepthCount int64
	AskOrderCount int64
	BidDepthCount int64
	BidOrderCount int64
}
