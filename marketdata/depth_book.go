package marketdata

import (
	"github.com/igrmk/treemap/v2"

	"github.com/0x5487/exchange-core/protocol"
)

// trackedOrder is the liquidity an accepted limit order currently
// contributes to the aggregated view.
type trackedOrder struct {
	side      protocol.Side
	price     protocol.Price
	remaining protocol.Quantity
}

// AggregatedBook maintains a simplified view of one symbol's order book,
// tracking only price levels and their aggregated quantities. It is rebuilt
// purely from the event stream and never reads the engine's book: accepted
// limit orders add liquidity, fills and cancels remove it. Market orders
// never rest, so their events are ignored.
type AggregatedBook struct {
	bids   *treemap.TreeMap[protocol.Price, protocol.Quantity]
	asks   *treemap.TreeMap[protocol.Price, protocol.Quantity]
	orders map[protocol.OrderID]*trackedOrder
}

// NewAggregatedBook creates an AggregatedBook with empty sides.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		bids: treemap.NewWithKeyCompare[protocol.Price, protocol.Quantity](func(a, b protocol.Price) bool {
			return a > b
		}),
		asks: treemap.NewWithKeyCompare[protocol.Price, protocol.Quantity](func(a, b protocol.Price) bool {
			return a < b
		}),
		orders: make(map[protocol.OrderID]*trackedOrder),
	}
}

func (ab *AggregatedBook) levels(side protocol.Side) *treemap.TreeMap[protocol.Price, protocol.Quantity] {
	if side == protocol.SideBuy {
		return ab.bids
	}
	return ab.asks
}

func (ab *AggregatedBook) add(side protocol.Side, price protocol.Price, quantity protocol.Quantity) {
	levels := ab.levels(side)
	if current, ok := levels.Get(price); ok {
		levels.Set(price, current+quantity)
	} else {
		levels.Set(price, quantity)
	}
}

func (ab *AggregatedBook) sub(side protocol.Side, price protocol.Price, quantity protocol.Quantity) {
	levels := ab.levels(side)
	current, ok := levels.Get(price)
	if !ok {
		return
	}

	if current <= quantity {
		levels.Del(price)
	} else {
		levels.Set(price, current-quantity)
	}
}

// Apply updates the aggregated state from a book-mutating event. Events
// referencing orders this book never saw rest (market takers) are ignored.
func (ab *AggregatedBook) Apply(event *protocol.Event) {
	switch event.Type {
	case protocol.EventAccepted:
		if event.Kind != protocol.OrderKindLimit {
			return
		}
		ab.orders[event.OrderID] = &trackedOrder{
			side:      event.Side,
			price:     event.Price,
			remaining: event.Quantity,
		}
		ab.add(event.Side, event.Price, event.Quantity)

	case protocol.EventFilled:
		order, ok := ab.orders[event.OrderID]
		if !ok {
			return
		}
		ab.sub(order.side, order.price, event.FilledQuantity)
		order.remaining = event.RemainingQuantity
		if order.remaining == 0 {
			delete(ab.orders, event.OrderID)
		}

	case protocol.EventCanceled:
		order, ok := ab.orders[event.OrderID]
		if !ok {
			return
		}
		ab.sub(order.side, order.price, order.remaining)
		delete(ab.orders, event.OrderID)
	}
}

// Depth returns up to limit aggregated levels per side, best price first.
func (ab *AggregatedBook) Depth(limit int) (bids, asks []protocol.DepthLevel) {
	bids = make([]protocol.DepthLevel, 0, limit)
	for it := ab.bids.Iterator(); it.Valid() && len(bids) < limit; it.Next() {
		bids = append(bids, protocol.DepthLevel{Price: it.Key(), Quantity: it.Value()})
	}

	asks = make([]protocol.DepthLevel, 0, limit)
	for it := ab.asks.Iterator(); it.Valid() && len(asks) < limit; it.Next() {
		asks = append(asks, protocol.DepthLevel{Price: it.Key(), Quantity: it.Value()})
	}

	return bids, asks
}
