package persist

import (
	"github.com/0x5487/exchange-core/protocol"
)

// tracker accumulates per-order state from lifecycle events so the writer
// can emit one meaningful final row per terminal order. Entries live from
// OrderAccepted until the batch containing the terminal event has been
// flushed (or dropped), at which point the writer evicts them.
type tracker struct {
	orders map[protocol.OrderID]*OrderRow
}

func newTracker() *tracker {
	return &tracker{
		orders: make(map[protocol.OrderID]*OrderRow),
	}
}

// apply folds one event into the tracked state. It returns a final row
// when the event is terminal for its order, nil otherwise.
func (t *tracker) apply(event *protocol.Event) *OrderRow {
	switch event.Type {
	case protocol.EventAccepted:
		t.orders[event.OrderID] = &OrderRow{
			OrderID:   event.OrderID,
			UserID:    event.UserID,
			Symbol:    event.Symbol,
			Side:      event.Side,
			Kind:      event.Kind,
			Price:     event.Price,
			Original:  event.Quantity,
			Remaining: event.Quantity,
			Status:    "open",
			CreatedTs: event.Ts,
			UpdatedTs: event.Ts,
		}

	case protocol.EventFilled:
		row, ok := t.orders[event.OrderID]
		if !ok {
			return nil
		}
		row.Remaining = event.RemainingQuantity
		row.UpdatedTs = event.Ts
		if row.Remaining == 0 {
			row.Status = "filled"
			final := *row
			return &final
		}

	case protocol.EventCanceled:
		row, ok := t.orders[event.OrderID]
		if !ok {
			return nil
		}
		row.Remaining = event.RemainingQuantity
		row.UpdatedTs = event.Ts
		row.Status = "canceled"
		final := *row
		return &final
	}

	return nil
}

// evict removes orders whose terminal row has been flushed.
func (t *tracker) evict(ids []protocol.OrderID) {
	for _, id := range ids {
		delete(t.orders, id)
	}
}

// size returns the number of tracked (non-evicted) orders.
func (t *tracker) size() int {
	return len(t.orders)
}
