package protocol

import "time"

// EventType represents the type of an engine event.
type EventType string

const (
	EventAccepted EventType = "accepted"
	EventRejected EventType = "rejected"
	EventFilled   EventType = "filled"
	EventTrade    EventType = "trade"
	EventCanceled EventType = "canceled"
)

// Event is an entry of the engine's output stream. Sequence is a dense,
// strictly increasing ID stamped by the engine for every event; it totally
// orders all engine output and is used for ordering, deduplication and
// rebuild synchronization in downstream systems.
//
// The struct is a flat union: which fields are meaningful depends on Type.
// Events are immutable once published; consumers must not mutate them.
type Event struct {
	Sequence uint64    `json:"seq"`
	Type     EventType `json:"type"`
	Symbol   string    `json:"symbol"`
	Ts       time.Time `json:"ts"`

	// Order identity; set for accepted, filled and canceled events. Trade
	// events leave both zero and carry MakerOrderID/TakerOrderID instead. A
	// reject carries the user, plus the target's OrderID for a cancel reject
	// (0 for a place reject).
	OrderID OrderID `json:"order_id,omitempty"`
	UserID  UserID  `json:"user_id,omitempty"`

	// Accepted
	Side     Side      `json:"side,omitempty"`
	Kind     OrderKind `json:"kind,omitempty"`
	Price    Price     `json:"price,omitempty"`
	Quantity Quantity  `json:"quantity,omitempty"`

	// Filled; RemainingQuantity is the post-fill remainder, 0 meaning the
	// order is done. Canceled also carries RemainingQuantity (> 0).
	FilledQuantity    Quantity `json:"filled_qty,omitempty"`
	RemainingQuantity Quantity `json:"remaining_qty"`

	// Trade
	TradeID      TradeID `json:"trade_id,omitempty"`
	TakerSide    Side    `json:"taker_side,omitempty"`
	MakerOrderID OrderID `json:"maker_order_id,omitempty"`
	TakerOrderID OrderID `json:"taker_order_id,omitempty"`

	// Rejected / Canceled
	RejectReason RejectReason `json:"reject_reason,omitempty"`
	CancelReason CancelReason `json:"cancel_reason,omitempty"`
}

// Terminal reports whether the event finishes the order's lifecycle:
// a fill that leaves nothing behind, or a cancel.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventFilled:
		return e.RemainingQuantity == 0
	case EventCanceled:
		return true
	}
	return false
}

// MutatesBook reports whether the event changed resting liquidity.
// Rejects never touch the book; a canceled market order never rested.
func (e *Event) MutatesBook() bool {
	switch e.Type {
	case EventAccepted:
		return e.Kind == OrderKindLimit
	case EventFilled:
		return true
	case EventCanceled:
		return e.Kind != OrderKindMarket
	}
	return false
}

// NewAcceptedEvent records that an order entered the engine. For limit
// orders Price is the resting price; for market orders it is 0.
func NewAcceptedEvent(symbol string, orderID OrderID, userID UserID, side Side, kind OrderKind, price Price, quantity Quantity) *Event {
	return &Event{
		Type:     EventAccepted,
		Symbol:   symbol,
		OrderID:  orderID,
		UserID:   userID,
		Side:     side,
		Kind:     kind,
		Price:    price,
		Quantity: quantity,
	}
}

// NewRejectedEvent records that a command was refused without touching the
// book. OrderID is the cancel target's ID for a cancel reject and 0 for a
// place reject.
func NewRejectedEvent(symbol string, orderID OrderID, userID UserID, reason RejectReason) *Event {
	return &Event{
		Type:         EventRejected,
		Symbol:       symbol,
		OrderID:      orderID,
		UserID:       userID,
		RejectReason: reason,
	}
}

// NewFilledEvent records one side of a match. remaining is the post-fill
// remainder of that order.
func NewFilledEvent(symbol string, orderID OrderID, userID UserID, filled, remaining Quantity) *Event {
	return &Event{
		Type:              EventFilled,
		Symbol:            symbol,
		OrderID:           orderID,
		UserID:            userID,
		FilledQuantity:    filled,
		RemainingQuantity: remaining,
	}
}

// NewTradeEvent records a match between a resting maker and an incoming
// taker. Price is always the maker's price.
func NewTradeEvent(symbol string, tradeID TradeID, price Price, quantity Quantity, takerSide Side, makerOrderID, takerOrderID OrderID) *Event {
	return &Event{
		Type:         EventTrade,
		Symbol:       symbol,
		TradeID:      tradeID,
		Price:        price,
		Quantity:     quantity,
		TakerSide:    takerSide,
		MakerOrderID: makerOrderID,
		TakerOrderID: takerOrderID,
	}
}

// NewCanceledEvent records an order leaving the book with remaining
// quantity. Kind and Side are carried so downstream consumers can update
// depth without consulting the book.
func NewCanceledEvent(symbol string, orderID OrderID, userID UserID, side Side, kind OrderKind, price Price, remaining Quantity, reason CancelReason) *Event {
	return &Event{
		Type:              EventCanceled,
		Symbol:            symbol,
		OrderID:           orderID,
		UserID:            userID,
		Side:              side,
		Kind:              kind,
		Price:             price,
		RemainingQuantity: remaining,
		CancelReason:      reason,
	}
}
