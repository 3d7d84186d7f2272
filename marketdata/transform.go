package marketdata

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/0x5487/exchange-core/protocol"
)

// Message is an outward-facing envelope handed to the external publisher
// (pub/sub broker client and/or WebSocket broadcaster).
type Message struct {
	Channel string
	Payload []byte
}

// Channel naming. Symbols are upper-snake ASCII tokens (e.g. SOL_USDC).
func TradeChannel(symbol string) string {
	return "trade:" + symbol
}

func DepthChannel(symbol string) string {
	return "depth:" + symbol
}

func TickerChannel(symbol string) string {
	return "ticker:" + symbol
}

func UserChannel(userID protocol.UserID) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// TradePayload is the public trade message.
type TradePayload struct {
	TradeID   protocol.TradeID `json:"trade_id"`
	Symbol    string           `json:"symbol"`
	Price     string           `json:"price"`
	Quantity  string           `json:"quantity"`
	TakerSide string           `json:"taker_side"`
	Ts        int64            `json:"ts"`
}

// DepthPayload is the public throttled depth snapshot. Levels are
// [price, quantity] string pairs, best price first.
type DepthPayload struct {
	Symbol string      `json:"symbol"`
	Bids   [][2]string `json:"bids"`
	Asks   [][2]string `json:"asks"`
	Ts     int64       `json:"ts"`
}

// TickerPayload is the public rolling statistics message.
type TickerPayload struct {
	Symbol      string `json:"symbol"`
	Last        string `json:"last"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	BaseVolume  string `json:"base_volume"`
	QuoteVolume string `json:"quote_volume"`
	PriceChange string `json:"price_change"`
	TradeCount  uint64 `json:"trade_count"`
	Ts          int64  `json:"ts"`
}

// OrderUpdatePayload is the private per-user lifecycle message.
type OrderUpdatePayload struct {
	Type         string           `json:"type"` // ack, reject, fill, cancel
	OrderID      protocol.OrderID `json:"order_id,omitempty"`
	UserID       protocol.UserID  `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side,omitempty"`
	Kind         string           `json:"kind,omitempty"`
	Price        string           `json:"price,omitempty"`
	Quantity     string           `json:"quantity,omitempty"`
	FilledQty    string           `json:"filled_qty,omitempty"`
	RemainingQty string           `json:"remaining_qty,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Ts           int64            `json:"ts"`
}

// Transformer converts internal events and derived state into outward
// message envelopes. Fixed-point integers are rendered as decimal strings
// using the per-symbol scales; unknown symbols render with scale 0.
type Transformer struct {
	serializer protocol.Serializer
	markets    map[string]protocol.Market
}

// NewTransformer creates a Transformer. markets may be nil.
func NewTransformer(serializer protocol.Serializer, markets []protocol.Market) *Transformer {
	index := make(map[string]protocol.Market, len(markets))
	for _, market := range markets {
		index[market.Symbol] = market
	}
	return &Transformer{serializer: serializer, markets: index}
}

func (t *Transformer) scales(symbol string) (priceScale, quantityScale int32) {
	market, ok := t.markets[symbol]
	if !ok {
		return 0, 0
	}
	return market.PriceScale, market.QuantityScale
}

func render(value int64, scale int32) string {
	return decimal.New(value, -scale).String()
}

// Price renders a scaled price for symbol as a decimal string.
func (t *Transformer) Price(symbol string, price protocol.Price) string {
	priceScale, _ := t.scales(symbol)
	return render(int64(price), priceScale)
}

// Quantity renders a scaled quantity for symbol as a decimal string.
func (t *Transformer) Quantity(symbol string, quantity protocol.Quantity) string {
	_, quantityScale := t.scales(symbol)
	return render(int64(quantity), quantityScale)
}

// Trade builds the public trade message for a Trade event.
func (t *Transformer) Trade(event *protocol.Event) (Message, error) {
	payload, err := t.serializer.Marshal(&TradePayload{
		TradeID:   event.TradeID,
		Symbol:    event.Symbol,
		Price:     t.Price(event.Symbol, event.Price),
		Quantity:  t.Quantity(event.Symbol, event.Quantity),
		TakerSide: event.TakerSide.String(),
		Ts:        event.Ts.UnixMilli(),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: TradeChannel(event.Symbol), Payload: payload}, nil
}

// Depth builds the public depth message from an aggregated snapshot.
func (t *Transformer) Depth(symbol string, bids, asks []protocol.DepthLevel, ts int64) (Message, error) {
	payload, err := t.serializer.Marshal(&DepthPayload{
		Symbol: symbol,
		Bids:   t.renderLevels(symbol, bids),
		Asks:   t.renderLevels(symbol, asks),
		Ts:     ts,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: DepthChannel(symbol), Payload: payload}, nil
}

func (t *Transformer) renderLevels(symbol string, levels []protocol.DepthLevel) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, level := range levels {
		out = append(out, [2]string{
			t.Price(symbol, level.Price),
			t.Quantity(symbol, level.Quantity),
		})
	}
	return out
}

// Ticker builds the public ticker message from a snapshot.
func (t *Transformer) Ticker(snap TickerSnapshot, ts int64) (Message, error) {
	priceScale, quantityScale := t.scales(snap.Symbol)
	payload, err := t.serializer.Marshal(&TickerPayload{
		Symbol:      snap.Symbol,
		Last:        render(int64(snap.Last), priceScale),
		Open:        render(int64(snap.Open), priceScale),
		High:        render(int64(snap.High), priceScale),
		Low:         render(int64(snap.Low), priceScale),
		BaseVolume:  render(int64(snap.BaseVolume), quantityScale),
		QuoteVolume: render(int64(snap.QuoteVolume), priceScale+quantityScale),
		PriceChange: render(snap.PriceChange, priceScale),
		TradeCount:  snap.TradeCount,
		Ts:          ts,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: TickerChannel(snap.Symbol), Payload: payload}, nil
}

// OrderUpdate builds the private lifecycle message for accepted, rejected,
// filled and canceled events.
func (t *Transformer) OrderUpdate(event *protocol.Event) (Message, error) {
	update := &OrderUpdatePayload{
		OrderID: event.OrderID,
		UserID:  event.UserID,
		Symbol:  event.Symbol,
		Ts:      event.Ts.UnixMilli(),
	}

	switch event.Type {
	case protocol.EventAccepted:
		update.Type = "ack"
		update.Side = event.Side.String()
		update.Kind = string(event.Kind)
		if event.Kind == protocol.OrderKindLimit {
			update.Price = t.Price(event.Symbol, event.Price)
		}
		update.Quantity = t.Quantity(event.Symbol, event.Quantity)
	case protocol.EventRejected:
		update.Type = "reject"
		update.Reason = string(event.RejectReason)
	case protocol.EventFilled:
		update.Type = "fill"
		update.FilledQty = t.Quantity(event.Symbol, event.FilledQuantity)
		update.RemainingQty = t.Quantity(event.Symbol, event.RemainingQuantity)
	case protocol.EventCanceled:
		update.Type = "cancel"
		update.RemainingQty = t.Quantity(event.Symbol, event.RemainingQuantity)
		update.Reason = string(event.CancelReason)
	default:
		return Message{}, nil
	}

	payload, err := t.serializer.Marshal(update)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: UserChannel(event.UserID), Payload: payload}, nil
}
