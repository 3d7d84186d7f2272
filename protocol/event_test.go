package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTerminal(t *testing.T) {
	full := NewFilledEvent("SOL_USDC", 1, 1, 5, 0)
	assert.True(t, full.Terminal())

	partial := NewFilledEvent("SOL_USDC", 1, 1, 3, 2)
	assert.False(t, partial.Terminal())

	canceled := NewCanceledEvent("SOL_USDC", 1, 1, SideBuy, OrderKindLimit, 100, 2, CancelReasonUserRequested)
	assert.True(t, canceled.Terminal())

	accepted := NewAcceptedEvent("SOL_USDC", 1, 1, SideBuy, OrderKindLimit, 100, 5)
	assert.False(t, accepted.Terminal())
}

func TestEventMutatesBook(t *testing.T) {
	assert.True(t, NewAcceptedEvent("S", 1, 1, SideBuy, OrderKindLimit, 100, 5).MutatesBook())
	assert.False(t, NewAcceptedEvent("S", 1, 1, SideBuy, OrderKindMarket, 0, 5).MutatesBook())
	assert.True(t, NewFilledEvent("S", 1, 1, 5, 0).MutatesBook())
	assert.False(t, NewTradeEvent("S", 1, 100, 5, SideBuy, 1, 2).MutatesBook())
	assert.True(t, NewCanceledEvent("S", 1, 1, SideBuy, OrderKindLimit, 100, 5, CancelReasonUserRequested).MutatesBook())
	assert.False(t, NewCanceledEvent("S", 1, 1, SideBuy, OrderKindMarket, 0, 5, CancelReasonInsufficientLiquidity).MutatesBook())
	assert.False(t, NewRejectedEvent("S", 0, 1, RejectReasonInvalidQuantity).MutatesBook())
}

func TestEventRoundTrip(t *testing.T) {
	event := NewTradeEvent("SOL_USDC", 42, 100, 7, SideSell, 5, 6)
	event.Sequence = 99
	event.Ts = time.UnixMilli(1700000000000).UTC()

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *event, decoded)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, "buy", SideBuy.String())
	assert.Equal(t, "sell", SideSell.String())
}
