package match

import (
	"time"

	"github.com/0x5487/exchange-core/protocol"
)

// Config holds the recognized tuning options of the core. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	// OrderChannelCapacity bounds the command-in channel. A full channel is
	// the external backpressure point for clients.
	OrderChannelCapacity int

	// PersistenceBatchSize is the max number of events per durable batch.
	PersistenceBatchSize int

	// PersistenceBatchTimeout is the max age of the oldest event in an open
	// batch before a flush is forced.
	PersistenceBatchTimeout time.Duration

	// PersistenceChannelCapacity bounds the broadcaster→writer channel.
	PersistenceChannelCapacity int

	// DepthThrottle is the minimum interval between depth snapshots per
	// symbol.
	DepthThrottle time.Duration

	// DepthLevels is the top-N price levels per side in depth snapshots.
	DepthLevels int

	// TickerWindow is the rolling statistics window.
	TickerWindow time.Duration

	// Markets is the optional symbol whitelist with per-symbol scales. When
	// empty, books are created on first sight of a symbol and scales
	// default to 0.
	Markets []protocol.Market
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		OrderChannelCapacity:       1000,
		PersistenceBatchSize:       100,
		PersistenceBatchTimeout:    100 * time.Millisecond,
		PersistenceChannelCapacity: 10000,
		DepthThrottle:              100 * time.Millisecond,
		DepthLevels:                20,
		TickerWindow:               24 * time.Hour,
	}
}
