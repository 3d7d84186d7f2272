package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "persist",
		Name:      "batch_flushes_total",
		Help:      "Batches submitted to the store.",
	})

	flushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "persist",
		Name:      "flush_failures_total",
		Help:      "WriteBatch attempts that returned an error.",
	})

	droppedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "persist",
		Name:      "dropped_batches_total",
		Help:      "Batches dropped after retry exhaustion.",
	})

	droppedTickers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "persist",
		Name:      "dropped_tickers_total",
		Help:      "Ticker snapshots dropped on a full channel.",
	})

	channelFull = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "persist",
		Name:      "channel_full_total",
		Help:      "TryEnqueue calls rejected because the channel was full.",
	})
)
