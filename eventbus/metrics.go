package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "eventbus",
		Name:      "dropped_events_total",
		Help:      "Events discarded by drop-oldest subscriptions.",
	}, []string{"subscriber"})

	pendingEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "exchange",
		Subsystem: "eventbus",
		Name:      "pending_events",
		Help:      "Buffered events per subscription (consumer lag).",
	}, []string{"subscriber"})
)
