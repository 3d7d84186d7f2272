package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var clientDrops = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "exchange",
	Subsystem: "ws",
	Name:      "client_drops_total",
	Help:      "Messages dropped because a client's send buffer was full.",
}, []string{"channel"})
