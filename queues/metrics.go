package queues

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bridgeEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "qd_bridge_events_total",
		Help: "Object events handled by the upload completion bridge, by outcome",
	},
	[]string{"outcome"},
)
