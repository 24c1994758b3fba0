package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publishes_total",
			Help: "Total broker publish attempts",
		},
		[]string{"variant", "result"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_deliveries_total",
			Help: "Messages delivered to subscriber callbacks",
		},
		[]string{"variant"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_dropped_total",
			Help: "Messages dropped because a subscriber queue was full",
		},
		[]string{"variant"},
	)
)
