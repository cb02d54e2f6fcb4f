package badgerq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_queue_enqueued_total",
		Help: "Messages durably written to the event queue.",
	})
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_queue_delivered_total",
		Help: "Messages handed to a consumer, including redeliveries.",
	})
	ackedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_queue_acked_total",
		Help: "Messages acknowledged and removed from the queue.",
	})
)
