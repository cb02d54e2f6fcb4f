package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_writer_processed_total",
		Help: "Deliveries handled by the event writer.",
	})
	linkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_writer_linked_total",
		Help: "Events newly linked into a session chain.",
	})
	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_writer_duplicates_total",
		Help: "Redelivered events absorbed as no-ops.",
	})
	failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventflow_writer_failures_total",
		Help: "Deliveries that failed to decode or link and were not acknowledged.",
	})
)
