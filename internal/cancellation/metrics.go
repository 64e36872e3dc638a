package cancellation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancellation_requests_total",
			Help: "Account cancellation requests by outcome",
		},
		[]string{"outcome"},
	)

	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancellation_tasks_processed_total",
			Help: "Deletion tasks processed by result",
		},
		[]string{"result"},
	)

	drainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cancellation_drain_duration_seconds",
			Help:    "Duration of one deletion queue drain",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)
)
