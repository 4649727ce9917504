package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	graphqlQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphql_queries_total",
			Help: "Total number of GraphQL queries by result source",
		},
		[]string{"operation", "status"},
	)

	graphqlQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphql_query_duration_seconds",
			Help:    "Duration of GraphQL queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	feedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Total number of live feed events by delivery path",
		},
		[]string{"path"},
	)

	feedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_ws_clients",
			Help: "Number of connected live feed WebSocket clients",
		},
	)
)

// RecordQueryOperation - status is one of cache, network, error
func RecordQueryOperation(operation, status string, duration time.Duration) {
	graphqlQueriesTotal.WithLabelValues(operation, status).Inc()
	graphqlQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordFeedEvent(path string) {
	feedEventsTotal.WithLabelValues(path).Inc()
}
