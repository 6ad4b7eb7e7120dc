package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shuttle_presence", Name: "sessions_started_total", Help: "Sessions started, by role"},
		[]string{"role"},
	)
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shuttle_presence", Name: "sessions_ended_total", Help: "Sessions ended, by role and reason"},
		[]string{"role", "reason"},
	)
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_presence", Name: "broadcasts_total", Help: "Snapshot broadcasts sent"})
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shuttle_presence",
		Name:      "broadcast_fanout_clients",
		Help:      "Connected clients per broadcast",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "shuttle_presence", Name: "connected_clients", Help: "Currently connected clients"})
	EventErrors      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shuttle_presence", Name: "event_errors_total", Help: "Client events rejected or failed, by kind"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shuttle_presence", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shuttle_presence",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
