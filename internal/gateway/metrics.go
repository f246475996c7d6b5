package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anpx",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Forwarded HTTP requests by response status code.",
	}, []string{"code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "anpx",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "End-to-end latency of forwarded requests.",
		Buckets:   prometheus.DefBuckets,
	})

	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anpx",
		Subsystem: "gateway",
		Name:      "receiver_connections",
		Help:      "Currently registered receiver connections.",
	})
)
