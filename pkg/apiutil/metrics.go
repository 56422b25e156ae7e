package apiutil

import "github.com/prometheus/client_golang/prometheus"

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Counter of HTTP requests served.",
		}, []string{"component", "method", "code"})

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flamekv",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Bucketed histogram of HTTP request handling time.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"component", "method"})
)

func init() {
	prometheus.MustRegister(requestCounter)
	prometheus.MustRegister(requestDuration)
}
