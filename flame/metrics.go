package flame

import "github.com/prometheus/client_golang/prometheus"

var (
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "flame",
			Name:      "operations_total",
			Help:      "Counter of operations run by drivers.",
		}, []string{"op", "result"})

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flamekv",
			Subsystem: "flame",
			Name:      "operation_duration_seconds",
			Help:      "Bucketed histogram of operation time across all partitions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20),
		}, []string{"op"})

	jobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "flame",
			Name:      "jobs_total",
			Help:      "Counter of jobs run.",
		}, []string{"job", "result"})
)

func init() {
	prometheus.MustRegister(operationCounter)
	prometheus.MustRegister(operationDuration)
	prometheus.MustRegister(jobCounter)
}
