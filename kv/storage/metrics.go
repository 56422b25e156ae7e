package storage

import "github.com/prometheus/client_golang/prometheus"

var conflictRetryCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "flamekv",
		Subsystem: "kvs",
		Name:      "append_store_conflict_retries_total",
		Help:      "Counter of append store transactions retried after a conflict.",
	})

func init() {
	prometheus.MustRegister(conflictRetryCounter)
}
