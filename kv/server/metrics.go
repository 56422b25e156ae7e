package server

import "github.com/prometheus/client_golang/prometheus"

var (
	replicaForwardCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "kvs",
			Name:      "replica_forwards_total",
			Help:      "Counter of writes forwarded to replicas.",
		}, []string{"result"})

	scannedRowsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "kvs",
			Name:      "scanned_rows_total",
			Help:      "Counter of rows streamed by range scans.",
		})

	batchCellsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flamekv",
			Subsystem: "kvs",
			Name:      "batch_cells",
			Help:      "Bucketed histogram of cells per batch write.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		})
)

func init() {
	prometheus.MustRegister(replicaForwardCounter)
	prometheus.MustRegister(scannedRowsCounter)
	prometheus.MustRegister(batchCellsHistogram)
}
