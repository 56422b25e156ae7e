package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	taskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "flame_worker",
			Name:      "tasks_total",
			Help:      "Counter of operation requests handled.",
		}, []string{"op", "result"})

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flamekv",
			Subsystem: "flame_worker",
			Name:      "task_duration_seconds",
			Help:      "Bucketed histogram of the time to run one partition.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20),
		}, []string{"op"})

	outputCellsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flamekv",
			Subsystem: "flame_worker",
			Name:      "output_cells_total",
			Help:      "Counter of cells written to output tables.",
		}, []string{"op"})
)

func init() {
	prometheus.MustRegister(taskCounter)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(outputCellsCounter)
}
