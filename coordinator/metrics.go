package coordinator

import "github.com/prometheus/client_golang/prometheus"

var membershipGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "flamekv",
		Subsystem: "coordinator",
		Name:      "workers",
		Help:      "Number of live workers known to the coordinator.",
	}, []string{"coordinator"})

func init() {
	prometheus.MustRegister(membershipGauge)
}
