package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "manager",
			Name:      "downloads_total",
			Help:      "Finished artifact downloads by outcome",
		},
		[]string{"outcome"},
	)

	switchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "manager",
			Name:      "switches_total",
			Help:      "Switch workflows by terminal phase",
		},
		[]string{"phase"},
	)

	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "manager",
			Name:      "restarts_total",
			Help:      "Self-restart attempts by reason and outcome",
		},
		[]string{"reason", "outcome"},
	)

	queueWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vllmgate",
			Subsystem: "manager",
			Name:      "upstream_queue_waiting",
			Help:      "Last scraped number of requests waiting in the inference queue",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, switchesTotal, restartsTotal, queueWaiting)
}
