package upstream

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream request attempts by connection kind and outcome",
		},
		[]string{"conn", "outcome"},
	)

	poolResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "upstream",
			Name:      "pool_resets_total",
			Help:      "Pooled upstream clients replaced after a connection error",
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, poolResetsTotal)
}

func observeAttempt(fresh bool, err error) {
	conn := "pooled"
	if fresh {
		conn = "fresh"
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsTransient(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	attemptsTotal.WithLabelValues(conn, outcome).Inc()
}
