package confluence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalsEvaluated - результаты конвейера: signal или причина отказа
var SignalsEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "signals",
		Name:      "evaluations_total",
		Help:      "Pipeline evaluations by outcome",
	},
	[]string{"symbol", "outcome"},
)
