package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdmissionDecisions - решения контроля допуска по причине
var AdmissionDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "risk",
		Name:      "admission_decisions_total",
		Help:      "Admission decisions by outcome (accepted or reject reason)",
	},
	[]string{"outcome"},
)
