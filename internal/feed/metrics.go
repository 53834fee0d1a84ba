package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики источников цен ============

// QuotesServed - ответы GetPrice по уровню источника
var QuotesServed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "quotes_served_total",
		Help:      "Price quotes served by source tier",
	},
	[]string{"tier"},
)

// TierFailures - отказы уровня (устаревшая цена, ошибка сети, нет данных)
var TierFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "tier_failures_total",
		Help:      "Provider tier failures by reason",
	},
	[]string{"tier", "reason"},
)

// FeedDegraded - все уровни исчерпаны для символа
var FeedDegraded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "degraded_total",
		Help:      "GetPrice calls where every tier was exhausted",
	},
	[]string{"symbol"},
)

// DroppedDeltas - delta до snapshot
var DroppedDeltas = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "dropped_deltas_total",
		Help:      "Delta updates dropped because no snapshot was received yet",
	},
	[]string{"symbol"},
)

// ReconnectAttempts - попытки переподключения потока
var ReconnectAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "reconnect_attempts_total",
		Help:      "Stream reconnect attempts",
	},
)

// ReconnectCeilingReached - алерты исчерпания попыток
var ReconnectCeilingReached = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "reconnect_ceiling_reached_total",
		Help:      "Times the reconnect attempt ceiling was reached",
	},
)

// StreamConnected - 1 если поток подключен
var StreamConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "feed",
		Name:      "stream_connected",
		Help:      "1 when the streaming source is connected",
	},
)
