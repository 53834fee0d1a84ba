package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики жизненного цикла позиций
// ============================================================

// ============ Метрики латентности ============

// CycleDuration - длительность полного прохода конвейера по всем символам
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full analysis cycle over all tracked symbols",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
)

// IntentLatency - время от постановки намерения до его исполнения владельцем
var IntentLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "intent_latency_ms",
		Help:      "Time from intent submission to completion in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
	},
	[]string{"intent"},
)

// ============ Счётчики событий ============

// PositionsOpened - открытые позиции
var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "positions_opened_total",
		Help:      "Positions opened by symbol and signal source",
	},
	[]string{"symbol", "source"},
)

// PositionsClosed - закрытые позиции по причине
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "positions_closed_total",
		Help:      "Positions closed by reason",
	},
	[]string{"reason"},
)

// PositionsCancelled - отменённые до открытия
var PositionsCancelled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "positions_cancelled_total",
		Help:      "Admitted positions cancelled before opening",
	},
)

// SymbolsSkipped - символы, пропущенные в цикле
var SymbolsSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "symbols_skipped_total",
		Help:      "Symbols skipped in a cycle by reason",
	},
	[]string{"symbol", "reason"},
)

// SignalsExpired - сигналы, истёкшие или признанные недействительными
var SignalsExpired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "signals_retired_total",
		Help:      "Live signals retired without a position by final status",
	},
	[]string{"status"},
)

// EmergencyClosures - аварийные закрытия
var EmergencyClosures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "emergency_closures_total",
		Help:      "Emergency closures by condition kind",
	},
	[]string{"kind"},
)

// EODSweeps - запуски закрытия торгового дня
var EODSweeps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "eod_sweeps_total",
		Help:      "EOD sweeps by outcome (executed, duplicate, failed)",
	},
	[]string{"outcome"},
)

// DurabilityWarnings - записи в хранилище, потерянные после всех повторов
var DurabilityWarnings = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "durability_warnings_total",
		Help:      "Store writes abandoned after retries by operation",
	},
	[]string{"op"},
)

// ============ Состояние портфеля ============

// BalanceGauge - текущий баланс
var BalanceGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "balance",
		Help:      "Current account balance",
	},
)

// OpenPositionsGauge - открытые позиции
var OpenPositionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "open_positions",
		Help:      "Number of open positions",
	},
)

// OpenRiskGauge - Σ risk_amount открытых позиций
var OpenRiskGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "open_risk",
		Help:      "Sum of risk amounts of open positions",
	},
)

// AccountBlownGauge - 1 если счёт обнулён
var AccountBlownGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "account_blown",
		Help:      "1 when the kill switch is engaged",
	},
)

// IntentQueueDepth - длина очереди намерений владельца
var IntentQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "lifecycle",
		Name:      "intent_queue_depth",
		Help:      "Pending intents in the owner queue",
	},
)

// ============ Хелперы ============

// RecordIntent записывает латентность намерения
func RecordIntent(name string, started time.Time) {
	IntentLatency.WithLabelValues(name).Observe(float64(time.Since(started).Microseconds()) / 1000.0)
}

func publishGauges(s *Snapshot) {
	BalanceGauge.Set(s.Portfolio.Balance)
	OpenPositionsGauge.Set(float64(len(s.Positions)))
	OpenRiskGauge.Set(s.OpenRisk)
	if s.Portfolio.Blown {
		AccountBlownGauge.Set(1)
	} else {
		AccountBlownGauge.Set(0)
	}
}
