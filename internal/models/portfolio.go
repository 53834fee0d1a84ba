package models

import "time"

// PortfolioState состояние счёта. Один экземпляр на аккаунт.
//
// Balance меняется только при закрытии позиции (или явном сбросе),
// HighWaterMark не убывает, Blown выставляется при Balance <= 0.
type PortfolioState struct {
	Balance        float64    `json:"balance"`
	InitialBalance float64    `json:"initial_balance"`
	HighWaterMark  float64    `json:"high_water_mark"`
	RealizedPnl    float64    `json:"realized_pnl"`
	Blown          bool       `json:"blown"`
	BlownAt        *time.Time `json:"blown_at,omitempty"`
}

// Drawdown текущая просадка от HWM в долях
func (p PortfolioState) Drawdown() float64 {
	if p.HighWaterMark <= 0 {
		return 0
	}
	dd := (p.HighWaterMark - p.Balance) / p.HighWaterMark
	if dd < 0 {
		return 0
	}
	return dd
}

// LedgerKind тип записи журнала
type LedgerKind string

const (
	LedgerTrade LedgerKind = "TRADE"
	LedgerReset LedgerKind = "RESET"
)

// LedgerEntry запись журнала реализованного P&L.
// Баланс восстанавливается как InitialBalance + Σ Amount.
type LedgerEntry struct {
	ID           int64      `json:"id" db:"id"`
	Kind         LedgerKind `json:"kind" db:"kind"`
	PositionID   string     `json:"position_id,omitempty" db:"position_id"`
	Symbol       string     `json:"symbol,omitempty" db:"symbol"`
	Amount       float64    `json:"amount" db:"amount"`
	BalanceAfter float64    `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// PortfolioSummary ответ read API
type PortfolioSummary struct {
	Balance         float64   `json:"balance"`
	InitialBalance  float64   `json:"initial_balance"`
	HighWaterMark   float64   `json:"high_water_mark"`
	Drawdown        float64   `json:"drawdown"`
	RealizedPnl     float64   `json:"realized_pnl"`
	UnrealizedPnl   float64   `json:"unrealized_pnl"`
	OpenPositions   int       `json:"open_positions"`
	LiveSignals     int       `json:"live_signals"`
	OpenRisk        float64   `json:"open_risk"`
	RiskUtilization float64   `json:"risk_utilization"` // open_risk / balance
	Blown           bool      `json:"blown"`
	AsOf            time.Time `json:"as_of"`
}

// DailyPnl дневной P&L по журналу закрытых сделок
type DailyPnl struct {
	Date     string  `json:"date"` // YYYY-MM-DD в таймзоне закрытия
	Realized float64 `json:"realized"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
}
