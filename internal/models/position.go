package models

import "time"

// Side сторона позиции
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionStatus состояние позиции (state machine, см. bot.ValidTransitions)
type PositionStatus string

const (
	PositionPending        PositionStatus = "PENDING"
	PositionOpen           PositionStatus = "OPEN"
	PositionStopLoss       PositionStatus = "STOP_LOSS"
	PositionTakeProfit     PositionStatus = "TAKE_PROFIT"
	PositionEODClose       PositionStatus = "EOD_CLOSE"
	PositionEmergencyClose PositionStatus = "EMERGENCY_CLOSE"
	PositionClosed         PositionStatus = "CLOSED"
	PositionCancelled      PositionStatus = "CANCELLED"
)

// IsClosing одно из состояний закрытия (P&L уже реализован)
func (s PositionStatus) IsClosing() bool {
	switch s {
	case PositionStopLoss, PositionTakeProfit, PositionEODClose, PositionEmergencyClose:
		return true
	}
	return false
}

// IsFinal позиция больше не изменяется
func (s PositionStatus) IsFinal() bool {
	return s == PositionClosed || s == PositionCancelled
}

// Position позиция. Принадлежит менеджеру жизненного цикла, хранилище только пишет копии.
type Position struct {
	ID            string         `json:"id" db:"id"`
	SignalID      string         `json:"signal_id" db:"signal_id"`
	Symbol        string         `json:"symbol" db:"symbol"`
	Side          Side           `json:"side" db:"side"`
	Size          float64        `json:"size" db:"size"`
	EntryPrice    float64        `json:"entry_price" db:"entry_price"`
	StopLoss      float64        `json:"stop_loss" db:"stop_loss"`
	TakeProfit    float64        `json:"take_profit" db:"take_profit"`
	RiskAmount    float64        `json:"risk_amount" db:"risk_amount"`
	Status        PositionStatus `json:"status" db:"status"`
	CloseReason   PositionStatus `json:"close_reason,omitempty" db:"close_reason"`
	ExitPrice     float64        `json:"exit_price,omitempty" db:"exit_price"`
	LastPrice     float64        `json:"last_price" db:"last_price"`
	OpenedAt      time.Time      `json:"opened_at" db:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
	RealizedPnl   float64        `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnl float64        `json:"unrealized_pnl" db:"unrealized_pnl"`
}

// StopHit пересечена ли цена стопа
func (p *Position) StopHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == SideLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TargetHit пересечена ли цена тейк-профита
func (p *Position) TargetHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == SideLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// Clone копия позиции (ClosedAt тоже копируется)
func (p *Position) Clone() *Position {
	c := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
