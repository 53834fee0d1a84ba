package bot

import (
	"time"

	"smcbot/internal/models"
	"smcbot/internal/risk"
	"smcbot/pkg/utils"
)

// newPosition позиция в состоянии PENDING по допущенному сигналу
func newPosition(id string, sig *models.ConfluenceSignal, d risk.Decision, at time.Time) *models.Position {
	return &models.Position{
		ID:         id,
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Side:       sig.Action.Side(),
		Size:       d.Size,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		RiskAmount: d.RiskAmount,
		Status:     models.PositionPending,
		LastPrice:  sig.EntryPrice,
		OpenedAt:   at,
	}
}

// markToMarket пересчитывает нереализованный P&L по стороне
func markToMarket(p *models.Position, price float64) {
	p.LastPrice = price
	p.UnrealizedPnl = utils.PnL(string(p.Side), p.EntryPrice, price, p.Size)
}

// exitReason проверяет пересечение стопа или цели на цене price.
// Стоп имеет приоритет: при гэпе через оба уровня позиция закрывается по стопу.
func exitReason(p *models.Position, price float64) (models.PositionStatus, bool) {
	if p.StopHit(price) {
		return models.PositionStopLoss, true
	}
	if p.TargetHit(price) {
		return models.PositionTakeProfit, true
	}
	return "", false
}

// realizedPnl P&L закрытия по exitPrice. Для STOP_LOSS убыток
// ограничен risk_amount позиции; остальные причины не ограничиваются.
func realizedPnl(p *models.Position, reason models.PositionStatus, exitPrice float64) float64 {
	pnl := utils.PnL(string(p.Side), p.EntryPrice, exitPrice, p.Size)
	if reason == models.PositionStopLoss && p.RiskAmount > 0 && pnl < -p.RiskAmount {
		pnl = -p.RiskAmount
	}
	return pnl
}

// positionLossExceeded аварийный лимит убытка одной позиции (доля баланса)
func positionLossExceeded(p *models.Position, balance, limit float64) (*models.EmergencyCondition, bool) {
	if limit <= 0 || balance <= 0 || p.UnrealizedPnl >= 0 {
		return nil, false
	}
	loss := -p.UnrealizedPnl / balance
	if loss <= limit {
		return nil, false
	}
	return &models.EmergencyCondition{
		Kind:       models.EmergencyPositionLoss,
		PositionID: p.ID,
		Value:      loss,
		Limit:      limit,
	}, true
}

// drawdownExceeded аварийный лимит просадки equity от HWM
func drawdownExceeded(state models.PortfolioState, unrealized, limit float64) (*models.EmergencyCondition, bool) {
	if limit <= 0 || state.HighWaterMark <= 0 {
		return nil, false
	}
	equity := state.Balance + unrealized
	dd := (state.HighWaterMark - equity) / state.HighWaterMark
	if dd <= limit {
		return nil, false
	}
	return &models.EmergencyCondition{
		Kind:  models.EmergencyDrawdown,
		Value: dd,
		Limit: limit,
	}, true
}
