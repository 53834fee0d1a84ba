package bot

import (
	"time"

	"smcbot/internal/models"
)

// applyRealized учитывает реализованный P&L закрытой позиции.
// Возвращает true, если счёт обнулился именно этим закрытием.
func applyRealized(p *models.PortfolioState, amount float64, at time.Time) bool {
	p.Balance += amount
	p.RealizedPnl += amount
	if p.Balance > p.HighWaterMark {
		p.HighWaterMark = p.Balance
	}
	if p.Balance <= 0 && !p.Blown {
		p.Blown = true
		t := at
		p.BlownAt = &t
		return true
	}
	return false
}

// applyReset явный внешний сброс: снимает kill switch, HWM = новый баланс
func applyReset(p *models.PortfolioState, newBalance float64) {
	p.Balance = newBalance
	p.HighWaterMark = newBalance
	p.RealizedPnl = 0
	p.Blown = false
	p.BlownAt = nil
}

// RebuildPortfolio восстанавливает состояние счёта из журнала:
// balance = initial + Σ amount. Кэшированный баланс не используется.
func RebuildPortfolio(initial float64, entries []models.LedgerEntry) models.PortfolioState {
	p := models.PortfolioState{
		Balance:        initial,
		InitialBalance: initial,
		HighWaterMark:  initial,
	}
	if initial <= 0 {
		p.Blown = true
	}

	for _, e := range entries {
		switch e.Kind {
		case models.LedgerReset:
			applyReset(&p, p.Balance+e.Amount)
		default:
			applyRealized(&p, e.Amount, e.CreatedAt)
		}
	}
	return p
}

// resetEntry запись журнала для сброса счёта до newBalance
func resetEntry(current, newBalance float64, at time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		Kind:         models.LedgerReset,
		Amount:       newBalance - current,
		BalanceAfter: newBalance,
		CreatedAt:    at,
	}
}
