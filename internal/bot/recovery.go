package bot

import (
	"context"
	"fmt"
	"math"
	"sort"

	"smcbot/internal/models"
	"smcbot/internal/repository"
	"smcbot/internal/risk"
	"smcbot/pkg/utils"
)

// RecoveryReport итог восстановления после перезапуска
type RecoveryReport struct {
	Balance       float64
	LedgerEntries int
	OpenPositions int
	LiveSignals   int
	Closed        int // сигналы, чья позиция уже закрыта
	Expired       int
	Invalidated   int
	CatchUp       *SweepReport // пропущенное закрытие дня
}

// Recover восстанавливает состояние владельца из хранилища.
//
// Баланс пересчитывается из журнала реализованного P&L, кэшированное значение
// только сверяется. Открытые позиции берутся все, независимо от процесса.
// Сегодняшние живые сигналы заново проверяются на срок, лимит символа и
// разнос цен; нарушители снимаются. Если граница EOD прошла, пока процесс
// не работал, закрытие дня выполняется сразу.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	err := e.do(ctx, "recover", func(ctx context.Context) error {
		var err error
		report, err = e.recoverState(ctx)
		return err
	})
	return report, err
}

func (e *Engine) recoverState(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	now := e.now()

	from, to := repository.AllTime()
	entries, err := e.store.ListLedger(ctx, from, to)
	if err != nil {
		return report, fmt.Errorf("recover ledger: %w", err)
	}
	portfolio := RebuildPortfolio(e.cfg.InitialBalance, entries)

	if cached, ok, err := e.store.GetLatestBalance(ctx); err != nil {
		e.log.Warn("Cannot read cached balance", utils.Err(err))
	} else if ok && math.Abs(cached-portfolio.Balance) > utils.Eps {
		e.log.Warn("Cached balance differs from ledger, using ledger",
			utils.Float64("cached", cached),
			utils.Balance(portfolio.Balance),
		)
	}

	open, err := e.store.ListOpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("recover open positions: %w", err)
	}

	day := e.TradingDay(now)
	signals, err := e.store.ListSignals(ctx, day.Start, day.End, models.SignalActive)
	if err != nil {
		return report, fmt.Errorf("recover signals: %w", err)
	}
	todays, err := e.store.ListPositions(ctx, day.Start, day.End)
	if err != nil {
		return report, fmt.Errorf("recover positions: %w", err)
	}

	// чтения прошли, дальше только замена состояния
	e.portfolio = portfolio
	e.positions = make(map[string]*models.Position, len(open))
	e.live = make(map[string]*models.ConfluenceSignal, len(signals))
	e.lastPrices = make(map[string]float64)

	e.admission.ResetCooldowns()
	for _, p := range todays {
		e.admission.RecordAdmission(p.Symbol, p.OpenedAt)
	}
	for _, p := range open {
		if p.Status != models.PositionOpen {
			continue
		}
		e.positions[p.ID] = p.Clone()
	}

	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].GeneratedAt.Equal(signals[j].GeneratedAt) {
			return signals[i].GeneratedAt.Before(signals[j].GeneratedAt)
		}
		return signals[i].ID < signals[j].ID
	})
	for _, s := range signals {
		if s.PositionID != "" {
			if _, ok := e.positions[s.PositionID]; ok {
				e.live[s.ID] = s
				continue
			}
			e.retireSignal(ctx, s, models.SignalClosed, "position no longer open")
			report.Closed++
			continue
		}
		if s.IsExpired(now) {
			e.retireSignal(ctx, s, models.SignalExpired, "expired")
			report.Expired++
			continue
		}
		if reason := e.violation(s); reason != "" {
			e.retireSignal(ctx, s, models.SignalInvalidated, reason)
			report.Invalidated++
			continue
		}
		e.live[s.ID] = s
		e.admission.RecordAdmission(s.Symbol, s.GeneratedAt)
	}

	boundary := e.cfg.EODTime.LastBoundary(now, e.cfg.EODLocation)
	for _, p := range e.positions {
		if p.OpenedAt.After(boundary) {
			continue
		}
		sr, err := e.sweep(ctx, boundary)
		if err != nil {
			return report, fmt.Errorf("recover catch-up sweep: %w", err)
		}
		report.CatchUp = &sr
		break
	}

	report.Balance = e.portfolio.Balance
	report.LedgerEntries = len(entries)
	report.OpenPositions = len(e.positions)
	report.LiveSignals = len(e.live)

	e.log.Info("State recovered",
		utils.Balance(report.Balance),
		utils.Int("ledger_entries", report.LedgerEntries),
		utils.Int("open_positions", report.OpenPositions),
		utils.Int("live_signals", report.LiveSignals),
		utils.Int("expired", report.Expired),
		utils.Int("invalidated", report.Invalidated),
		utils.Bool("blown", e.portfolio.Blown),
	)
	return report, nil
}

// violation проверка восстановленного сигнала против уже принятого набора
func (e *Engine) violation(s *models.ConfluenceSignal) string {
	p := e.params(s.Symbol)
	onSymbol := e.view().ForSymbol(s.Symbol)
	if len(onSymbol) >= p.MaxPositionsPerSymbol {
		return fmt.Sprintf("symbol cap %d reached", p.MaxPositionsPerSymbol)
	}
	minSep := risk.MinSeparation(p)
	for _, x := range onSymbol {
		if utils.PercentDistance(s.EntryPrice, x.Price) < minSep {
			return fmt.Sprintf("too close to %s at %v", x.ID, x.Price)
		}
	}
	return ""
}
