package bot

import (
	"context"
	"time"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// SweepReport итог закрытия торгового дня
type SweepReport struct {
	Boundary  time.Time
	Duplicate bool
	Closed    []string
	Realized  float64
	Balance   float64
}

// SweepEOD закрывает все позиции, открытые не позже boundary, по last-known цене.
// Время закрытия и записи журнала равно boundary.
//
// Список берётся из хранилища, а не из памяти: позиция, записанная до падения
// процесса, тоже будет закрыта. Повторный запуск для той же или более ранней
// границы ничего не делает.
func (e *Engine) SweepEOD(ctx context.Context, boundary time.Time) (SweepReport, error) {
	var report SweepReport
	err := e.do(ctx, "eod", func(ctx context.Context) error {
		var err error
		report, err = e.sweep(ctx, boundary)
		return err
	})
	if err != nil {
		EODSweeps.WithLabelValues("failed").Inc()
	}
	return report, err
}

func (e *Engine) sweep(ctx context.Context, boundary time.Time) (SweepReport, error) {
	report := SweepReport{Boundary: boundary}
	if !e.lastSweep.IsZero() && !boundary.After(e.lastSweep) {
		report.Duplicate = true
		report.Balance = e.portfolio.Balance
		EODSweeps.WithLabelValues("duplicate").Inc()
		e.log.Info("EOD sweep already done for boundary", utils.Time("boundary", boundary))
		return report, nil
	}

	stored, err := e.store.ListOpenPositions(ctx)
	if err != nil {
		e.log.Error("EOD sweep: cannot list open positions", utils.Err(err))
		return report, err
	}

	// закрытие принадлежит завершившемуся дню, даже если sweep опоздал
	closeAt := boundary

	handled := make(map[string]struct{}, len(stored))
	for _, sp := range stored {
		handled[sp.ID] = struct{}{}
		if sp.OpenedAt.After(boundary) {
			continue
		}
		p, ok := e.positions[sp.ID]
		if !ok {
			// позиция есть только в хранилище
			p = sp.Clone()
			if p.Status != models.PositionOpen {
				continue
			}
		}
		report.Realized += e.sweepOne(ctx, p, closeAt)
		report.Closed = append(report.Closed, p.ID)
	}

	// позиции, запись которых в хранилище не дошла
	for _, p := range e.sortedPositions() {
		if _, ok := handled[p.ID]; ok || p.OpenedAt.After(boundary) {
			continue
		}
		report.Realized += e.sweepOne(ctx, p, closeAt)
		report.Closed = append(report.Closed, p.ID)
	}

	e.lastSweep = boundary
	report.Balance = e.portfolio.Balance
	EODSweeps.WithLabelValues("executed").Inc()
	e.log.Info("EOD sweep completed",
		utils.Time("boundary", boundary),
		utils.Int("closed", len(report.Closed)),
		utils.PNL(report.Realized),
		utils.Balance(report.Balance),
	)
	return report, nil
}

func (e *Engine) sweepOne(ctx context.Context, p *models.Position, at time.Time) float64 {
	e.closePosition(ctx, p, models.PositionEODClose, e.lastKnownPrice(p), at)
	return p.RealizedPnl
}

// TradingDay торговый день, которому принадлежит t: [последняя граница EOD, следующая).
// Для P&L день считается как (Start, End]: запись ровно на границе относится к закрывающемуся дню.
func (e *Engine) TradingDay(t time.Time) utils.TimeRange {
	return utils.TimeRange{
		Start: e.cfg.EODTime.LastBoundary(t, e.cfg.EODLocation),
		End:   e.cfg.EODTime.NextBoundary(t, e.cfg.EODLocation),
	}
}
