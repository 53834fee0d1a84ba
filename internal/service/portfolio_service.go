package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smcbot/internal/models"
)

// PortfolioService read API торгового ядра.
//
// Состояние портфеля, открытые позиции и живые сигналы читаются из
// опубликованного снимка движка и никогда не блокируют владельца.
// Дневной P&L считается заново из журнала закрытых сделок при каждом
// запросе, поэтому после перезапуска не задваивается.
type PortfolioService struct {
	engine  EngineInterface
	history HistoryReader
	now     func() time.Time
}

// NewPortfolioService создает сервис
func NewPortfolioService(engine EngineInterface, history HistoryReader) *PortfolioService {
	return &PortfolioService{
		engine:  engine,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetPortfolioSummary сводка счёта
func (s *PortfolioService) GetPortfolioSummary() models.PortfolioSummary {
	snap := s.engine.Snapshot()
	p := snap.Portfolio

	sum := models.PortfolioSummary{
		Balance:        p.Balance,
		InitialBalance: p.InitialBalance,
		HighWaterMark:  p.HighWaterMark,
		Drawdown:       p.Drawdown(),
		RealizedPnl:    p.RealizedPnl,
		UnrealizedPnl:  snap.UnrealizedPnl,
		OpenPositions:  len(snap.Positions),
		LiveSignals:    len(snap.Signals),
		OpenRisk:       snap.OpenRisk,
		Blown:          p.Blown,
		AsOf:           snap.AsOf,
	}
	if p.Balance > 0 {
		sum.RiskUtilization = snap.OpenRisk / p.Balance
	}
	return sum
}

// ListLiveSignals живые сигналы
func (s *PortfolioService) ListLiveSignals() []*models.ConfluenceSignal {
	return s.engine.Snapshot().Signals
}

// ListOpenPositions открытые позиции
func (s *PortfolioService) ListOpenPositions() []*models.Position {
	return s.engine.Snapshot().Positions
}

// GetDailyPnl P&L текущего торгового дня
func (s *PortfolioService) GetDailyPnl(ctx context.Context) (*models.DailyPnl, error) {
	return s.GetDailyPnlAt(ctx, s.now())
}

// GetDailyPnlAt P&L торгового дня, которому принадлежит t.
// Сделка, закрытая ровно на границе EOD, входит в завершившийся день.
// Учитываются только записи TRADE; сброс счёта не является результатом торговли.
func (s *PortfolioService) GetDailyPnlAt(ctx context.Context, t time.Time) (*models.DailyPnl, error) {
	day := s.engine.TradingDay(t)
	// записи EOD стоят ровно на границе и принадлежат закрывающемуся дню: (Start, End]
	entries, err := s.history.ListLedger(ctx, day.Start, day.End.Add(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("daily pnl: %w", err)
	}

	out := &models.DailyPnl{Date: dayLabel(day.End)}
	for _, e := range entries {
		if e.Kind != models.LedgerTrade || !e.CreatedAt.After(day.Start) || e.CreatedAt.After(day.End) {
			continue
		}
		out.Realized += e.Amount
		out.Trades++
		switch {
		case e.Amount > 0:
			out.Wins++
		case e.Amount < 0:
			out.Losses++
		}
	}
	return out, nil
}

// ListDailyPnl P&L за последние days торговых дней, от новых к старым
func (s *PortfolioService) ListDailyPnl(ctx context.Context, days int) ([]*models.DailyPnl, error) {
	if days <= 0 {
		days = 7
	}
	out := make([]*models.DailyPnl, 0, days)
	t := s.now()
	for i := 0; i < days; i++ {
		d, err := s.GetDailyPnlAt(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		t = s.engine.TradingDay(t).Start.Add(-time.Nanosecond)
	}
	return out, nil
}

// ListSignals история сигналов торгового дня t с фильтром по статусам
func (s *PortfolioService) ListSignals(ctx context.Context, t time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error) {
	day := s.engine.TradingDay(t)
	return s.history.ListSignals(ctx, day.Start, day.End, statuses...)
}

// ListPositions позиции, открытые в торговый день t
func (s *PortfolioService) ListPositions(ctx context.Context, t time.Time) ([]*models.Position, error) {
	day := s.engine.TradingDay(t)
	positions, err := s.history.ListPositions(ctx, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].OpenedAt.After(positions[j].OpenedAt)
	})
	return positions, nil
}

// Ping доступность хранилища
func (s *PortfolioService) Ping(ctx context.Context) error {
	return s.history.Ping(ctx)
}

// dayLabel дата торгового дня: календарная дата момента перед его закрытием
func dayLabel(end time.Time) string {
	return end.Add(-time.Nanosecond).Format("2006-01-02")
}
