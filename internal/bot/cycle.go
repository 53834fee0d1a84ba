package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smcbot/internal/confluence"
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// SymbolResult исход обработки одного символа в цикле
type SymbolResult struct {
	Symbol   string
	Price    float64
	Skipped  string // причина пропуска символа; пусто - символ обработан
	NoSignal confluence.Rejection
	Signal   *models.ConfluenceSignal
	Reject   models.RejectReason
}

// CycleReport итог прохода по символам
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Expired   int
	Results   []SymbolResult
}

// Opened количество сигналов, ставших позициями в цикле
func (r CycleReport) Opened() int {
	n := 0
	for _, res := range r.Results {
		if res.Signal != nil && res.Signal.Status == models.SignalActive {
			n++
		}
	}
	return n
}

// Cycle один проход конвейера по всем отслеживаемым символам.
// Сбой одного символа не прерывает проход по остальным.
func (e *Engine) Cycle(ctx context.Context) CycleReport {
	started := time.Now()
	report := CycleReport{StartedAt: e.now()}

	expired, err := e.ExpireSignals(ctx)
	if err != nil {
		e.log.Warn("Signal expiry skipped", utils.Err(err))
	}
	report.Expired = expired

	for _, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		report.Results = append(report.Results, e.cycleSymbol(ctx, symbol))
	}

	report.Duration = time.Since(started)
	CycleDuration.Observe(report.Duration.Seconds())
	e.log.Debug("Cycle finished",
		utils.Int("symbols", len(report.Results)),
		utils.Int("opened", report.Opened()),
		utils.Int("expired", report.Expired),
		utils.Duration("duration", report.Duration),
	)
	return report
}

func (e *Engine) cycleSymbol(ctx context.Context, symbol string) (res SymbolResult) {
	res.Symbol = symbol
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Symbol analysis panicked", utils.Symbol(symbol), utils.Any("panic", r))
			res.Skipped = "panic"
			SymbolsSkipped.WithLabelValues(symbol, res.Skipped).Inc()
		}
	}()

	q, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		res.Skipped = "price_unavailable"
		if errors.Is(err, models.ErrPriceFeedDegraded) {
			res.Skipped = "feed_degraded"
		}
		SymbolsSkipped.WithLabelValues(symbol, res.Skipped).Inc()
		e.log.Warn("Symbol skipped this cycle", utils.Symbol(symbol), utils.Reason(res.Skipped), utils.Err(err))
		return res
	}
	res.Price = q.Price

	if err := e.OnTick(ctx, symbol, q.Price, q.AsOf); err != nil {
		res.Skipped = "tick_failed"
		SymbolsSkipped.WithLabelValues(symbol, res.Skipped).Inc()
		return res
	}

	if e.candles == nil || e.evaluator == nil {
		return res
	}
	candles := e.candles.Window(symbol, e.cfg.AnalysisWindow)
	cand, rej := e.evaluator.Evaluate(symbol, candles, e.params(symbol))
	if cand == nil {
		res.NoSignal = rej
		return res
	}

	sig, d, err := e.SubmitCandidate(ctx, cand)
	if err != nil {
		res.Skipped = "admission_failed"
		SymbolsSkipped.WithLabelValues(symbol, res.Skipped).Inc()
		return res
	}
	res.Signal = sig
	res.Reject = d.Reason
	return res
}

// RunCycles запускает Cycle с интервалом CycleInterval до отмены ctx
func (e *Engine) RunCycles(ctx context.Context) {
	e.runEvery(ctx, "cycle", e.cfg.CycleInterval, func(ctx context.Context) {
		e.Cycle(ctx)
	})
}

// RunMonitor между циклами анализа опрашивает цены символов
// с открытыми позициями, чтобы стопы и цели срабатывали своевременно
func (e *Engine) RunMonitor(ctx context.Context) {
	e.runEvery(ctx, "monitor", e.cfg.TickInterval, e.monitorOnce)
}

func (e *Engine) monitorOnce(ctx context.Context) {
	seen := make(map[string]struct{})
	for _, p := range e.Snapshot().Positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}

		q, err := e.prices.GetPrice(ctx, p.Symbol)
		if err != nil {
			e.log.Debug("Monitor price unavailable", utils.Symbol(p.Symbol), utils.Err(err))
			continue
		}
		if err := e.OnTick(ctx, p.Symbol, q.Price, q.AsOf); err != nil && !errors.Is(err, models.ErrEngineStopped) {
			e.log.Warn("Monitor tick failed", utils.Symbol(p.Symbol), utils.Err(err))
		}
	}
}

func (e *Engine) runEvery(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		e.log.Warn("Loop disabled", utils.String("loop", name))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info(fmt.Sprintf("%s loop started", name), utils.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info(fmt.Sprintf("%s loop stopped", name))
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
