package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"smcbot/internal/config"
	"smcbot/internal/confluence"
	"smcbot/internal/models"
	"smcbot/internal/repository"
	"smcbot/internal/risk"
	"smcbot/pkg/utils"
)

// Config настройки менеджера жизненного цикла
type Config struct {
	Symbols           []string
	InitialBalance    float64
	SignalTTL         time.Duration
	AnalysisWindow    int
	CycleInterval     time.Duration
	TickInterval      time.Duration
	IntentQueueSize   int
	PositionLossLimit float64 // доля баланса
	MaxDrawdown       float64 // доля HWM
	EODTime           utils.ClockTime
	EODLocation       *time.Location
}

// ConfigFrom собирает настройки движка из конфигурации приложения
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Symbols:           cfg.Symbols.Tracked,
		InitialBalance:    cfg.Risk.InitialBalance,
		SignalTTL:         cfg.Lifecycle.SignalTTL,
		AnalysisWindow:    cfg.Lifecycle.AnalysisWindow,
		CycleInterval:     cfg.Lifecycle.CycleInterval,
		TickInterval:      cfg.Lifecycle.TickInterval,
		IntentQueueSize:   cfg.Lifecycle.IntentQueueSize,
		PositionLossLimit: cfg.Risk.PositionLossLimit,
		MaxDrawdown:       cfg.Risk.MaxDrawdown,
		EODTime:           cfg.Lifecycle.EODTime,
		EODLocation:       cfg.Lifecycle.EODLocation,
	}
}

// PriceSource цены для тиков и закрытия по last-known цене
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (models.PriceQuote, error)
	LastKnown(symbol string) (float64, bool)
}

// CandleSource окно закрытых свечей символа
type CandleSource interface {
	Window(symbol string, n int) []models.Candle
}

// SignalEvaluator конвейер оценки конфлюенции
type SignalEvaluator interface {
	Evaluate(symbol string, candles []models.Candle, params config.SymbolParams) (*models.ConfluenceSignal, confluence.Rejection)
}

// Deps зависимости движка
type Deps struct {
	Store     repository.Store
	Prices    PriceSource
	Candles   CandleSource
	Evaluator SignalEvaluator
	Admission *risk.Controller
	Params    risk.SymbolParamsFunc
	Log       *utils.Logger
}

// Snapshot согласованный снимок состояния для читателей.
// Публикуется владельцем после каждого намерения, не изменяется.
type Snapshot struct {
	Portfolio     models.PortfolioState
	Positions     []*models.Position         // открытые, по времени открытия
	Signals       []*models.ConfluenceSignal // живые
	OpenRisk      float64
	UnrealizedPnl float64
	LastSweep     time.Time
	AsOf          time.Time
}

type intent struct {
	name   string
	fn     func(ctx context.Context) error
	result chan error
	queued time.Time
}

// Engine менеджер жизненного цикла позиций (single-writer).
//
// Портфель, открытые позиции и живые сигналы изменяет только горутина Run.
// Остальные (цикл анализа, мониторинг тиков, входящие сигналы, планировщик EOD)
// отправляют намерения через очередь и читают опубликованный Snapshot.
// Проверка допуска и открытие позиции выполняются одним намерением,
// поэтому check-then-act атомарен.
type Engine struct {
	cfg       Config
	store     repository.Store
	prices    PriceSource
	candles   CandleSource
	evaluator SignalEvaluator
	admission *risk.Controller
	params    risk.SymbolParamsFunc
	log       *utils.Logger
	now       func() time.Time
	newID     func() string

	intents  chan intent
	done     chan struct{}
	running  atomic.Bool
	snapshot atomic.Pointer[Snapshot]

	// состояние владельца
	portfolio  models.PortfolioState
	positions  map[string]*models.Position
	live       map[string]*models.ConfluenceSignal
	lastPrices map[string]float64
	lastSweep  time.Time
}

// NewEngine создаёт движок. Состояние пусто до Recover.
func NewEngine(cfg Config, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = utils.L()
	}
	if cfg.IntentQueueSize <= 0 {
		cfg.IntentQueueSize = 256
	}
	if cfg.EODLocation == nil {
		cfg.EODLocation = time.UTC
	}
	params := deps.Params
	if params == nil {
		params = func(string) config.SymbolParams { return config.DefaultSymbolParams() }
	}
	admission := deps.Admission
	if admission == nil {
		admission = risk.NewController(risk.Limits{RiskPerTrade: 0.01, MaxPortfolioRisk: 0.05, MaxConcurrentSignals: 5}, params, nil, log)
	}

	e := &Engine{
		cfg:        cfg,
		store:      deps.Store,
		prices:     deps.Prices,
		candles:    deps.Candles,
		evaluator:  deps.Evaluator,
		admission:  admission,
		params:     params,
		log:        log.WithComponent("lifecycle"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		intents:    make(chan intent, cfg.IntentQueueSize),
		done:       make(chan struct{}),
		positions:  make(map[string]*models.Position),
		live:       make(map[string]*models.ConfluenceSignal),
		lastPrices: make(map[string]float64),
	}
	e.portfolio = RebuildPortfolio(cfg.InitialBalance, nil)
	e.publish()
	return e
}

// Run цикл владельца состояния. При отмене ctx дорабатывает
// поставленные в очередь намерения и завершается.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("lifecycle engine already running")
	}
	defer close(e.done)

	// переход позиции не прерывается отменой: запись закрытия атомарна
	opCtx := context.WithoutCancel(ctx)

	e.log.Info("Lifecycle engine started", utils.Int("queue", cap(e.intents)))
	for {
		select {
		case it := <-e.intents:
			e.exec(opCtx, it)
		case <-ctx.Done():
			drained := e.drain(opCtx)
			e.log.Info("Lifecycle engine stopped", utils.Int("drained", drained))
			return ctx.Err()
		}
	}
}

func (e *Engine) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case it := <-e.intents:
			e.exec(ctx, it)
			n++
		default:
			return n
		}
	}
}

func (e *Engine) exec(ctx context.Context, it intent) {
	IntentQueueDepth.Set(float64(len(e.intents)))
	err := e.safeRun(ctx, it)
	e.publish()
	RecordIntent(it.name, it.queued)
	it.result <- err
}

func (e *Engine) safeRun(ctx context.Context, it intent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Intent panicked", utils.String("intent", it.name), utils.Any("panic", r))
			err = fmt.Errorf("intent %s panicked: %v", it.name, r)
		}
	}()
	return it.fn(ctx)
}

// do ставит намерение в очередь владельца и ждёт результат.
// Принятое намерение выполняется до конца даже при отмене ctx вызывающего.
func (e *Engine) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	it := intent{name: name, fn: fn, result: make(chan error, 1), queued: time.Now()}

	select {
	case e.intents <- it:
	case <-e.done:
		return models.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-it.result:
		return err
	case <-e.done:
		select {
		case err := <-it.result:
			return err
		default:
			return models.ErrEngineStopped
		}
	}
}

// Snapshot последнее опубликованное состояние
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

func (e *Engine) publish() {
	s := &Snapshot{
		Portfolio: e.portfolio,
		Positions: make([]*models.Position, 0, len(e.positions)),
		Signals:   make([]*models.ConfluenceSignal, 0, len(e.live)),
		LastSweep: e.lastSweep,
		AsOf:      e.now(),
	}
	if e.portfolio.BlownAt != nil {
		t := *e.portfolio.BlownAt
		s.Portfolio.BlownAt = &t
	}
	for _, p := range e.sortedPositions() {
		s.Positions = append(s.Positions, p.Clone())
		s.OpenRisk += p.RiskAmount
		s.UnrealizedPnl += p.UnrealizedPnl
	}
	for _, sig := range e.live {
		c := *sig
		s.Signals = append(s.Signals, &c)
	}
	sort.Slice(s.Signals, func(i, j int) bool {
		if !s.Signals[i].GeneratedAt.Equal(s.Signals[j].GeneratedAt) {
			return s.Signals[i].GeneratedAt.Before(s.Signals[j].GeneratedAt)
		}
		return s.Signals[i].ID < s.Signals[j].ID
	})
	e.snapshot.Store(s)
	publishGauges(s)
}

func (e *Engine) sortedPositions() []*models.Position {
	out := make([]*models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// view снимок для контроля допуска: открытые позиции и живые сигналы без позиции
func (e *Engine) view() risk.View {
	v := risk.View{Balance: e.portfolio.Balance, Blown: e.portfolio.Blown}
	for _, p := range e.sortedPositions() {
		v.Exposures = append(v.Exposures, risk.Exposure{
			ID: p.ID, Symbol: p.Symbol, Price: p.EntryPrice, RiskAmount: p.RiskAmount,
		})
	}
	for _, s := range e.live {
		if _, open := e.positions[s.PositionID]; open {
			continue
		}
		v.Exposures = append(v.Exposures, risk.Exposure{ID: s.ID, Symbol: s.Symbol, Price: s.EntryPrice})
	}
	return v
}

// persist обрабатывает результат записи: хранилище пассивно,
// отказ записи не откатывает in-memory состояние
func (e *Engine) persist(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, repository.ErrSignalNotFound) {
		e.log.Debug("Signal not in store", utils.String("op", op))
		return
	}
	DurabilityWarnings.WithLabelValues(op).Inc()

	var perr *models.PersistenceError
	if errors.As(err, &perr) {
		e.log.Warn("Durability warning: store write abandoned, in-memory state remains authoritative",
			utils.String("op", op), utils.Err(err))
		return
	}
	e.log.Error("Store write failed", utils.String("op", op), utils.Err(err))
}

// ============ Допуск и открытие ============

// SubmitCandidate проводит кандидата конвейера через контроль допуска
// и при успехе открывает позицию. Возвращает копию сигнала с итоговым статусом.
func (e *Engine) SubmitCandidate(ctx context.Context, cand *models.ConfluenceSignal) (*models.ConfluenceSignal, risk.Decision, error) {
	var (
		out *models.ConfluenceSignal
		d   risk.Decision
	)
	err := e.do(ctx, "admit", func(ctx context.Context) error {
		out, d = e.admitAndOpen(ctx, cand, e.now())
		return nil
	})
	return out, d, err
}

// SubmitInbound принимает внешний сигнал. Просроченный или некорректный
// отклоняется ValidationError до контроля допуска и не повторяется.
func (e *Engine) SubmitInbound(ctx context.Context, in *models.InboundSignal) (*models.ConfluenceSignal, risk.Decision, error) {
	if err := in.Validate(e.now()); err != nil {
		e.log.Warn("Inbound signal rejected", utils.Symbol(in.Symbol), utils.Err(err))
		return nil, risk.Decision{}, err
	}
	cand := in.ToCandidate(e.newID(), e.cfg.SignalTTL)
	return e.SubmitCandidate(ctx, cand)
}

func (e *Engine) admitAndOpen(ctx context.Context, cand *models.ConfluenceSignal, now time.Time) (*models.ConfluenceSignal, risk.Decision) {
	c := *cand
	sig := &c
	if sig.ID == "" {
		sig.ID = e.newID()
	}
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = now
	}
	if sig.ExpiresAt.IsZero() && e.cfg.SignalTTL > 0 {
		sig.ExpiresAt = sig.GeneratedAt.Add(e.cfg.SignalTTL)
	}
	if sig.Source == "" {
		sig.Source = models.SourcePipeline
	}

	d := e.admission.Admit(sig, e.view(), now)
	if !d.Accepted {
		sig.Status = models.SignalRejected
		sig.RejectReason = string(d.Reason)
		e.persist("save_signal", e.store.SaveSignal(ctx, sig))
		out := *sig
		return &out, d
	}

	pos := newPosition(e.newID(), sig, d, now)

	// последняя цена уже за стопом: открывать нельзя
	if last, ok := e.lastPrices[sig.Symbol]; ok && pos.StopHit(last) {
		_ = transition(pos, models.PositionCancelled)
		PositionsCancelled.Inc()
		sig.Status = models.SignalInvalidated
		sig.RejectReason = fmt.Sprintf("stop %v breached at last price %v", sig.StopLoss, last)
		e.persist("save_signal", e.store.SaveSignal(ctx, sig))
		e.log.Warn("Position cancelled before open",
			utils.Symbol(sig.Symbol), utils.SignalID(sig.ID), utils.Price(last), utils.Reason(sig.RejectReason))

		out := *sig
		return &out, risk.Decision{Reason: models.RejectInvalidStop, Detail: sig.RejectReason}
	}

	_ = transition(pos, models.PositionOpen)
	sig.Status = models.SignalActive
	sig.PositionID = pos.ID
	e.positions[pos.ID] = pos
	e.live[sig.ID] = sig
	e.admission.RecordAdmission(sig.Symbol, now)

	e.persist("save_signal", e.store.SaveSignal(ctx, sig))
	e.persist("save_position", e.store.SavePosition(ctx, pos.Clone()))

	PositionsOpened.WithLabelValues(sig.Symbol, string(sig.Source)).Inc()
	e.log.Info("Position opened",
		utils.Symbol(pos.Symbol),
		utils.PositionID(pos.ID),
		utils.SignalID(sig.ID),
		utils.Side(string(pos.Side)),
		utils.Price(pos.EntryPrice),
		utils.Size(pos.Size),
		utils.Float64("stop_loss", pos.StopLoss),
		utils.Float64("take_profit", pos.TakeProfit),
		utils.Float64("risk_amount", pos.RiskAmount),
		utils.Score(sig.ConfluenceScore),
	)

	out := *sig
	return &out, d
}

// ============ Тики ============

// OnTick продвигает открытые позиции символа по новой цене
func (e *Engine) OnTick(ctx context.Context, symbol string, price float64, at time.Time) error {
	if price <= 0 {
		return fmt.Errorf("tick %s: non-positive price %v", symbol, price)
	}
	return e.do(ctx, "tick", func(ctx context.Context) error {
		e.applyTick(ctx, symbol, price, at)
		return nil
	})
}

func (e *Engine) applyTick(ctx context.Context, symbol string, price float64, at time.Time) {
	if at.IsZero() {
		at = e.now()
	}
	e.lastPrices[symbol] = price
	// тикнувший символ закрывается по цене тика, остальные по last-known
	priceOf := func(p *models.Position) float64 {
		if p.Symbol == symbol {
			return price
		}
		return e.lastKnownPrice(p)
	}

	for _, p := range e.sortedPositions() {
		if p.Symbol != symbol {
			continue
		}
		markToMarket(p, price)

		if reason, hit := exitReason(p, price); hit {
			e.closePosition(ctx, p, reason, price, at)
			continue
		}
		if cond, bad := positionLossExceeded(p, e.portfolio.Balance, e.cfg.PositionLossLimit); bad {
			e.emergency(ctx, cond, []*models.Position{p}, priceOf, at)
		}
	}

	if len(e.positions) == 0 {
		return
	}
	var unrealized float64
	for _, p := range e.positions {
		unrealized += p.UnrealizedPnl
	}
	if cond, bad := drawdownExceeded(e.portfolio, unrealized, e.cfg.MaxDrawdown); bad {
		e.emergency(ctx, cond, e.sortedPositions(), priceOf, at)
	}
}

// emergency закрывает позиции вне обычного пути стоп/цель
func (e *Engine) emergency(ctx context.Context, cond *models.EmergencyCondition, positions []*models.Position,
	priceOf func(*models.Position) float64, at time.Time) {
	EmergencyClosures.WithLabelValues(string(cond.Kind)).Inc()
	e.log.Error("Emergency condition, force-closing positions",
		utils.Err(cond),
		utils.Int("positions", len(positions)),
	)
	for _, p := range positions {
		e.closePosition(ctx, p, models.PositionEmergencyClose, priceOf(p), at)
	}
}

// closePosition переводит OPEN позицию в состояние закрытия, реализует P&L
// и пишет позицию вместе с записью журнала одной операцией хранилища.
func (e *Engine) closePosition(ctx context.Context, p *models.Position, reason models.PositionStatus, exitPrice float64, at time.Time) {
	if err := transition(p, reason); err != nil {
		e.log.Error("Close rejected", utils.PositionID(p.ID), utils.Err(err))
		return
	}

	pnl := realizedPnl(p, reason, exitPrice)
	closedAt := at
	p.CloseReason = reason
	p.ExitPrice = exitPrice
	p.LastPrice = exitPrice
	p.RealizedPnl = pnl
	p.UnrealizedPnl = 0
	p.ClosedAt = &closedAt

	blownNow := applyRealized(&e.portfolio, pnl, at)
	entry := &models.LedgerEntry{
		Kind:         models.LedgerTrade,
		PositionID:   p.ID,
		Symbol:       p.Symbol,
		Amount:       pnl,
		BalanceAfter: e.portfolio.Balance,
		CreatedAt:    at,
	}
	_ = transition(p, models.PositionClosed)
	delete(e.positions, p.ID)

	e.persist("close_position", e.store.ClosePosition(ctx, p.Clone(), entry))

	if sig, ok := e.live[p.SignalID]; ok {
		sig.Status = models.SignalClosed
		delete(e.live, sig.ID)
	}
	e.persist("update_signal", e.store.UpdateSignalStatus(ctx, p.SignalID, models.SignalClosed, "", p.ID))

	PositionsClosed.WithLabelValues(string(reason)).Inc()
	e.log.Info("Position closed",
		utils.Symbol(p.Symbol),
		utils.PositionID(p.ID),
		utils.Reason(string(reason)),
		utils.Price(exitPrice),
		utils.PNL(pnl),
		utils.Balance(e.portfolio.Balance),
	)

	if blownNow {
		e.log.Error("Account blown, kill switch engaged",
			utils.Err(models.ErrAccountBlown),
			utils.Balance(e.portfolio.Balance),
		)
	}
}

// lastKnownPrice цена закрытия вне тика: адаптер цен, затем последний тик,
// затем последняя отметка позиции
func (e *Engine) lastKnownPrice(p *models.Position) float64 {
	if e.prices != nil {
		if price, ok := e.prices.LastKnown(p.Symbol); ok && price > 0 {
			return price
		}
	}
	if price, ok := e.lastPrices[p.Symbol]; ok && price > 0 {
		return price
	}
	if p.LastPrice > 0 {
		return p.LastPrice
	}
	return p.EntryPrice
}

// ============ Сигналы ============

// ExpireSignals снимает живые сигналы без позиции, у которых истёк срок
func (e *Engine) ExpireSignals(ctx context.Context) (int, error) {
	var n int
	err := e.do(ctx, "expire", func(ctx context.Context) error {
		n = e.expireSignals(ctx, e.now())
		return nil
	})
	return n, err
}

func (e *Engine) expireSignals(ctx context.Context, now time.Time) int {
	n := 0
	for _, s := range e.live {
		if _, open := e.positions[s.PositionID]; open {
			continue
		}
		if s.IsExpired(now) {
			e.retireSignal(ctx, s, models.SignalExpired, "expired")
			n++
		}
	}
	return n
}

func (e *Engine) retireSignal(ctx context.Context, s *models.ConfluenceSignal, status models.SignalStatus, reason string) {
	s.Status = status
	s.RejectReason = reason
	delete(e.live, s.ID)
	SignalsExpired.WithLabelValues(string(status)).Inc()
	e.persist("update_signal", e.store.UpdateSignalStatus(ctx, s.ID, status, reason, ""))
	e.log.Info("Signal retired", utils.SignalID(s.ID), utils.Symbol(s.Symbol), utils.Status(string(status)), utils.Reason(reason))
}

// ============ Сброс счёта ============

// ResetAccount явный внешний сброс: снимает kill switch и пишет RESET в журнал,
// чтобы восстановление воспроизвело сброс
func (e *Engine) ResetAccount(ctx context.Context, newBalance float64) error {
	if newBalance <= 0 {
		return &models.ValidationError{Field: "balance", Reason: "must be positive"}
	}
	return e.do(ctx, "reset", func(ctx context.Context) error {
		before := e.portfolio.Balance
		entry := resetEntry(before, newBalance, e.now())
		applyReset(&e.portfolio, newBalance)
		e.admission.ResetCooldowns()
		e.persist("append_ledger", e.store.AppendRealizedPnl(ctx, entry))

		e.log.Warn("Account reset",
			utils.Float64("balance_before", before),
			utils.Balance(newBalance),
		)
		return nil
	})
}
