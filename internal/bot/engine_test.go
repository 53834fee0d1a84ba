package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smcbot/internal/config"
	"smcbot/internal/confluence"
	"smcbot/internal/models"
	"smcbot/internal/repository"
	"smcbot/internal/risk"
	"smcbot/pkg/retry"
	"smcbot/pkg/utils"
)

// 2024-05-01 15:00 UTC; граница EOD 22:00 UTC, последняя - 30 апреля
var testNow = time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]float64)}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakePrices) GetPrice(_ context.Context, symbol string) (models.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return models.PriceQuote{}, fmt.Errorf("%s: %w", symbol, models.ErrPriceFeedDegraded)
	}
	return models.PriceQuote{Symbol: symbol, Price: p, Tier: models.TierStream, AsOf: testNow}, nil
}

func (f *fakePrices) LastKnown(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	return p, ok
}

type harness struct {
	e      *Engine
	store  *repository.MemoryStore
	prices *fakePrices
	clock  *testClock
}

type harnessOpts struct {
	cfg       func(*Config)
	limits    risk.Limits
	store     repository.Store
	evaluator SignalEvaluator
}

func testConfig() Config {
	return Config{
		Symbols:         []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		InitialBalance:  100,
		SignalTTL:       4 * time.Hour,
		AnalysisWindow:  50,
		CycleInterval:   time.Minute,
		TickInterval:    time.Second,
		IntentQueueSize: 16,
		EODTime:         utils.ClockTime{Hour: 22},
		EODLocation:     time.UTC,
	}
}

func defaultLimits() risk.Limits {
	return risk.Limits{RiskPerTrade: 0.01, MaxPortfolioRisk: 0.05, MaxConcurrentSignals: 5}
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	cfg := testConfig()
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}
	limits := opts.limits
	if limits.RiskPerTrade == 0 {
		limits = defaultLimits()
	}
	mem := repository.NewMemoryStore()
	var store repository.Store = mem
	if opts.store != nil {
		store = opts.store
	}

	params := func(string) config.SymbolParams { return config.DefaultSymbolParams() }
	log := utils.NewNopLogger()
	h := &harness{store: mem, prices: newFakePrices(), clock: &testClock{t: testNow}}

	h.e = NewEngine(cfg, Deps{
		Store:     store,
		Prices:    h.prices,
		Candles:   stubCandles{},
		Evaluator: opts.evaluator,
		Admission: risk.NewController(limits, params, risk.NewCooldownTracker(0), log),
		Params:    params,
		Log:       log,
	})
	h.e.now = h.clock.Now
	var seq atomic.Int64
	h.e.newID = func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

type stubCandles struct{}

func (stubCandles) Window(string, int) []models.Candle { return nil }

func buy(id, symbol string, entry, stop float64) *models.ConfluenceSignal {
	return &models.ConfluenceSignal{
		ID:              id,
		Symbol:          symbol,
		Action:          models.ActionBuy,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      entry + 3*(entry-stop),
		ConfluenceScore: 0.85,
		GeneratedAt:     testNow,
	}
}

func allLedger(t *testing.T, s repository.Store) []models.LedgerEntry {
	t.Helper()
	from, to := repository.AllTime()
	entries, err := s.ListLedger(context.Background(), from, to)
	require.NoError(t, err)
	return entries
}

func signalStatus(t *testing.T, s repository.Store, id string) models.SignalStatus {
	t.Helper()
	from, to := repository.AllTime()
	sigs, err := s.ListSignals(context.Background(), from, to)
	require.NoError(t, err)
	for _, sig := range sigs {
		if sig.ID == id {
			return sig.Status
		}
	}
	t.Fatalf("signal %s not stored", id)
	return ""
}

func TestEngine_OpenPositionSizing(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	sig, d, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.True(t, d.Accepted)
	assert.InDelta(t, 1.0, d.RiskAmount, 1e-9)
	assert.InDelta(t, 0.002, d.Size, 1e-12)
	assert.Equal(t, models.SignalActive, sig.Status)
	require.NotEmpty(t, sig.PositionID)
	assert.Equal(t, testNow.Add(4*time.Hour), sig.ExpiresAt)

	snap := h.e.Snapshot()
	require.Len(t, snap.Positions, 1)
	p := snap.Positions[0]
	assert.Equal(t, models.PositionOpen, p.Status)
	assert.Equal(t, models.SideLong, p.Side)
	assert.InDelta(t, 51500, p.TakeProfit, 1e-9)
	assert.InDelta(t, 1.0, snap.OpenRisk, 1e-9)
	require.Len(t, snap.Signals, 1)

	stored, err := h.store.GetPosition(ctx, sig.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, stored.Status)
	assert.Equal(t, models.SignalActive, signalStatus(t, h.store, "s1"))
}

func TestEngine_StopLossClamped(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	sig, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)

	// гэп через стоп: без ограничения убыток был бы 2.0
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49000, testNow.Add(time.Minute)))

	snap := h.e.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Signals)
	assert.InDelta(t, 99.0, snap.Portfolio.Balance, 1e-9)

	stored, err := h.store.GetPosition(ctx, sig.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, stored.Status)
	assert.Equal(t, models.PositionStopLoss, stored.CloseReason)
	assert.InDelta(t, -1.0, stored.RealizedPnl, 1e-9)
	assert.LessOrEqual(t, -stored.RealizedPnl, stored.RiskAmount+utils.Eps)
	require.NotNil(t, stored.ClosedAt)

	entries := allLedger(t, h.store)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerTrade, entries[0].Kind)
	assert.InDelta(t, 99.0, entries[0].BalanceAfter, 1e-9)
	assert.Equal(t, models.SignalClosed, signalStatus(t, h.store, "s1"))
}

func TestEngine_TakeProfitNotClamped(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 52000, testNow))

	snap := h.e.Snapshot()
	assert.InDelta(t, 104.0, snap.Portfolio.Balance, 1e-9)
	assert.InDelta(t, 104.0, snap.Portfolio.HighWaterMark, 1e-9)
	assert.InDelta(t, 4.0, snap.Portfolio.RealizedPnl, 1e-9)
}

func TestEngine_TickWithinRangeMarksToMarket(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 50250, testNow))

	snap := h.e.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 0.5, snap.Positions[0].UnrealizedPnl, 1e-9)
	assert.InDelta(t, 0.5, snap.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 100.0, snap.Portfolio.Balance, 1e-9)

	assert.Error(t, h.e.OnTick(ctx, "BTCUSDT", 0, testNow))
}

func TestEngine_PriceTooClose(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, d, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 49800, 49300))
	require.NoError(t, err)
	require.True(t, d.Accepted)

	sig, d, err := h.e.SubmitCandidate(ctx, buy("s2", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, models.RejectPriceTooClose, d.Reason)
	assert.Equal(t, models.SignalRejected, sig.Status)
	assert.Equal(t, string(models.RejectPriceTooClose), sig.RejectReason)
	assert.Equal(t, models.SignalRejected, signalStatus(t, h.store, "s2"))
	assert.Len(t, h.e.Snapshot().Positions, 1)
}

func TestEngine_AccountBlownAndReset(t *testing.T) {
	h := newHarness(t, harnessOpts{
		limits: risk.Limits{RiskPerTrade: 1, MaxPortfolioRisk: 1, MaxConcurrentSignals: 5},
	})
	ctx := context.Background()

	_, d, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.True(t, d.Accepted)
	assert.InDelta(t, 100.0, d.RiskAmount, 1e-9)

	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49500, testNow))

	snap := h.e.Snapshot()
	assert.InDelta(t, 0.0, snap.Portfolio.Balance, 1e-9)
	assert.True(t, snap.Portfolio.Blown)
	require.NotNil(t, snap.Portfolio.BlownAt)

	best := buy("s2", "ETHUSDT", 3000, 2970)
	best.ConfluenceScore = 1
	_, d, err = h.e.SubmitCandidate(ctx, best)
	require.NoError(t, err)
	assert.Equal(t, models.RejectAccountBlown, d.Reason)

	assert.True(t, models.IsValidationError(h.e.ResetAccount(ctx, 0)))
	require.NoError(t, h.e.ResetAccount(ctx, 50))

	snap = h.e.Snapshot()
	assert.False(t, snap.Portfolio.Blown)
	assert.Nil(t, snap.Portfolio.BlownAt)
	assert.InDelta(t, 50.0, snap.Portfolio.Balance, 1e-9)
	assert.InDelta(t, 50.0, snap.Portfolio.HighWaterMark, 1e-9)

	entries := allLedger(t, h.store)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerReset, entries[1].Kind)
	rebuilt := RebuildPortfolio(100, entries)
	assert.InDelta(t, 50.0, rebuilt.Balance, 1e-9)
	assert.False(t, rebuilt.Blown)

	again := buy("s3", "ETHUSDT", 3000, 2970)
	_, d, err = h.e.SubmitCandidate(ctx, again)
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

func TestEngine_CancelledWhenStopAlreadyBreached(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49400, testNow))

	sig, d, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, models.RejectInvalidStop, d.Reason)
	assert.Equal(t, models.SignalInvalidated, sig.Status)
	assert.Empty(t, h.e.Snapshot().Positions)
	assert.Equal(t, models.SignalInvalidated, signalStatus(t, h.store, "s1"))
}

func TestEngine_EmergencyPositionLoss(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: func(c *Config) { c.PositionLossLimit = 0.005 }})
	ctx := context.Background()

	sig, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)

	h.prices.set("BTCUSDT", 49700)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49700, testNow))

	stored, err := h.store.GetPosition(ctx, sig.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionEmergencyClose, stored.CloseReason)
	assert.InDelta(t, 49700, stored.ExitPrice, 1e-9)
	assert.InDelta(t, 99.4, h.e.Snapshot().Portfolio.Balance, 1e-9)
}

// аварийное закрытие на тике идёт по цене тика, а не по отставшему адаптеру
func TestEngine_EmergencyClosesAtTickPrice(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: func(c *Config) { c.PositionLossLimit = 0.005 }})
	ctx := context.Background()

	sig, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)

	h.prices.set("BTCUSDT", 49900)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49700, testNow))

	stored, err := h.store.GetPosition(ctx, sig.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionEmergencyClose, stored.CloseReason)
	assert.InDelta(t, 49700, stored.ExitPrice, 1e-9)
	assert.InDelta(t, -0.6, stored.RealizedPnl, 1e-9)
	assert.InDelta(t, 99.4, h.e.Snapshot().Portfolio.Balance, 1e-9)
}

func TestEngine_EmergencyDrawdownClosesAll(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: func(c *Config) { c.MaxDrawdown = 0.01 }})
	ctx := context.Background()

	_, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	_, _, err = h.e.SubmitCandidate(ctx, buy("s2", "ETHUSDT", 3000, 2970))
	require.NoError(t, err)

	h.prices.set("BTCUSDT", 49600)
	h.prices.set("ETHUSDT", 2975)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 49600, testNow))
	require.Len(t, h.e.Snapshot().Positions, 2, "0.8% drawdown is within limit")

	require.NoError(t, h.e.OnTick(ctx, "ETHUSDT", 2975, testNow))

	snap := h.e.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 100-0.8-25.0/30, snap.Portfolio.Balance, 1e-9)

	open, err := h.store.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	for _, e := range allLedger(t, h.store) {
		p, err := h.store.GetPosition(ctx, e.PositionID)
		require.NoError(t, err)
		assert.Equal(t, models.PositionEmergencyClose, p.CloseReason)
	}
}

func TestEngine_Inbound(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	inbound := func(deadline time.Time) *models.InboundSignal {
		return &models.InboundSignal{
			Symbol:              "btcusdt",
			Action:              models.ActionBuy,
			ValidatedPrice:      50000,
			StopLoss:            49500,
			TakeProfit:          51500,
			ConfidenceScore:     0.8,
			Origin:              models.SignalOrigin{Source: "alerts"},
			ProcessingTimestamp: testNow,
			ExecutionDeadline:   deadline,
		}
	}

	t.Run("expired is a validation error", func(t *testing.T) {
		_, _, err := h.e.SubmitInbound(ctx, inbound(testNow.Add(-time.Minute)))
		require.Error(t, err)
		assert.True(t, models.IsValidationError(err))
		assert.True(t, errors.Is(err, models.ErrSignalExpired))
		assert.Empty(t, h.e.Snapshot().Positions)
	})

	t.Run("valid goes through admission", func(t *testing.T) {
		sig, d, err := h.e.SubmitInbound(ctx, inbound(testNow.Add(10*time.Minute)))
		require.NoError(t, err)
		require.True(t, d.Accepted)
		assert.Equal(t, "BTCUSDT", sig.Symbol)
		assert.Equal(t, models.SourceInbound, sig.Source)
		assert.Equal(t, testNow.Add(10*time.Minute), sig.ExpiresAt)
		assert.Len(t, h.e.Snapshot().Positions, 1)
	})
}

// 3 OPEN позиции в хранилище закрываются по last-known цене
func TestEngine_EODSweepStorePositions(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	boundary := time.Date(2024, 4, 30, 22, 0, 0, 0, time.UTC)
	h.clock.Set(boundary.Add(time.Hour))

	mk := func(id, symbol string, side models.Side, entry, size float64, opened time.Time) *models.Position {
		return &models.Position{
			ID: id, SignalID: "sig-" + id, Symbol: symbol, Side: side,
			Size: size, EntryPrice: entry, LastPrice: entry, RiskAmount: 1,
			Status: models.PositionOpen, OpenedAt: opened,
		}
	}
	for _, p := range []*models.Position{
		mk("p1", "BTCUSDT", models.SideLong, 50000, 0.002, boundary.Add(-2*time.Hour)),
		mk("p2", "ETHUSDT", models.SideShort, 3000, 0.1, boundary.Add(-3*time.Hour)),
		mk("p3", "SOLUSDT", models.SideLong, 160, 1, boundary.Add(-4*time.Hour)),
		mk("p4", "BTCUSDT", models.SideLong, 51000, 0.002, boundary.Add(30*time.Minute)),
	} {
		require.NoError(t, h.store.SavePosition(ctx, p))
	}
	h.prices.set("BTCUSDT", 51000)
	h.prices.set("ETHUSDT", 2900)
	h.prices.set("SOLUSDT", 150)

	report, err := h.e.SweepEOD(ctx, boundary)
	require.NoError(t, err)
	assert.False(t, report.Duplicate)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, report.Closed)
	// +2 +10 -10
	assert.InDelta(t, 2.0, report.Realized, 1e-9)
	assert.InDelta(t, 102.0, report.Balance, 1e-9)

	for _, id := range []string{"p1", "p2", "p3"} {
		p, err := h.store.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PositionClosed, p.Status, id)
		assert.Equal(t, models.PositionEODClose, p.CloseReason, id)
	}
	open, err := h.store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "p4", open[0].ID)

	again, err := h.e.SweepEOD(ctx, boundary)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Empty(t, again.Closed)
	assert.InDelta(t, 102.0, h.e.Snapshot().Portfolio.Balance, 1e-9)
	assert.Len(t, allLedger(t, h.store), 3)
}

func TestEngine_EODSweepInMemoryPosition(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	sig, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 50100, testNow))

	boundary := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	h.clock.Set(boundary)
	report, err := h.e.SweepEOD(ctx, boundary)
	require.NoError(t, err)
	require.Equal(t, []string{sig.PositionID}, report.Closed)
	assert.InDelta(t, 0.2, report.Realized, 1e-9)
	assert.Empty(t, h.e.Snapshot().Positions)
	assert.Equal(t, boundary, h.e.Snapshot().LastSweep)
}

// опоздавший sweep всё равно датирует закрытие границей дня
func TestEngine_EODSweepLateStampsBoundary(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	sig, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 50100, testNow))

	boundary := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	h.clock.Set(boundary.Add(2 * time.Second))
	_, err = h.e.SweepEOD(ctx, boundary)
	require.NoError(t, err)

	p, err := h.store.GetPosition(ctx, sig.PositionID)
	require.NoError(t, err)
	require.NotNil(t, p.ClosedAt)
	assert.True(t, p.ClosedAt.Equal(boundary))

	ledger := allLedger(t, h.store)
	require.Len(t, ledger, 1)
	assert.True(t, ledger[0].CreatedAt.Equal(boundary))

	day := h.e.TradingDay(boundary.Add(-time.Hour))
	assert.True(t, ledger[0].CreatedAt.Equal(day.End))
}

func seedRecoveryStore(t *testing.T, s *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	yesterday := testNow.Add(-24 * time.Hour)
	closedAt := testNow.Add(-4 * time.Hour)

	for _, e := range []*models.LedgerEntry{
		{Kind: models.LedgerTrade, PositionID: "old-1", Amount: 5, BalanceAfter: 105, CreatedAt: yesterday},
		{Kind: models.LedgerTrade, PositionID: "p-old", Amount: -2, BalanceAfter: 103, CreatedAt: closedAt},
	} {
		require.NoError(t, s.AppendRealizedPnl(ctx, e))
	}

	require.NoError(t, s.SavePosition(ctx, &models.Position{
		ID: "p-old", SignalID: "s5", Symbol: "ETHUSDT", Side: models.SideLong, Size: 0.1,
		EntryPrice: 3000, RiskAmount: 2, Status: models.PositionClosed, CloseReason: models.PositionStopLoss,
		OpenedAt: testNow.Add(-5 * time.Hour), ClosedAt: &closedAt,
	}))
	require.NoError(t, s.SavePosition(ctx, &models.Position{
		ID: "p1", SignalID: "s1", Symbol: "BTCUSDT", Side: models.SideLong, Size: 0.002,
		EntryPrice: 50000, StopLoss: 49500, TakeProfit: 51500, RiskAmount: 1,
		Status: models.PositionOpen, LastPrice: 50000, OpenedAt: testNow.Add(-time.Hour),
	}))

	sig := func(id, symbol string, entry float64, generated, expires time.Time, positionID string) *models.ConfluenceSignal {
		s := buy(id, symbol, entry, entry*0.99)
		s.Status = models.SignalActive
		s.GeneratedAt = generated
		s.ExpiresAt = expires
		s.PositionID = positionID
		return s
	}
	for _, x := range []*models.ConfluenceSignal{
		sig("s1", "BTCUSDT", 50000, testNow.Add(-time.Hour), testNow.Add(3*time.Hour), "p1"),
		sig("s2", "ETHUSDT", 3100, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour), ""),
		sig("s3", "BTCUSDT", 50100, testNow.Add(-30*time.Minute), testNow.Add(3*time.Hour), ""),
		sig("s4", "SOLUSDT", 150, testNow.Add(-20*time.Minute), testNow.Add(3*time.Hour), ""),
		sig("s5", "ETHUSDT", 3000, testNow.Add(-5*time.Hour), testNow.Add(-time.Hour), "p-old"),
	} {
		require.NoError(t, s.SaveSignal(ctx, x))
	}
}

func TestEngine_RecoverIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	seedRecoveryStore(t, h.store)

	report, err := h.e.Recover(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 103.0, report.Balance, 1e-9)
	assert.Equal(t, 2, report.LedgerEntries)
	assert.Equal(t, 1, report.OpenPositions)
	assert.Equal(t, 2, report.LiveSignals)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Invalidated)
	assert.Nil(t, report.CatchUp)

	assert.Equal(t, models.SignalClosed, signalStatus(t, h.store, "s5"))
	assert.Equal(t, models.SignalExpired, signalStatus(t, h.store, "s2"))
	assert.Equal(t, models.SignalInvalidated, signalStatus(t, h.store, "s3"))
	assert.Equal(t, models.SignalActive, signalStatus(t, h.store, "s4"))

	first := h.e.Snapshot()

	report2, err := h.e.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report2.LiveSignals)
	assert.Zero(t, report2.Expired+report2.Invalidated+report2.Closed)

	second := h.e.Snapshot()
	assert.Equal(t, first.Portfolio, second.Portfolio)
	assert.Equal(t, first.Positions, second.Positions)
	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, first.OpenRisk, second.OpenRisk)

	// восстановленный набор участвует в допуске
	_, d, err := h.e.SubmitCandidate(ctx, buy("s6", "SOLUSDT", 151, 149))
	require.NoError(t, err)
	assert.Equal(t, models.RejectPriceTooClose, d.Reason)
}

func TestEngine_RecoverCatchUpSweep(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.store.SavePosition(ctx, &models.Position{
		ID: "p-stale", SignalID: "s-stale", Symbol: "BTCUSDT", Side: models.SideLong, Size: 0.002,
		EntryPrice: 50000, StopLoss: 49500, RiskAmount: 1, Status: models.PositionOpen,
		LastPrice: 50000, OpenedAt: time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC),
	}))
	h.prices.set("BTCUSDT", 50500)

	report, err := h.e.Recover(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.CatchUp)
	assert.Equal(t, []string{"p-stale"}, report.CatchUp.Closed)
	assert.Equal(t, 0, report.OpenPositions)
	assert.InDelta(t, 101.0, report.Balance, 1e-9)

	p, err := h.store.GetPosition(ctx, "p-stale")
	require.NoError(t, err)
	assert.Equal(t, models.PositionEODClose, p.CloseReason)
}

func TestEngine_ExpireSignals(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	live := buy("s1", "SOLUSDT", 150, 148)
	live.Status = models.SignalActive
	live.ExpiresAt = testNow.Add(time.Hour)
	require.NoError(t, h.store.SaveSignal(ctx, live))

	_, err := h.e.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, h.e.Snapshot().Signals, 1)

	n, err := h.e.ExpireSignals(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Set(testNow.Add(time.Hour))
	n, err = h.e.ExpireSignals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.e.Snapshot().Signals)
	assert.Equal(t, models.SignalExpired, signalStatus(t, h.store, "s1"))
}

type fakeEvaluator map[string]*models.ConfluenceSignal

func (f fakeEvaluator) Evaluate(symbol string, _ []models.Candle, _ config.SymbolParams) (*models.ConfluenceSignal, confluence.Rejection) {
	if s, ok := f[symbol]; ok {
		return s, confluence.NoRejection
	}
	return nil, confluence.RejectNoOrderBlocks
}

func TestEngine_Cycle(t *testing.T) {
	h := newHarness(t, harnessOpts{evaluator: fakeEvaluator{
		"BTCUSDT": buy("s1", "BTCUSDT", 50000, 49500),
	}})
	h.prices.set("BTCUSDT", 50000)
	h.prices.set("ETHUSDT", 3000)

	report := h.e.Cycle(context.Background())
	require.Len(t, report.Results, 3)
	assert.Equal(t, 1, report.Opened())

	byID := make(map[string]SymbolResult)
	for _, r := range report.Results {
		byID[r.Symbol] = r
	}
	require.NotNil(t, byID["BTCUSDT"].Signal)
	assert.Equal(t, models.SignalActive, byID["BTCUSDT"].Signal.Status)
	assert.Equal(t, confluence.RejectNoOrderBlocks, byID["ETHUSDT"].NoSignal)
	assert.Equal(t, "feed_degraded", byID["SOLUSDT"].Skipped)
	assert.Len(t, h.e.Snapshot().Positions, 1)
}

// хранилище, которое никогда не принимает закрытие
type failingCloseStore struct {
	*repository.MemoryStore
}

func (f failingCloseStore) ClosePosition(context.Context, *models.Position, *models.LedgerEntry) error {
	return errors.New("connection reset")
}

func TestEngine_PersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	inner := failingCloseStore{repository.NewMemoryStore()}
	store := repository.NewRetryingStore(inner, retry.Config{
		MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, RetryIf: retry.RetryIfNotContext,
	}, utils.NewNopLogger())
	h := newHarness(t, harnessOpts{store: store})
	ctx := context.Background()

	_, _, err := h.e.SubmitCandidate(ctx, buy("s1", "BTCUSDT", 50000, 49500))
	require.NoError(t, err)
	require.NoError(t, h.e.OnTick(ctx, "BTCUSDT", 52000, testNow))

	snap := h.e.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 104.0, snap.Portfolio.Balance, 1e-9)
}

func TestEngine_StoppedEngineRejectsIntents(t *testing.T) {
	e := NewEngine(testConfig(), Deps{Store: repository.NewMemoryStore(), Prices: newFakePrices(), Log: utils.NewNopLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- e.Run(ctx) }()

	require.NoError(t, e.OnTick(context.Background(), "BTCUSDT", 50000, testNow))
	cancel()
	assert.ErrorIs(t, <-stopped, context.Canceled)

	err := e.OnTick(context.Background(), "BTCUSDT", 50000, testNow)
	assert.ErrorIs(t, err, models.ErrEngineStopped)
	assert.Error(t, e.Run(context.Background()), "engine cannot be restarted")
}
