// Package confluence сводит структурные примитивы в не более чем один
// направленный сигнал на символ за цикл.
package confluence

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"smcbot/internal/analysis"
	"smcbot/internal/config"
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// Веса и бонусы оценки
const (
	BlockWeight     = 0.4
	FibonacciBonus  = 0.15
	GapBonus        = 0.15
	BOSBonus        = 0.10
	CHoCHBonus      = 0.10
	LiquidityBonus  = 0.10
	MinRewardFactor = 2.0
	MaxRewardFactor = 5.0
)

// Rejection причина отсутствия сигнала в цикле; пустая - сигнал есть
type Rejection string

const (
	NoRejection            Rejection = ""
	RejectInsufficientData Rejection = "INSUFFICIENT_DATA"
	RejectZeroRange        Rejection = "ZERO_RANGE"
	RejectInvalidCandles   Rejection = "INVALID_CANDLES"
	RejectNeutralBias      Rejection = "NEUTRAL_BIAS"
	RejectNoOrderBlocks    Rejection = "NO_ORDER_BLOCKS"
	RejectAllMitigated     Rejection = "ALL_BLOCKS_MITIGATED"
	RejectNoStructureBreak Rejection = "NO_STRUCTURE_BREAK"
	RejectBelowMinimum     Rejection = "BELOW_MIN_CONFLUENCE"
)

// RewardMultiplier множитель цели от уверенности: clamp(score×5, 2, 5)
func RewardMultiplier(score float64) float64 {
	return utils.Clamp(score*5, MinRewardFactor, MaxRewardFactor)
}

// Engine конвейер оценки. Без состояния между вызовами.
type Engine struct {
	log   *utils.Logger
	now   func() time.Time
	newID func() string
}

// NewEngine создаёт конвейер
func NewEngine(log *utils.Logger) *Engine {
	if log == nil {
		log = utils.L()
	}
	return &Engine{
		log:   log.WithComponent("confluence"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

type scoredBlock struct {
	block     models.OrderBlock
	breakdown models.ComponentBreakdown
	score     float64
}

// Evaluate прогоняет окно через все стадии. Любая стадия может завершить
// цикл без сигнала; вырожденное окно не приводит к панике.
// Сигнал со score ниже MinConfluence символа никогда не возвращается.
func (e *Engine) Evaluate(symbol string, candles []models.Candle, params config.SymbolParams) (*models.ConfluenceSignal, Rejection) {
	rej := e.evaluate(symbol, candles, params)
	SignalsEvaluated.WithLabelValues(symbol, rejectionLabel(rej.reason)).Inc()
	if rej.reason != NoRejection {
		e.log.Debug("No signal", utils.Symbol(symbol), utils.Reason(string(rej.reason)))
		return nil, rej.reason
	}
	return rej.signal, NoRejection
}

type outcome struct {
	signal *models.ConfluenceSignal
	reason Rejection
}

func (e *Engine) evaluate(symbol string, candles []models.Candle, params config.SymbolParams) outcome {
	// 1. структура
	st, err := analysis.Analyze(candles, analysis.Params{VolatilityFactor: params.VolatilityFactor})
	switch {
	case errors.Is(err, analysis.ErrInsufficientData):
		return outcome{reason: RejectInsufficientData}
	case errors.Is(err, analysis.ErrZeroRange):
		return outcome{reason: RejectZeroRange}
	case err != nil:
		return outcome{reason: RejectInvalidCandles}
	}
	if st.Bias == models.BiasNeutral {
		return outcome{reason: RejectNeutralBias}
	}

	// 2. order blocks по направлению bias
	if len(st.Blocks) == 0 {
		return outcome{reason: RejectNoOrderBlocks}
	}

	// 5. слом структуры общий для окна
	if st.Break.Kind == models.BreakNone {
		return outcome{reason: RejectNoStructureBreak}
	}

	// 6. ликвидность рядом с ценой
	_, nearPool := analysis.NearestPool(st.Pools, st.Price, analysis.LiquidityProximity)

	var best *scoredBlock
	for _, b := range st.Blocks {
		// 4. отменённый блок отбрасывается
		if b.Mitigated {
			continue
		}

		bd := models.ComponentBreakdown{
			Bias:          st.Bias,
			BlockStrength: BlockWeight * b.Strength,
		}

		// 2. незаполненный разрыв того же направления поверх блока
		if g, ok := st.GapOverlapping(b); ok {
			bd.Gap = GapBonus * (1 - g.FillFraction)
		}

		// 3. фибоначчи
		if level, ok := analysis.MatchFibonacci(b, st.High, st.Low, st.Bias, params.FibTolerance); ok {
			bd.Fibonacci = FibonacciBonus
			bd.FibLevel = level
		}

		bd.BreakOfStructure = BOSBonus
		if st.Break.Kind == models.BreakCHoCH {
			bd.ChangeOfCharacter = CHoCHBonus
			bd.ChochStrength = st.Break.Strength
		}
		if nearPool {
			bd.Liquidity = LiquidityBonus
		}

		score := utils.Clamp(bd.Total(), 0, 1)
		if best == nil || score > best.score {
			best = &scoredBlock{block: b, breakdown: bd, score: score}
		}
	}
	if best == nil {
		return outcome{reason: RejectAllMitigated}
	}

	// 7. выбор
	if best.score < params.MinConfluence {
		return outcome{reason: RejectBelowMinimum}
	}

	return outcome{signal: e.buildSignal(symbol, st, best, params)}
}

func (e *Engine) buildSignal(symbol string, st *analysis.Structure, best *scoredBlock, params config.SymbolParams) *models.ConfluenceSignal {
	entry := st.Price
	offset := entry * params.BaseStopPct * params.VolatilityFactor
	reward := offset * RewardMultiplier(best.score)

	sig := &models.ConfluenceSignal{
		ID:              e.newID(),
		Symbol:          symbol,
		EntryPrice:      entry,
		ConfluenceScore: best.score,
		Breakdown:       best.breakdown,
		Source:          models.SourcePipeline,
		GeneratedAt:     e.now(),
	}
	if st.Bias == models.BiasBullish {
		sig.Action = models.ActionBuy
		sig.StopLoss = entry - offset
		sig.TakeProfit = entry + reward
	} else {
		sig.Action = models.ActionSell
		sig.StopLoss = entry + offset
		sig.TakeProfit = entry - reward
	}

	e.log.Info("Signal generated",
		utils.Symbol(symbol),
		utils.SignalID(sig.ID),
		utils.String("action", string(sig.Action)),
		utils.Price(entry),
		utils.Score(sig.ConfluenceScore),
	)
	return sig
}

func rejectionLabel(r Rejection) string {
	if r == NoRejection {
		return "signal"
	}
	return string(r)
}
