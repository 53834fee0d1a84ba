package analysis

import (
	"errors"
	"fmt"

	"smcbot/internal/models"
)

// MinCandles минимальный размер окна
const MinCandles = 20

var (
	ErrInsufficientData = errors.New("not enough candles")
	ErrZeroRange        = errors.New("zero-range window")
	ErrInvalidCandle    = errors.New("inconsistent candle")
)

// Params параметры анализа символа
type Params struct {
	VolatilityFactor float64
	SwingLookback    int
}

// Structure результат анализа окна
type Structure struct {
	Price     float64
	High      float64
	Low       float64
	Swings    []models.SwingPoint
	Bias      models.Bias
	Blocks    []models.OrderBlock
	Gaps      []models.FairValueGap
	Pools     []models.LiquidityPool
	Break     models.ChangeOfCharacterSignal
	NetChange float64
}

// Analyze строит все примитивы окна. Вырожденное окно (мало свечей,
// нулевой диапазон, несогласованная свеча) даёт ошибку, не панику.
func Analyze(candles []models.Candle, p Params) (*Structure, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), MinCandles)
	}
	for i, c := range candles {
		if !c.Valid() {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidCandle, i)
		}
	}

	high, low := WindowRange(candles)
	if high-low <= 0 {
		return nil, ErrZeroRange
	}

	swings := FindSwingPoints(candles, p.SwingLookback)
	bias := ClassifyBias(candles, swings, p.VolatilityFactor)

	return &Structure{
		Price:     candles[len(candles)-1].Close,
		High:      high,
		Low:       low,
		Swings:    swings,
		Bias:      bias,
		Blocks:    DetectOrderBlocks(candles, bias, p.VolatilityFactor),
		Gaps:      DetectFairValueGaps(candles),
		Pools:     DetectLiquidityPools(swings, EqualLevelTolerance),
		Break:     DetectStructureBreak(candles, swings, bias, p.VolatilityFactor),
		NetChange: NetChange(candles),
	}, nil
}

// GapOverlapping незаполненный разрыв того же направления, пересекающий блок
func (s *Structure) GapOverlapping(b models.OrderBlock) (models.FairValueGap, bool) {
	for _, g := range s.Gaps {
		if g.Kind == b.Kind && !g.Mitigated && g.Overlaps(b.PriceLow, b.PriceHigh) {
			return g, true
		}
	}
	return models.FairValueGap{}, false
}
