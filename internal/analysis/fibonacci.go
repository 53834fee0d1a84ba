package analysis

import (
	"math"

	"smcbot/internal/models"
)

// FibLevels канонические уровни коррекции
var FibLevels = []float64{0.236, 0.382, 0.5, 0.618, 0.705, 0.786}

// RetracementFraction доля коррекции середины блока от экстремума окна
// в направлении bias: для бычьего отсчёт от максимума вниз, для медвежьего
// от минимума вверх. ok=false для нулевого диапазона.
func RetracementFraction(block models.OrderBlock, high, low float64, bias models.Bias) (float64, bool) {
	rng := high - low
	if rng <= 0 {
		return 0, false
	}
	switch bias {
	case models.BiasBullish:
		return (high - block.Mid()) / rng, true
	case models.BiasBearish:
		return (block.Mid() - low) / rng, true
	}
	return 0, false
}

// MatchFibonacci ближайший уровень, до которого доля коррекции блока не дальше tolerance
func MatchFibonacci(block models.OrderBlock, high, low float64, bias models.Bias, tolerance float64) (float64, bool) {
	frac, ok := RetracementFraction(block, high, low, bias)
	if !ok {
		return 0, false
	}

	best, bestDist := 0.0, math.Inf(1)
	for _, level := range FibLevels {
		if d := math.Abs(frac - level); d < bestDist {
			best, bestDist = level, d
		}
	}
	if bestDist > tolerance {
		return 0, false
	}
	return best, true
}
