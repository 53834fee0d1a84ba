package analysis

import (
	"smcbot/internal/models"
)

// ClassifyBias направление структуры.
// HH+HL - бычья, LH+LL - медвежья; иначе решает чистое изменение цены
// относительно порога volFactor × 1%.
func ClassifyBias(candles []models.Candle, swings []models.SwingPoint, volFactor float64) models.Bias {
	highs := lastSwings(swings, models.SwingHigh, 2)
	lows := lastSwings(swings, models.SwingLow, 2)

	if len(highs) == 2 && len(lows) == 2 {
		higherHigh := highs[1].Price > highs[0].Price
		higherLow := lows[1].Price > lows[0].Price
		lowerHigh := highs[1].Price < highs[0].Price
		lowerLow := lows[1].Price < lows[0].Price

		switch {
		case higherHigh && higherLow:
			return models.BiasBullish
		case lowerHigh && lowerLow:
			return models.BiasBearish
		}
	}

	net := NetChange(candles)
	thr := threshold(volFactor)
	switch {
	case net >= thr:
		return models.BiasBullish
	case net <= -thr:
		return models.BiasBearish
	default:
		return models.BiasNeutral
	}
}
