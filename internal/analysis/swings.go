// Package analysis выделяет структурные примитивы рынка из окна свечей:
// swing-точки, bias, order blocks, FVG, пулы ликвидности, слом структуры.
// Все функции чистые и не сохраняют состояние между циклами.
package analysis

import (
	"smcbot/internal/models"
)

// DefaultSwingLookback свечей с каждой стороны фрактала
const DefaultSwingLookback = 2

// FindSwingPoints фрактальные экстремумы в хронологическом порядке.
// Свеча i - swing high, если её High строго выше lookback свечей слева
// и не ниже lookback свечей справа (плато даёт одну точку). Для low симметрично.
func FindSwingPoints(candles []models.Candle, lookback int) []models.SwingPoint {
	if lookback < 1 {
		lookback = DefaultSwingLookback
	}
	n := len(candles)
	if n < 2*lookback+1 {
		return nil
	}

	var swings []models.SwingPoint
	for i := lookback; i < n-lookback; i++ {
		c := candles[i]
		isHigh, isLow := true, true

		for j := i - lookback; j < i; j++ {
			if candles[j].High >= c.High {
				isHigh = false
			}
			if candles[j].Low <= c.Low {
				isLow = false
			}
		}
		for j := i + 1; j <= i+lookback; j++ {
			if candles[j].High > c.High {
				isHigh = false
			}
			if candles[j].Low < c.Low {
				isLow = false
			}
		}

		if isHigh {
			swings = append(swings, models.SwingPoint{Price: c.High, OccurredAt: c.OpenTime, Kind: models.SwingHigh, Index: i})
		}
		if isLow {
			swings = append(swings, models.SwingPoint{Price: c.Low, OccurredAt: c.OpenTime, Kind: models.SwingLow, Index: i})
		}
	}
	return swings
}

// lastSwings последние count точек вида kind в хронологическом порядке
func lastSwings(swings []models.SwingPoint, kind models.SwingKind, count int) []models.SwingPoint {
	out := make([]models.SwingPoint, 0, count)
	for i := len(swings) - 1; i >= 0 && len(out) < count; i-- {
		if swings[i].Kind == kind {
			out = append(out, swings[i])
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// WindowRange максимум High и минимум Low окна
func WindowRange(candles []models.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// NetChange доля изменения от открытия первой свечи до закрытия последней
func NetChange(candles []models.Candle) float64 {
	if len(candles) == 0 || candles[0].Open <= 0 {
		return 0
	}
	return (candles[len(candles)-1].Close - candles[0].Open) / candles[0].Open
}

// threshold порог значимого движения: volFactor × 1%
func threshold(volFactor float64) float64 {
	if volFactor <= 0 {
		volFactor = 1
	}
	return volFactor * 0.01
}
