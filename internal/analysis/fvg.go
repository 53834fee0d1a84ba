package analysis

import (
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// DetectFairValueGaps трёхсвечные разрывы в хронологическом порядке.
// Бычий: Low третьей свечи выше High первой. Медвежий: High третьей ниже Low первой.
// Заполнение считается по последующим свечам; полностью заполненный разрыв mitigated.
func DetectFairValueGaps(candles []models.Candle) []models.FairValueGap {
	var gaps []models.FairValueGap

	for i := 1; i < len(candles)-1; i++ {
		prev, mid, next := candles[i-1], candles[i], candles[i+1]

		var g models.FairValueGap
		switch {
		case next.Low > prev.High:
			g = models.FairValueGap{Kind: models.Bullish, PriceLow: prev.High, PriceHigh: next.Low}
		case next.High < prev.Low:
			g = models.FairValueGap{Kind: models.Bearish, PriceLow: next.High, PriceHigh: prev.Low}
		default:
			continue
		}
		if mid.Close <= 0 {
			continue
		}

		g.Index = i
		g.FormedAt = mid.OpenTime
		g.GapSize = (g.PriceHigh - g.PriceLow) / mid.Close
		g.FillFraction = fillFraction(g, candles[i+2:])
		g.Mitigated = g.FillFraction >= 1
		gaps = append(gaps, g)
	}
	return gaps
}

func fillFraction(g models.FairValueGap, later []models.Candle) float64 {
	size := g.PriceHigh - g.PriceLow
	if size <= 0 || len(later) == 0 {
		return 0
	}

	var filled float64
	for _, c := range later {
		var f float64
		if g.Kind == models.Bullish {
			f = (g.PriceHigh - c.Low) / size
		} else {
			f = (c.High - g.PriceLow) / size
		}
		if f > filled {
			filled = f
		}
	}
	return utils.Clamp(filled, 0, 1)
}
