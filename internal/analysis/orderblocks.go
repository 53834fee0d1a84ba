package analysis

import (
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

const (
	// MaxOrderBlocks сколько последних блоков рассматривается
	MaxOrderBlocks = 5
	// impulseCandles окно импульса после блока
	impulseCandles = 3
)

// DetectOrderBlocks последние (до MaxOrderBlocks) блоки по направлению bias,
// от новых к старым.
//
// Бычий блок - последняя медвежья свеча перед ростом закрытия на volFactor×1%
// и более в пределах трёх свечей. Медвежий симметрично. Сила - величина
// импульса относительно тройного порога. Блок отменён (mitigated), если
// более позднее закрытие ушло за его дальнюю границу.
func DetectOrderBlocks(candles []models.Candle, bias models.Bias, volFactor float64) []models.OrderBlock {
	if bias == models.BiasNeutral {
		return nil
	}
	thr := threshold(volFactor)
	n := len(candles)

	var blocks []models.OrderBlock
	for i := n - 2; i >= 0 && len(blocks) < MaxOrderBlocks; i-- {
		c := candles[i]
		next := candles[i+1]

		var move float64
		switch bias {
		case models.BiasBullish:
			// последняя медвежья: следующая свеча уже не медвежья
			if !c.IsBearish() || next.IsBearish() || c.Close <= 0 {
				continue
			}
			move = (maxClose(candles, i+1, i+impulseCandles) - c.Close) / c.Close
		case models.BiasBearish:
			if !c.IsBullish() || next.IsBullish() || c.Close <= 0 {
				continue
			}
			move = (c.Close - minClose(candles, i+1, i+impulseCandles)) / c.Close
		}
		if move < thr {
			continue
		}

		blocks = append(blocks, newOrderBlock(candles, i, bias, move, thr))
	}
	return blocks
}

func newOrderBlock(candles []models.Candle, i int, bias models.Bias, move, thr float64) models.OrderBlock {
	c := candles[i]
	b := models.OrderBlock{
		PriceHigh: c.High,
		PriceLow:  c.Low,
		Strength:  utils.Clamp(move/(3*thr), 0, 1),
		Index:     i,
		FormedAt:  c.OpenTime,
	}
	if bias == models.BiasBullish {
		b.Kind = models.Bullish
		b.MitigationLevel = c.Low
	} else {
		b.Kind = models.Bearish
		b.MitigationLevel = c.High
	}

	// возвраты в зону после импульса
	for j := i + 2; j < len(candles); j++ {
		later := candles[j]
		if later.Low <= b.PriceHigh && later.High >= b.PriceLow {
			b.Touches++
		}
		if b.Kind == models.Bullish && later.Close < b.MitigationLevel {
			b.Mitigated = true
		}
		if b.Kind == models.Bearish && later.Close > b.MitigationLevel {
			b.Mitigated = true
		}
	}
	return b
}

func maxClose(candles []models.Candle, from, to int) float64 {
	if to >= len(candles) {
		to = len(candles) - 1
	}
	m := candles[from].Close
	for j := from + 1; j <= to; j++ {
		if candles[j].Close > m {
			m = candles[j].Close
		}
	}
	return m
}

func minClose(candles []models.Candle, from, to int) float64 {
	if to >= len(candles) {
		to = len(candles) - 1
	}
	m := candles[from].Close
	for j := from + 1; j <= to; j++ {
		if candles[j].Close < m {
			m = candles[j].Close
		}
	}
	return m
}
