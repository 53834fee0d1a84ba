package analysis

import (
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// volumeLookback последние свечи для подтверждения объёмом
const volumeLookback = 3

// DetectStructureBreak слом структуры в направлении bias.
//
// Чистое изменение по направлению bias не меньше порога volFactor×1% - BOS,
// не меньше двух порогов - CHoCH. Сила CHoCH: 2× WEAK, 3× MODERATE, 4× STRONG.
// Возвращает Kind == BreakNone, если движение не достигло порога.
func DetectStructureBreak(candles []models.Candle, swings []models.SwingPoint, bias models.Bias, volFactor float64) models.ChangeOfCharacterSignal {
	sig := models.ChangeOfCharacterSignal{Kind: models.BreakNone, Direction: bias}
	if bias == models.BiasNeutral || len(candles) < volumeLookback+1 {
		return sig
	}

	thr := threshold(volFactor)
	net := NetChange(candles)
	directed := net
	if bias == models.BiasBearish {
		directed = -net
	}
	sig.NetChange = net

	prior := candles[:len(candles)-volumeLookback]
	sig.PriorStructureHigh, sig.PriorStructureLow = WindowRange(prior)
	sig.BreakLevel = breakLevel(swings, bias, sig.PriorStructureHigh, sig.PriorStructureLow)
	sig.VolumeConfirmed = recentVolumeAboveAverage(candles)
	sig.FollowThrough = utils.Clamp(directed/(4*thr), 0, 1)

	switch {
	case directed >= 2*thr:
		sig.Kind = models.BreakCHoCH
		sig.Strength = chochStrength(directed, thr)
	case directed >= thr:
		sig.Kind = models.BreakBOS
	}
	return sig
}

func chochStrength(directed, thr float64) models.BreakStrength {
	switch {
	case directed >= 4*thr:
		return models.StrengthStrong
	case directed >= 3*thr:
		return models.StrengthModerate
	default:
		return models.StrengthWeak
	}
}

// breakLevel последний swing против направления пробоя, иначе граница прежней структуры
func breakLevel(swings []models.SwingPoint, bias models.Bias, priorHigh, priorLow float64) float64 {
	if bias == models.BiasBullish {
		if hs := lastSwings(swings, models.SwingHigh, 1); len(hs) == 1 {
			return hs[0].Price
		}
		return priorHigh
	}
	if ls := lastSwings(swings, models.SwingLow, 1); len(ls) == 1 {
		return ls[0].Price
	}
	return priorLow
}

func recentVolumeAboveAverage(candles []models.Candle) bool {
	var total, recent float64
	for i, c := range candles {
		total += c.Volume
		if i >= len(candles)-volumeLookback {
			recent += c.Volume
		}
	}
	if total <= 0 {
		return false
	}
	avg := total / float64(len(candles))
	return recent/volumeLookback > avg
}
