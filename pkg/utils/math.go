package utils

import (
	"math"
)

// math.go - математические утилиты торгового ядра
//
// Все функции чистые, без побочных эффектов.

// Eps допуск сравнения цен и P&L
const Eps = 1e-9

// PnL рассчитывает P&L позиции по направлению.
//
//   - LONG:  (current - entry) × size
//   - SHORT: (entry - current) × size
//
// Для неизвестного направления или неположительного объёма возвращает 0.
func PnL(side string, entryPrice, currentPrice, size float64) float64 {
	if size <= 0 {
		return 0
	}
	switch side {
	case "LONG":
		return (currentPrice - entryPrice) * size
	case "SHORT":
		return (entryPrice - currentPrice) * size
	default:
		return 0
	}
}

// PercentDistance относительное расстояние |a-b|/b.
// Возвращает +Inf если b == 0, чтобы сравнение с порогом не проходило ложно.
func PercentDistance(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}

// PercentChange изменение от from к to в долях (0.01 = 1%)
func PercentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from
}

// RoundTo округляет до шага step (ближайшее кратное).
// При step <= 0 возвращает исходное значение.
func RoundTo(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Round(value/step) * step
}

// RoundDown округляет вниз до кратного step (объёмы позиций)
func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+Eps) * step
}

// WithinTolerance проверяет |a-b| <= tol
func WithinTolerance(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Sum сумма значений
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
