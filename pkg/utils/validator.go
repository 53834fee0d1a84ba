package utils

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных (символы, цены, доли)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_-]{1,29}$`)

// ValidateSymbol проверяет формат символа (BTCUSDT, BTC-USDT, BTC/USDT)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %q", symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду BTCUSDT
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("-", "", "_", "", "/", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}

// ValidatePrice цена должна быть конечным положительным числом
func ValidatePrice(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}

// ValidateFraction значение в диапазоне [0, 1]
func ValidateFraction(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

// ValidationErrors накапливает ошибки валидации по полям
type ValidationErrors struct {
	Errors []string
}

// Add добавляет ошибку, nil игнорируется
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
	}
}

// HasErrors есть ли ошибки
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return strings.Join(v.Errors, "; ")
}

// Err возвращает nil если ошибок нет
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}
