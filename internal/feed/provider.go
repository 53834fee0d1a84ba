// Package feed поддерживает состояние цен и свечей по символам и отдаёт
// котировку через упорядоченную цепочку источников.
package feed

import (
	"context"
	"errors"

	"smcbot/internal/models"
)

// Ошибки уровней источника
var (
	ErrNoData      = errors.New("no data for symbol")
	ErrNoSnapshot  = errors.New("no snapshot received yet")
	ErrStalePrice  = errors.New("price is stale")
	ErrBadPrice    = errors.New("non-positive price")
	ErrUnavailable = errors.New("provider unavailable")
)

// Provider один уровень цепочки источников
type Provider interface {
	Name() string
	Tier() models.SourceTier
	Quote(ctx context.Context, symbol string) (models.PriceQuote, error)
}

// failureReason метка метрики для ошибки уровня
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrNoSnapshot):
		return "no_snapshot"
	case errors.Is(err, ErrStalePrice):
		return "stale"
	case errors.Is(err, ErrBadPrice):
		return "bad_price"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
