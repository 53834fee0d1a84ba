package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// Chain упорядоченная цепочка источников. Первый уровень с неустаревшей
// положительной ценой выигрывает; ошибки уровней наружу не передаются.
type Chain struct {
	providers   []Provider
	static      *StaticProvider
	tierTimeout time.Duration
	log         *utils.Logger
}

// NewChain создаёт цепочку. static записывает каждую успешную котировку
// и опрашивается последним; может быть nil.
func NewChain(static *StaticProvider, tierTimeout time.Duration, log *utils.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = utils.L()
	}

	ordered := make([]Provider, 0, len(providers)+1)
	ordered = append(ordered, providers...)
	if static != nil {
		ordered = append(ordered, static)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier() < ordered[j].Tier()
	})

	return &Chain{
		providers:   ordered,
		static:      static,
		tierTimeout: tierTimeout,
		log:         log.WithComponent("price_chain"),
	}
}

// GetPrice котировка символа. При исчерпании всех уровней возвращает
// ошибку, оборачивающую models.ErrPriceFeedDegraded.
func (c *Chain) GetPrice(ctx context.Context, symbol string) (models.PriceQuote, error) {
	var lastErr error

	for _, p := range c.providers {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		q, err := c.quote(ctx, p, symbol)
		if err == nil && q.Price <= 0 {
			err = ErrBadPrice
		}
		if err != nil {
			lastErr = err
			TierFailures.WithLabelValues(p.Tier().String(), failureReason(err)).Inc()
			c.log.Debug("Tier failed",
				utils.Symbol(symbol),
				utils.Tier(p.Tier().String()),
				utils.Err(err),
			)
			continue
		}

		if c.static != nil && p.Tier() != models.TierStatic {
			c.static.Record(q)
		}
		QuotesServed.WithLabelValues(q.Tier.String()).Inc()
		return q, nil
	}

	FeedDegraded.WithLabelValues(symbol).Inc()
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return models.PriceQuote{}, fmt.Errorf("%w: %s: %v", models.ErrPriceFeedDegraded, symbol, lastErr)
}

func (c *Chain) quote(ctx context.Context, p Provider, symbol string) (models.PriceQuote, error) {
	if c.tierTimeout <= 0 {
		return p.Quote(ctx, symbol)
	}
	tctx, cancel := context.WithTimeout(ctx, c.tierTimeout)
	defer cancel()
	return p.Quote(tctx, symbol)
}

// LastKnown последняя цена из любого уровня без проверки возраста
func (c *Chain) LastKnown(symbol string) (float64, bool) {
	if c.static == nil {
		return 0, false
	}
	return c.static.Last(symbol)
}

// Tiers имена уровней в порядке опроса
func (c *Chain) Tiers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
