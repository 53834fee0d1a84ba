package feed

import (
	"context"
	"sync"
	"time"

	"smcbot/internal/models"
)

// StaticProvider уровень 3: последняя известная цена от любого уровня.
// Цена старше MaxAge не отдаётся.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]models.PriceQuote
	maxAge time.Duration
	now    func() time.Time
}

// NewStaticProvider создаёт провайдера; maxAge <= 0 - без ограничения возраста
func NewStaticProvider(maxAge time.Duration) *StaticProvider {
	return &StaticProvider{
		quotes: make(map[string]models.PriceQuote),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (p *StaticProvider) Name() string            { return "static" }
func (p *StaticProvider) Tier() models.SourceTier { return models.TierStatic }

// Record запоминает котировку, если она новее сохранённой
func (p *StaticProvider) Record(q models.PriceQuote) {
	if q.Price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.quotes[q.Symbol]; ok && prev.AsOf.After(q.AsOf) {
		return
	}
	p.quotes[q.Symbol] = q
}

// Quote последняя известная котировка с исходным as_of
func (p *StaticProvider) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	p.mu.RLock()
	q, ok := p.quotes[symbol]
	p.mu.RUnlock()

	if !ok {
		return models.PriceQuote{}, ErrNoData
	}
	if p.maxAge > 0 && p.now().Sub(q.AsOf) > p.maxAge {
		return models.PriceQuote{}, ErrStalePrice
	}
	q.Tier = models.TierStatic
	return q, nil
}

// Last последняя цена без проверки возраста
func (p *StaticProvider) Last(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q.Price, ok
}
