package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

const maxRESTBody = 1 << 20

// RESTConfig настройки REST источника
type RESTConfig struct {
	Name       string
	BaseURL    string
	Tier       models.SourceTier
	Rate       float64 // запросов в секунду
	Burst      int
	Timeout    time.Duration
	StaleAfter time.Duration
}

// RESTProvider уровни 1-2: снимок цены по запросу.
//
//	GET {base}/ticker?symbol=BTCUSDT
//	GET {base}/candles?symbol=BTCUSDT&interval=5m&limit=200
type RESTProvider struct {
	cfg     RESTConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *utils.Logger
	now     func() time.Time
}

// NewRESTProvider создаёт провайдера; client nil - клиент по умолчанию
func NewRESTProvider(cfg RESTConfig, client *http.Client, log *utils.Logger) *RESTProvider {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if log == nil {
		log = utils.L()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &RESTProvider{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.WithComponent("rest").With(utils.String("source", cfg.Name)),
		now:     time.Now,
	}
}

func (p *RESTProvider) Name() string            { return p.cfg.Name }
func (p *RESTProvider) Tier() models.SourceTier { return p.cfg.Tier }

func (p *RESTProvider) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	p.log.Debug("REST request done",
		utils.String("path", path),
		utils.Latency(float64(time.Since(start).Microseconds())/1000),
	)
	return nil
}

// Quote запрашивает текущую котировку
func (p *RESTProvider) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	var q restQuote
	if err := p.get(ctx, "/ticker", url.Values{"symbol": {symbol}}, &q); err != nil {
		return models.PriceQuote{}, err
	}
	if q.Price <= 0 {
		return models.PriceQuote{}, ErrBadPrice
	}

	asOf := p.now()
	if q.TS > 0 {
		asOf = utils.FromUnixMillis(q.TS)
	}
	if p.cfg.StaleAfter > 0 && p.now().Sub(asOf) > p.cfg.StaleAfter {
		return models.PriceQuote{}, ErrStalePrice
	}

	return models.PriceQuote{
		Symbol: symbol,
		Price:  q.Price,
		Stats: models.Stats24h{
			High:      q.High24h,
			Low:       q.Low24h,
			Volume:    q.Volume24h,
			ChangePct: q.ChangePct,
		},
		Tier: p.cfg.Tier,
		AsOf: asOf,
	}, nil
}

type restCandle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Candles история закрытых свечей для начального заполнения CandleStore
func (p *RESTProvider) Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	var raw []restCandle
	query := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := p.get(ctx, "/candles", query, &raw); err != nil {
		return nil, err
	}

	out := make([]models.Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Candle{
			Symbol:    symbol,
			Timeframe: interval,
			OpenTime:  utils.FromUnixMillis(r.OpenTime),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out, nil
}

// Close освобождает соединения
func (p *RESTProvider) Close() {
	closeIdle(p.client)
}
