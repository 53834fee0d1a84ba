package feed

import (
	"context"
	"fmt"
	"time"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// StreamConfig настройки потокового источника
type StreamConfig struct {
	URL        string
	Symbols    []string
	Reconnect  WSReconnectConfig
	StaleAfter time.Duration
}

// StreamProvider уровень 0: WebSocket поток snapshot/delta/candle.
// После каждого (пере)подключения все символы ждут новый snapshot.
type StreamProvider struct {
	cfg     StreamConfig
	manager *WSReconnectManager
	table   *StateTable
	candles *CandleStore
	log     *utils.Logger

	// внешний алерт исчерпания попыток (уведомления вне ядра)
	onCeiling func(attempts int, lastErr error)

	now func() time.Time
}

// NewStreamProvider создаёт провайдера; candles может быть nil
func NewStreamProvider(cfg StreamConfig, candles *CandleStore, log *utils.Logger) *StreamProvider {
	if log == nil {
		log = utils.L()
	}
	p := &StreamProvider{
		cfg:     cfg,
		table:   NewStateTable(16),
		candles: candles,
		log:     log.WithComponent("stream"),
		now:     time.Now,
	}
	p.manager = NewWSReconnectManager("stream", cfg.URL, cfg.Reconnect, log)
	return p
}

func (p *StreamProvider) Name() string            { return "stream" }
func (p *StreamProvider) Tier() models.SourceTier { return models.TierStream }

// SetOnCeiling регистрирует обработчик алерта
func (p *StreamProvider) SetOnCeiling(fn func(attempts int, lastErr error)) {
	p.onCeiling = fn
}

// Start подписывается на символы и подключается.
// Ошибка первой попытки не фатальна: повторы идут в фоне.
func (p *StreamProvider) Start() error {
	if len(p.cfg.Symbols) > 0 {
		p.manager.AddSubscription(SubscribeRequest{Op: "subscribe", Symbols: p.cfg.Symbols})
	}

	p.manager.SetOnMessage(p.handleMessage)
	p.manager.SetOnConnect(func() {
		p.table.InvalidateAll()
		StreamConnected.Set(1)
	})
	p.manager.SetOnDisconnect(func(err error) {
		p.table.InvalidateAll()
		StreamConnected.Set(0)
	})
	p.manager.SetOnAttempt(func(attempt int, delay time.Duration) {
		ReconnectAttempts.Inc()
	})
	p.manager.SetOnCeiling(func(attempts int, lastErr error) {
		ReconnectCeilingReached.Inc()
		if p.onCeiling != nil {
			p.onCeiling(attempts, lastErr)
		}
	})

	return p.manager.Start()
}

// Close останавливает поток
func (p *StreamProvider) Close() error {
	StreamConnected.Set(0)
	return p.manager.Close()
}

// State текущее состояние символа (для диагностики)
func (p *StreamProvider) State(symbol string) (SymbolState, bool) {
	return p.table.Get(symbol)
}

// Connected подключен ли поток
func (p *StreamProvider) Connected() bool {
	return p.manager.IsConnected()
}

func (p *StreamProvider) handleMessage(data []byte) {
	msg, err := decodeStreamMessage(data)
	if err != nil {
		p.log.Warn("Bad stream message", utils.Err(err))
		return
	}

	now := p.now()
	switch msg.Type {
	case MsgSnapshot:
		if msg.Price == nil {
			p.log.Warn("Snapshot without price", utils.Symbol(msg.Symbol))
			return
		}
		p.table.ApplySnapshot(msg.Symbol, *msg.Price, msg.stats(), msg.timestamp(now))

	case MsgDelta:
		if !p.table.ApplyDelta(msg.Symbol, msg.delta(now)) {
			DroppedDeltas.WithLabelValues(msg.Symbol).Inc()
			p.log.Debug("Delta before snapshot dropped", utils.Symbol(msg.Symbol))
		}

	case MsgCandle:
		if !msg.Closed || p.candles == nil {
			return
		}
		p.candles.Add(msg.candle())

	case MsgError:
		p.log.Warn("Stream error message", utils.String("message", msg.Message))

	default:
		p.log.Debug("Unknown stream message type", utils.String("type", msg.Type))
	}
}

// Quote котировка из кеша потока
func (p *StreamProvider) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	st, ok := p.table.Get(symbol)
	if !ok {
		return models.PriceQuote{}, ErrNoData
	}
	if !st.HasSnapshot {
		return models.PriceQuote{}, ErrNoSnapshot
	}
	if st.Price <= 0 {
		return models.PriceQuote{}, ErrBadPrice
	}
	if p.cfg.StaleAfter > 0 {
		if age := p.now().Sub(st.UpdatedAt); age > p.cfg.StaleAfter {
			return models.PriceQuote{}, fmt.Errorf("%w: age %s", ErrStalePrice, age.Truncate(time.Millisecond))
		}
	}
	return models.PriceQuote{
		Symbol: symbol,
		Price:  st.Price,
		Stats:  st.Stats,
		Tier:   models.TierStream,
		AsOf:   st.UpdatedAt,
	}, nil
}
