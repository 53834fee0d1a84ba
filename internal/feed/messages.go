package feed

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Типы сообщений потока
const (
	MsgSnapshot = "snapshot"
	MsgDelta    = "delta"
	MsgCandle   = "candle"
	MsgError    = "error"
)

// SubscribeRequest запрос подписки на символы
type SubscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// streamMessage общий формат сообщения потока.
// Для delta присутствуют только изменившиеся поля.
type streamMessage struct {
	Type      string   `json:"type"`
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price,omitempty"`
	High24h   *float64 `json:"high_24h,omitempty"`
	Low24h    *float64 `json:"low_24h,omitempty"`
	Volume24h *float64 `json:"volume_24h,omitempty"`
	ChangePct *float64 `json:"change_pct,omitempty"`
	TS        int64    `json:"ts,omitempty"` // unix ms

	// свеча
	Timeframe string  `json:"timeframe,omitempty"`
	OpenTime  int64   `json:"open_time,omitempty"`
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Close     float64 `json:"close,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
	Closed    bool    `json:"closed,omitempty"`

	Message string `json:"message,omitempty"`
}

func decodeStreamMessage(data []byte) (*streamMessage, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode stream message: %w", err)
	}
	if msg.Type != MsgError && msg.Symbol == "" {
		return nil, fmt.Errorf("stream message %q without symbol", msg.Type)
	}
	msg.Symbol = utils.NormalizeSymbol(msg.Symbol)
	return &msg, nil
}

func (m *streamMessage) timestamp(fallback time.Time) time.Time {
	if m.TS > 0 {
		return utils.FromUnixMillis(m.TS)
	}
	return fallback
}

func (m *streamMessage) stats() models.Stats24h {
	var s models.Stats24h
	if m.High24h != nil {
		s.High = *m.High24h
	}
	if m.Low24h != nil {
		s.Low = *m.Low24h
	}
	if m.Volume24h != nil {
		s.Volume = *m.Volume24h
	}
	if m.ChangePct != nil {
		s.ChangePct = *m.ChangePct
	}
	return s
}

func (m *streamMessage) delta(now time.Time) Delta {
	return Delta{
		Price:     m.Price,
		High:      m.High24h,
		Low:       m.Low24h,
		Volume:    m.Volume24h,
		ChangePct: m.ChangePct,
		Timestamp: m.timestamp(now),
	}
}

func (m *streamMessage) candle() models.Candle {
	return models.Candle{
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		OpenTime:  utils.FromUnixMillis(m.OpenTime),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
	}
}

// restQuote ответ REST источника: GET {base}/ticker?symbol=BTCUSDT
type restQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Volume24h float64 `json:"volume_24h"`
	ChangePct float64 `json:"change_pct"`
	TS        int64   `json:"ts"`
}
