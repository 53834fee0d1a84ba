package models

import (
	"fmt"
	"time"

	"smcbot/pkg/utils"
)

// SignalOrigin метаданные внешнего источника алерта
type SignalOrigin struct {
	Source     string    `json:"source"`
	AlertID    string    `json:"alert_id,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// InboundSignal предварительно проверенный сигнал от внешнего транспорта.
// Проходит контроль допуска, минуя конвейер анализа.
type InboundSignal struct {
	Symbol              string       `json:"symbol"`
	Action              Action       `json:"action"`
	ValidatedPrice      float64      `json:"validated_price"`
	AdvisorySize        float64      `json:"advisory_size"`
	StopLoss            float64      `json:"stop_loss"`
	TakeProfit          float64      `json:"take_profit"`
	RiskAmount          float64      `json:"risk_amount"`
	ConfidenceScore     float64      `json:"confidence_score"`
	MarketPhase         string       `json:"market_phase"`
	VolatilityRegime    string       `json:"volatility_regime"`
	Origin              SignalOrigin `json:"origin"`
	ProcessingTimestamp time.Time    `json:"processing_timestamp"`
	ExecutionDeadline   time.Time    `json:"execution_deadline"`
}

// Validate проверяет сигнал на момент now.
// Просроченный дедлайн проверяется первым и возвращает ValidationError с ErrSignalExpired.
func (s *InboundSignal) Validate(now time.Time) error {
	if s.ExecutionDeadline.IsZero() {
		return &ValidationError{Field: "execution_deadline", Reason: "is required"}
	}
	if !now.Before(s.ExecutionDeadline) {
		return &ValidationError{
			Field:  "execution_deadline",
			Reason: fmt.Sprintf("expired at %s", s.ExecutionDeadline.UTC().Format(time.RFC3339)),
			Err:    ErrSignalExpired,
		}
	}

	var errs utils.ValidationErrors
	errs.Add(utils.ValidateSymbol(s.Symbol))
	if !s.Action.Valid() {
		errs.Add(fmt.Errorf("action must be BUY or SELL, got %q", s.Action))
	}
	errs.Add(utils.ValidatePrice("validated_price", s.ValidatedPrice))
	errs.Add(utils.ValidatePrice("stop_loss", s.StopLoss))
	errs.Add(utils.ValidatePrice("take_profit", s.TakeProfit))
	errs.Add(utils.ValidateFraction("confidence_score", s.ConfidenceScore))
	if s.AdvisorySize < 0 {
		errs.Add(fmt.Errorf("advisory_size cannot be negative"))
	}
	if s.RiskAmount < 0 {
		errs.Add(fmt.Errorf("risk_amount cannot be negative"))
	}

	if !errs.HasErrors() {
		switch s.Action {
		case ActionBuy:
			if !(s.StopLoss < s.ValidatedPrice && s.ValidatedPrice < s.TakeProfit) {
				errs.Add(fmt.Errorf("BUY requires stop_loss < validated_price < take_profit"))
			}
		case ActionSell:
			if !(s.TakeProfit < s.ValidatedPrice && s.ValidatedPrice < s.StopLoss) {
				errs.Add(fmt.Errorf("SELL requires take_profit < validated_price < stop_loss"))
			}
		}
	}

	if errs.HasErrors() {
		return &ValidationError{Reason: errs.Error()}
	}
	return nil
}

// ToCandidate превращает входящий сигнал в кандидата для контроля допуска.
// Размер и риск пересчитываются контроллером; advisory_size не используется.
func (s *InboundSignal) ToCandidate(id string, ttl time.Duration) *ConfluenceSignal {
	expires := s.ExecutionDeadline
	if ttl > 0 {
		if byTTL := s.ProcessingTimestamp.Add(ttl); !s.ProcessingTimestamp.IsZero() && byTTL.Before(expires) {
			expires = byTTL
		}
	}
	generated := s.ProcessingTimestamp
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	return &ConfluenceSignal{
		ID:              id,
		Symbol:          utils.NormalizeSymbol(s.Symbol),
		Action:          s.Action,
		EntryPrice:      s.ValidatedPrice,
		StopLoss:        s.StopLoss,
		TakeProfit:      s.TakeProfit,
		ConfluenceScore: s.ConfidenceScore,
		Source:          SourceInbound,
		GeneratedAt:     generated,
		ExpiresAt:       expires,
	}
}
