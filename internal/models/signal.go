package models

import "time"

// Action направление сигнала
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side возвращает сторону позиции для действия
func (a Action) Side() Side {
	if a == ActionSell {
		return SideShort
	}
	return SideLong
}

// Valid проверка допустимого значения
func (a Action) Valid() bool { return a == ActionBuy || a == ActionSell }

// SignalStatus статус сигнала
type SignalStatus string

const (
	SignalActive      SignalStatus = "ACTIVE"      // допущен, позиция открыта или открывается
	SignalClosed      SignalStatus = "CLOSED"      // позиция по сигналу закрыта
	SignalRejected    SignalStatus = "REJECTED"    // не прошёл контроль допуска
	SignalExpired     SignalStatus = "EXPIRED"     // истёк срок жизни
	SignalInvalidated SignalStatus = "INVALIDATED" // нарушает инварианты после восстановления
)

// IsLive сигнал занимает слот по символу
func (s SignalStatus) IsLive() bool { return s == SignalActive }

// SignalSource происхождение сигнала
type SignalSource string

const (
	SourcePipeline SignalSource = "PIPELINE"
	SourceInbound  SignalSource = "INBOUND"
)

// ComponentBreakdown вклад факторов в итоговый score
type ComponentBreakdown struct {
	Bias              Bias          `json:"bias"`
	BlockStrength     float64       `json:"block_strength"`
	Fibonacci         float64       `json:"fibonacci"`
	FibLevel          float64       `json:"fib_level,omitempty"`
	Gap               float64       `json:"gap"`
	BreakOfStructure  float64       `json:"break_of_structure"`
	ChangeOfCharacter float64       `json:"change_of_character"`
	ChochStrength     BreakStrength `json:"choch_strength,omitempty"`
	Liquidity         float64       `json:"liquidity"`
}

// Total сумма компонент без ограничения
func (b ComponentBreakdown) Total() float64 {
	return b.BlockStrength + b.Fibonacci + b.Gap + b.BreakOfStructure + b.ChangeOfCharacter + b.Liquidity
}

// ConfluenceSignal результат конвейера (или входящий сигнал после валидации)
type ConfluenceSignal struct {
	ID              string             `json:"id" db:"id"`
	Symbol          string             `json:"symbol" db:"symbol"`
	Action          Action             `json:"action" db:"action"`
	EntryPrice      float64            `json:"entry_price" db:"entry_price"`
	StopLoss        float64            `json:"stop_loss" db:"stop_loss"`
	TakeProfit      float64            `json:"take_profit" db:"take_profit"`
	ConfluenceScore float64            `json:"confluence_score" db:"confluence_score"`
	Breakdown       ComponentBreakdown `json:"component_breakdown" db:"breakdown"`
	Source          SignalSource       `json:"source" db:"source"`
	Status          SignalStatus       `json:"status" db:"status"`
	RejectReason    string             `json:"reject_reason,omitempty" db:"reject_reason"`
	PositionID      string             `json:"position_id,omitempty" db:"position_id"`
	GeneratedAt     time.Time          `json:"generated_at" db:"generated_at"`
	ExpiresAt       time.Time          `json:"expires_at" db:"expires_at"`
}

// StopDistance |entry - stop|
func (s ConfluenceSignal) StopDistance() float64 {
	d := s.EntryPrice - s.StopLoss
	if d < 0 {
		return -d
	}
	return d
}

// IsExpired истёк ли сигнал на момент now
func (s ConfluenceSignal) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
