package models

import "time"

// Candle закрытая свеча. После закрытия не изменяется.
type Candle struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe string    `json:"timeframe" db:"timeframe"` // 1m, 5m, 15m, 1h
	OpenTime  time.Time `json:"open_time" db:"open_time"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// IsBullish закрытие выше открытия
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish закрытие ниже открытия
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Range high - low
func (c Candle) Range() float64 { return c.High - c.Low }

// Valid базовая согласованность OHLC
func (c Candle) Valid() bool {
	return c.Low > 0 && c.High >= c.Low &&
		c.Open >= c.Low && c.Open <= c.High &&
		c.Close >= c.Low && c.Close <= c.High &&
		c.Volume >= 0
}

// Bias структурное направление рынка
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// SwingKind тип swing-точки
type SwingKind string

const (
	SwingHigh SwingKind = "HIGH"
	SwingLow  SwingKind = "LOW"
)

// SwingPoint локальный экстремум окна. Не сохраняется.
type SwingPoint struct {
	Price      float64   `json:"price"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       SwingKind `json:"kind"`
	Index      int       `json:"index"` // индекс свечи в окне
}

// BlockKind направление order block / FVG
type BlockKind string

const (
	Bullish BlockKind = "BULLISH"
	Bearish BlockKind = "BEARISH"
)

// OrderBlock зона предполагаемых крупных ордеров
type OrderBlock struct {
	Kind            BlockKind `json:"kind"`
	PriceHigh       float64   `json:"price_high"`
	PriceLow        float64   `json:"price_low"`
	Strength        float64   `json:"strength"`         // [0,1]
	MitigationLevel float64   `json:"mitigation_level"` // граница, пробой которой закрытием отменяет блок
	Touches         int       `json:"touches"`
	Mitigated       bool      `json:"mitigated"`
	Index           int       `json:"index"`
	FormedAt        time.Time `json:"formed_at"`
}

// Mid середина зоны
func (b OrderBlock) Mid() float64 { return (b.PriceHigh + b.PriceLow) / 2 }

// FairValueGap трёхсвечной дисбаланс
type FairValueGap struct {
	Kind         BlockKind `json:"kind"`
	PriceHigh    float64   `json:"price_high"`
	PriceLow     float64   `json:"price_low"`
	GapSize      float64   `json:"gap_size"`      // доля от цены
	FillFraction float64   `json:"fill_fraction"` // [0,1]
	Mitigated    bool      `json:"mitigated"`
	Index        int       `json:"index"` // индекс средней свечи
	FormedAt     time.Time `json:"formed_at"`
}

// Overlaps пересекается ли разрыв с диапазоном [low, high]
func (g FairValueGap) Overlaps(low, high float64) bool {
	return g.PriceLow <= high && g.PriceHigh >= low
}

// PoolKind тип пула ликвидности
type PoolKind string

const (
	EqualHighs PoolKind = "EQUAL_HIGHS"
	EqualLows  PoolKind = "EQUAL_LOWS"
)

// LiquidityPool кластер равных максимумов/минимумов
type LiquidityPool struct {
	Kind      PoolKind `json:"kind"`
	Level     float64  `json:"level"`
	TestCount int      `json:"test_count"`
}

// BreakKind тип слома структуры
type BreakKind string

const (
	BreakNone  BreakKind = ""
	BreakBOS   BreakKind = "BOS"
	BreakCHoCH BreakKind = "CHOCH"
)

// BreakStrength качественная сила CHoCH
type BreakStrength string

const (
	StrengthWeak     BreakStrength = "WEAK"
	StrengthModerate BreakStrength = "MODERATE"
	StrengthStrong   BreakStrength = "STRONG"
)

// ChangeOfCharacterSignal подтверждённый слом структуры
type ChangeOfCharacterSignal struct {
	Kind               BreakKind     `json:"kind"`
	Direction          Bias          `json:"direction"`
	Strength           BreakStrength `json:"strength,omitempty"`
	BreakLevel         float64       `json:"break_level"`
	PriorStructureHigh float64       `json:"prior_structure_high"`
	PriorStructureLow  float64       `json:"prior_structure_low"`
	NetChange          float64       `json:"net_change"` // доля
	VolumeConfirmed    bool          `json:"volume_confirmed"`
	FollowThrough      float64       `json:"follow_through"` // [0,1]
	FibonacciHit       bool          `json:"fibonacci_hit"`
}

// Stats24h суточная статистика инструмента
type Stats24h struct {
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`
}

// SourceTier уровень источника цены (меньше = приоритетнее)
type SourceTier int

const (
	TierStream SourceTier = iota
	TierSecondary
	TierTertiary
	TierStatic
)

func (t SourceTier) String() string {
	switch t {
	case TierStream:
		return "stream"
	case TierSecondary:
		return "rest_secondary"
	case TierTertiary:
		return "rest_tertiary"
	case TierStatic:
		return "static"
	default:
		return "unknown"
	}
}

// MarshalText сериализует уровень строкой
func (t SourceTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PriceQuote ответ адаптера цен
type PriceQuote struct {
	Symbol string     `json:"symbol"`
	Price  float64    `json:"price"`
	Stats  Stats24h   `json:"stats_24h"`
	Tier   SourceTier `json:"source_tier"`
	AsOf   time.Time  `json:"as_of"`
}
