// Package risk решает, может ли кандидат стать позицией, и рассчитывает размер.
package risk

import (
	"fmt"
	"time"

	"smcbot/internal/config"
	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

// Exposure занятый слот символа: живой сигнал или открытая позиция
type Exposure struct {
	ID         string
	Symbol     string
	Price      float64
	RiskAmount float64
}

// View согласованный снимок состояния на момент решения
type View struct {
	Balance   float64
	Blown     bool
	Exposures []Exposure
}

// OpenRisk Σ risk_amount открытых слотов
func (v View) OpenRisk() float64 {
	var total float64
	for _, e := range v.Exposures {
		total += e.RiskAmount
	}
	return total
}

// ForSymbol слоты символа
func (v View) ForSymbol(symbol string) []Exposure {
	var out []Exposure
	for _, e := range v.Exposures {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out
}

// Limits глобальные ограничения допуска
type Limits struct {
	RiskPerTrade         float64
	MaxPortfolioRisk     float64
	MaxConcurrentSignals int
}

// LimitsFromConfig ограничения из конфигурации
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		RiskPerTrade:         cfg.RiskPerTrade,
		MaxPortfolioRisk:     cfg.MaxPortfolioRisk,
		MaxConcurrentSignals: cfg.MaxConcurrentSignals,
	}
}

// Decision исход проверки. Отказ - нормальный результат с кодом причины.
type Decision struct {
	Accepted   bool
	Reason     models.RejectReason
	Detail     string
	RiskAmount float64
	Size       float64
}

// Rejection отказ в виде ошибки для внешних границ (API)
func (d Decision) Rejection() *models.AdmissionRejected {
	if d.Accepted {
		return nil
	}
	return &models.AdmissionRejected{Reason: d.Reason, Detail: d.Detail}
}

func reject(reason models.RejectReason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// SymbolParamsFunc параметры символа
type SymbolParamsFunc func(symbol string) config.SymbolParams

// Controller контроль допуска. Не хранит состояние портфеля: получает View
// от владельца состояния и сам ничего не изменяет, кроме трекера пауз
// через RecordAdmission.
type Controller struct {
	limits   Limits
	params   SymbolParamsFunc
	cooldown *CooldownTracker
	log      *utils.Logger
}

// NewController создаёт контроллер
func NewController(limits Limits, params SymbolParamsFunc, cooldown *CooldownTracker, log *utils.Logger) *Controller {
	if log == nil {
		log = utils.L()
	}
	if cooldown == nil {
		cooldown = NewCooldownTracker(0)
	}
	return &Controller{
		limits:   limits,
		params:   params,
		cooldown: cooldown,
		log:      log.WithComponent("admission"),
	}
}

// MinSeparation минимальный относительный разрыв цен символа
func MinSeparation(p config.SymbolParams) float64 {
	return p.MinSeparationPct * p.VolatilityFactor
}

// Admit последовательные проверки, первая неудача выигрывает:
// пауза → лимит символа → разнос цен → глобальный лимит → риск портфеля.
// Kill switch проверяется до всех: взорванный счёт всегда даёт ACCOUNT_BLOWN.
func (c *Controller) Admit(cand *models.ConfluenceSignal, view View, now time.Time) Decision {
	d := c.admit(cand, view, now)
	label := "accepted"
	if !d.Accepted {
		label = string(d.Reason)
		c.log.Info("Candidate rejected",
			utils.Symbol(cand.Symbol),
			utils.SignalID(cand.ID),
			utils.Reason(label),
			utils.String("detail", d.Detail),
		)
	}
	AdmissionDecisions.WithLabelValues(label).Inc()
	return d
}

func (c *Controller) admit(cand *models.ConfluenceSignal, view View, now time.Time) Decision {
	p := c.params(cand.Symbol)

	if view.Blown || view.Balance <= 0 {
		return reject(models.RejectAccountBlown, "balance %.2f", view.Balance)
	}

	if rem := c.cooldown.Remaining(cand.Symbol, now); rem > 0 {
		return reject(models.RejectCooldown, "cooldown active for %s", rem.Truncate(time.Second))
	}

	onSymbol := view.ForSymbol(cand.Symbol)
	if len(onSymbol) >= p.MaxPositionsPerSymbol {
		return reject(models.RejectSymbolCap, "%d of %d slots used", len(onSymbol), p.MaxPositionsPerSymbol)
	}

	minSep := MinSeparation(p)
	for _, e := range onSymbol {
		if dist := utils.PercentDistance(cand.EntryPrice, e.Price); dist < minSep {
			return reject(models.RejectPriceTooClose, "%.4f%% from %s at %v, need %.4f%%", dist*100, e.ID, e.Price, minSep*100)
		}
	}

	if len(view.Exposures) >= c.limits.MaxConcurrentSignals {
		return reject(models.RejectGlobalCap, "%d of %d concurrent signals", len(view.Exposures), c.limits.MaxConcurrentSignals)
	}

	riskAmount, size, sizeErr := Size(view.Balance, c.limits.RiskPerTrade, cand.EntryPrice, cand.StopLoss)

	ratio := (view.OpenRisk() + riskAmount) / view.Balance
	if ratio > c.limits.MaxPortfolioRisk+utils.Eps {
		return reject(models.RejectPortfolioRisk, "portfolio risk %.4f exceeds %.4f", ratio, c.limits.MaxPortfolioRisk)
	}

	if sizeErr != nil || !stopOnCorrectSide(cand) {
		return reject(models.RejectInvalidStop, "entry %v stop %v", cand.EntryPrice, cand.StopLoss)
	}

	return Decision{Accepted: true, RiskAmount: riskAmount, Size: size}
}

func stopOnCorrectSide(cand *models.ConfluenceSignal) bool {
	if cand.Action == models.ActionSell {
		return cand.StopLoss > cand.EntryPrice
	}
	return cand.StopLoss < cand.EntryPrice
}

// RecordAdmission запускает паузу символа после допуска
func (c *Controller) RecordAdmission(symbol string, at time.Time) {
	c.cooldown.Record(symbol, at)
}

// ResetCooldowns очищает паузы (сброс счёта)
func (c *Controller) ResetCooldowns() {
	c.cooldown.Reset()
}

// Size risk_amount = balance × fraction; size = risk_amount / |entry − stop|.
// Не зависит от confluence score.
func Size(balance, fraction, entry, stop float64) (riskAmount, size float64, err error) {
	dist := utils.Abs(entry - stop)
	if dist <= utils.Eps {
		return 0, 0, fmt.Errorf("zero stop distance at entry %v", entry)
	}
	if balance <= 0 {
		return 0, 0, nil
	}
	riskAmount = balance * fraction
	return riskAmount, riskAmount / dist, nil
}
