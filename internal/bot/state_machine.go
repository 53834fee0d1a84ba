package bot

import (
	"fmt"

	"smcbot/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями позиции
var ValidTransitions = map[models.PositionStatus][]models.PositionStatus{
	models.PositionPending: {models.PositionOpen, models.PositionCancelled},
	models.PositionOpen: {
		models.PositionStopLoss,
		models.PositionTakeProfit,
		models.PositionEODClose,
		models.PositionEmergencyClose,
	},
	models.PositionStopLoss:       {models.PositionClosed},
	models.PositionTakeProfit:     {models.PositionClosed},
	models.PositionEODClose:       {models.PositionClosed},
	models.PositionEmergencyClose: {models.PositionClosed},
	// CLOSED и CANCELLED конечные
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.PositionStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// transition меняет статус позиции или возвращает ErrInvalidTransition
func transition(p *models.Position, to models.PositionStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", models.ErrInvalidTransition, p.Status, to, p.ID)
	}
	p.Status = to
	return nil
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s models.PositionStatus) string {
	switch s {
	case models.PositionPending:
		return "Позиция допущена, ожидает открытия"
	case models.PositionOpen:
		return "Позиция открыта"
	case models.PositionStopLoss:
		return "Закрытие по стоп-лоссу"
	case models.PositionTakeProfit:
		return "Закрытие по тейк-профиту"
	case models.PositionEODClose:
		return "Закрытие по окончании торгового дня"
	case models.PositionEmergencyClose:
		return "Аварийное закрытие"
	case models.PositionClosed:
		return "Позиция закрыта"
	case models.PositionCancelled:
		return "Открытие отменено"
	default:
		return "Неизвестное состояние"
	}
}
