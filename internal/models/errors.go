package models

import (
	"errors"
	"fmt"
)

// ============================================================
// Таксономия ошибок торгового ядра
// ============================================================

var (
	// ErrPriceFeedDegraded все уровни источников исчерпаны для символа;
	// анализ символа пропускается только в текущем цикле
	ErrPriceFeedDegraded = errors.New("price feed degraded: all provider tiers exhausted")

	// ErrAccountBlown баланс <= 0, торговля остановлена до явного сброса
	ErrAccountBlown = errors.New("account blown: balance depleted")

	// ErrSignalExpired истёк execution_deadline входящего сигнала
	ErrSignalExpired = errors.New("signal execution deadline passed")

	ErrPositionNotFound  = errors.New("position not found")
	ErrSignalNotFound    = errors.New("signal not found")
	ErrInvalidTransition = errors.New("invalid position status transition")
	ErrEngineStopped     = errors.New("lifecycle engine is stopped")
)

// ValidationError некорректный или просроченный входящий сигнал.
// Отклоняется и логируется, никогда не повторяется.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError проверка по цепочке
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RejectReason код отказа контроля допуска
type RejectReason string

const (
	RejectCooldown      RejectReason = "COOLDOWN"
	RejectSymbolCap     RejectReason = "SYMBOL_CAP"
	RejectPriceTooClose RejectReason = "PRICE_TOO_CLOSE"
	RejectGlobalCap     RejectReason = "GLOBAL_CAP"
	RejectPortfolioRisk RejectReason = "PORTFOLIO_RISK"
	RejectAccountBlown  RejectReason = "ACCOUNT_BLOWN"
	RejectInvalidStop   RejectReason = "INVALID_STOP"
)

// AdmissionRejected результат отказа. Нормальный исход проверки, не сбой.
type AdmissionRejected struct {
	Reason RejectReason
	Detail string
}

func (e *AdmissionRejected) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("admission rejected: %s", e.Reason)
	}
	return fmt.Sprintf("admission rejected: %s (%s)", e.Reason, e.Detail)
}

// PersistenceError запись в хранилище не удалась после всех повторов.
// In-memory состояние остаётся авторитетным для процесса.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EmergencyKind тип аварийного условия
type EmergencyKind string

const (
	EmergencyPositionLoss EmergencyKind = "POSITION_LOSS"
	EmergencyDrawdown     EmergencyKind = "DRAWDOWN"
)

// EmergencyCondition превышен жёсткий лимит, позиции закрываются вне обычного пути
type EmergencyCondition struct {
	Kind       EmergencyKind
	PositionID string
	Value      float64
	Limit      float64
}

func (e *EmergencyCondition) Error() string {
	if e.PositionID != "" {
		return fmt.Sprintf("emergency %s on %s: %.6f exceeds %.6f", e.Kind, e.PositionID, e.Value, e.Limit)
	}
	return fmt.Sprintf("emergency %s: %.6f exceeds %.6f", e.Kind, e.Value, e.Limit)
}
