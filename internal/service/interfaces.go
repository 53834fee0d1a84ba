package service

import (
	"context"
	"time"

	"smcbot/internal/bot"
	"smcbot/internal/models"
	"smcbot/internal/risk"
	"smcbot/pkg/utils"
)

// EngineInterface менеджер жизненного цикла с точки зрения сервисов
type EngineInterface interface {
	Snapshot() *bot.Snapshot
	TradingDay(t time.Time) utils.TimeRange
	SubmitInbound(ctx context.Context, in *models.InboundSignal) (*models.ConfluenceSignal, risk.Decision, error)
	ResetAccount(ctx context.Context, newBalance float64) error
}

// HistoryReader чтения хранилища для истории и дневного P&L
type HistoryReader interface {
	ListSignals(ctx context.Context, from, to time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error)
	ListPositions(ctx context.Context, from, to time.Time) ([]*models.Position, error)
	ListLedger(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
	Ping(ctx context.Context) error
}
