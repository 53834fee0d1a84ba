// Package repository хранит сигналы, позиции и журнал P&L.
// Хранилище пассивно: единственный писатель - менеджер жизненного цикла.
package repository

import (
	"context"
	"errors"
	"time"

	"smcbot/internal/models"
)

// Ошибки репозитория
var (
	ErrPositionNotFound = models.ErrPositionNotFound
	ErrSignalNotFound   = models.ErrSignalNotFound
	ErrStoreClosed      = errors.New("store is closed")
)

// Store контракт хранилища
type Store interface {
	// SaveSignal вставляет сигнал или обновляет существующий по ID
	SaveSignal(ctx context.Context, s *models.ConfluenceSignal) error
	UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus, reason, positionID string) error
	// ListSignals сигналы с generated_at в [from, to); пустой statuses - все
	ListSignals(ctx context.Context, from, to time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error)

	SavePosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, p *models.Position) error
	// ClosePosition атомарно обновляет позицию и добавляет запись журнала
	ClosePosition(ctx context.Context, p *models.Position, entry *models.LedgerEntry) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	// ListOpenPositions все OPEN позиции независимо от процесса-владельца
	ListOpenPositions(ctx context.Context) ([]*models.Position, error)
	// ListPositions позиции, открытые в [from, to)
	ListPositions(ctx context.Context, from, to time.Time) ([]*models.Position, error)

	// AppendRealizedPnl добавляет запись журнала, выставляет entry.ID
	AppendRealizedPnl(ctx context.Context, entry *models.LedgerEntry) error
	// ListLedger записи с created_at в [from, to) по возрастанию ID
	ListLedger(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
	// GetLatestBalance balance_after последней записи; ok=false для пустого журнала
	GetLatestBalance(ctx context.Context) (balance float64, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// AllTime диапазон для полного журнала
func AllTime() (time.Time, time.Time) {
	return time.Unix(0, 0).UTC(), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
