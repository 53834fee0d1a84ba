package repository

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"smcbot/internal/models"
	"smcbot/pkg/retry"
	"smcbot/pkg/utils"
)

var (
	// StoreWriteRetries - повторные попытки записи
	StoreWriteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smcbot",
			Subsystem: "store",
			Name:      "write_retries_total",
			Help:      "Store write retries by operation",
		},
		[]string{"op"},
	)

	// StoreWriteFailures - записи, не прошедшие после всех попыток
	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smcbot",
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Store writes that failed after all retries",
		},
		[]string{"op"},
	)
)

// RetryingStore повторяет записи с экспоненциальной задержкой.
// После исчерпания попыток возвращает *models.PersistenceError.
// Чтения проходят без повторов.
type RetryingStore struct {
	Store
	cfg retry.Config
	log *utils.Logger
}

// NewRetryingStore оборачивает хранилище
func NewRetryingStore(inner Store, cfg retry.Config, log *utils.Logger) *RetryingStore {
	if log == nil {
		log = utils.L()
	}
	return &RetryingStore{Store: inner, cfg: cfg, log: log.WithComponent("store")}
}

// Unwrap исходное хранилище
func (r *RetryingStore) Unwrap() Store { return r.Store }

func (r *RetryingStore) write(ctx context.Context, op string, fn func() error) error {
	cfg := r.cfg
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		StoreWriteRetries.WithLabelValues(op).Inc()
		r.log.Warn("Store write failed, retrying",
			utils.String("op", op),
			utils.Attempt(attempt),
			utils.Duration("delay", delay),
			utils.Err(err),
		)
	}

	err := retry.Do(ctx, func() error {
		err := fn()
		if isPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	}, cfg)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return err
	}

	StoreWriteFailures.WithLabelValues(op).Inc()
	r.log.Error("Store write exhausted retries, in-memory state remains authoritative",
		utils.String("op", op),
		utils.Err(err),
	)
	return &models.PersistenceError{Op: op, Err: err}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrSignalNotFound) ||
		errors.Is(err, ErrStoreClosed)
}

func (r *RetryingStore) SaveSignal(ctx context.Context, s *models.ConfluenceSignal) error {
	return r.write(ctx, "save_signal", func() error { return r.Store.SaveSignal(ctx, s) })
}

func (r *RetryingStore) UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus, reason, positionID string) error {
	return r.write(ctx, "update_signal", func() error {
		return r.Store.UpdateSignalStatus(ctx, id, status, reason, positionID)
	})
}

func (r *RetryingStore) SavePosition(ctx context.Context, p *models.Position) error {
	return r.write(ctx, "save_position", func() error { return r.Store.SavePosition(ctx, p) })
}

func (r *RetryingStore) UpdatePosition(ctx context.Context, p *models.Position) error {
	return r.write(ctx, "update_position", func() error { return r.Store.UpdatePosition(ctx, p) })
}

func (r *RetryingStore) ClosePosition(ctx context.Context, p *models.Position, entry *models.LedgerEntry) error {
	return r.write(ctx, "close_position", func() error { return r.Store.ClosePosition(ctx, p, entry) })
}

func (r *RetryingStore) AppendRealizedPnl(ctx context.Context, e *models.LedgerEntry) error {
	return r.write(ctx, "append_ledger", func() error { return r.Store.AppendRealizedPnl(ctx, e) })
}
