package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация повторных попыток
//
// Задержка перед попыткой n (с нуля):
// delay = min(InitialDelay * Multiplier^n, MaxDelay) ± jitter
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую).
	// 0 или отрицательное = без ограничения
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier - множитель экспоненциального роста (по умолчанию 2)
	Multiplier float64

	// JitterFactor - доля случайной вариации задержки (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку; nil = повторять всё кроме Permanent
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig подходит для большинства операций:
// 4 попытки, 100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// PersistenceConfig для записей в хранилище.
// После исчерпания попыток вызывающий логирует предупреждение о долговечности
// и продолжает работу с in-memory состоянием.
func PersistenceConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryIf:      RetryIfNotContext,
	}
}

// NetworkConfig для REST запросов к источникам цен
func NetworkConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		RetryIf:      RetryIfNotContext,
	}
}

func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// Backoff детерминированная задержка min(maxDelay, base·mult^attempt), без jitter
func Backoff(attempt int, base, maxDelay time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if delay > float64(maxDelay) || math.IsInf(delay, 1) {
		return maxDelay
	}
	return time.Duration(delay)
}

func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(Backoff(attempt, c.InitialDelay, c.MaxDelay, c.Multiplier))

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (c *Config) shouldRetry(err error) bool {
	if !IsRetryable(err) {
		return false
	}
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return true
}

// Do выполняет операцию с повторными попытками.
// Возвращает nil при успехе либо последнюю ошибку.
//
//	err := retry.Do(ctx, func() error {
//	    return store.UpdatePosition(ctx, pos)
//	}, retry.PersistenceConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult то же, что Do, для операций с результатом
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var lastErr error
	var zero T

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.shouldRetry(err) {
			return zero, unwrapPermanent(err)
		}

		// последняя попытка - не ждём
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError ошибка, сообщающая о возможности повтора
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable по умолчанию true; false только для явных RetryableError с Retryable()==false
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// RetryIfNotContext не повторяет отмену и таймаут контекста
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError ошибка, которую нельзя повторять (валидация и т.п.)
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func unwrapPermanent(err error) error {
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Err
	}
	return err
}
