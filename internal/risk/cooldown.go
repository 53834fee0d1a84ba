package risk

import (
	"sync"
	"time"
)

// CooldownTracker время последнего допуска по символу
type CooldownTracker struct {
	mu     sync.RWMutex
	period time.Duration
	last   map[string]time.Time
}

// NewCooldownTracker создаёт трекер; period <= 0 отключает проверку
func NewCooldownTracker(period time.Duration) *CooldownTracker {
	return &CooldownTracker{
		period: period,
		last:   make(map[string]time.Time),
	}
}

// Record запоминает допуск. Более ранняя отметка не перезаписывает позднюю.
func (c *CooldownTracker) Record(symbol string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[symbol]; ok && prev.After(at) {
		return
	}
	c.last[symbol] = at
}

// Remaining сколько осталось до конца паузы; 0 - допуск разрешён
func (c *CooldownTracker) Remaining(symbol string, now time.Time) time.Duration {
	if c.period <= 0 {
		return 0
	}
	c.mu.RLock()
	last, ok := c.last[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	if elapsed := now.Sub(last); elapsed < c.period {
		return c.period - elapsed
	}
	return 0
}

// Reset очищает все отметки
func (c *CooldownTracker) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}

// Snapshot копия отметок (для восстановления и тестов)
func (c *CooldownTracker) Snapshot() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
