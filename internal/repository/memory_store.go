package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"smcbot/internal/models"
)

// MemoryStore хранилище в памяти: тесты и запуск без БД
type MemoryStore struct {
	mu        sync.RWMutex
	signals   map[string]*models.ConfluenceSignal
	positions map[string]*models.Position
	ledger    []models.LedgerEntry
	nextID    int64
	closed    bool
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:   make(map[string]*models.ConfluenceSignal),
		positions: make(map[string]*models.Position),
	}
}

func (m *MemoryStore) SaveSignal(_ context.Context, s *models.ConfluenceSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	if existing, ok := m.signals[s.ID]; ok {
		existing.Status = s.Status
		existing.RejectReason = s.RejectReason
		existing.PositionID = s.PositionID
		existing.ExpiresAt = s.ExpiresAt
		return nil
	}
	c := *s
	m.signals[s.ID] = &c
	return nil
}

func (m *MemoryStore) UpdateSignalStatus(_ context.Context, id string, status models.SignalStatus, reason, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	s, ok := m.signals[id]
	if !ok {
		return ErrSignalNotFound
	}
	s.Status = status
	s.RejectReason = reason
	if positionID != "" {
		s.PositionID = positionID
	}
	return nil
}

func (m *MemoryStore) ListSignals(_ context.Context, from, to time.Time, statuses ...models.SignalStatus) ([]*models.ConfluenceSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[models.SignalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*models.ConfluenceSignal
	for _, s := range m.signals {
		if s.GeneratedAt.Before(from) || !s.GeneratedAt.Before(to) {
			continue
		}
		if len(want) > 0 && !want[s.Status] {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.After(out[j].GeneratedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SavePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.positions[p.ID]; ok {
		return nil
	}
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) UpdatePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(p)
}

func (m *MemoryStore) updateLocked(p *models.Position) error {
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.positions[p.ID]; !ok {
		return ErrPositionNotFound
	}
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) ClosePosition(_ context.Context, p *models.Position, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateLocked(p); err != nil {
		return err
	}
	if entry != nil {
		m.appendLocked(entry)
	}
	return nil
}

func (m *MemoryStore) GetPosition(_ context.Context, id string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) ListOpenPositions(_ context.Context) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Position
	for _, p := range m.positions {
		if p.Status == models.PositionOpen {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListPositions(_ context.Context, from, to time.Time) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Position
	for _, p := range m.positions {
		if p.OpenedAt.Before(from) || !p.OpenedAt.Before(to) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AppendRealizedPnl(_ context.Context, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.appendLocked(e)
	return nil
}

func (m *MemoryStore) appendLocked(e *models.LedgerEntry) {
	m.nextID++
	e.ID = m.nextID
	m.ledger = append(m.ledger, *e)
}

func (m *MemoryStore) ListLedger(_ context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range m.ledger {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetLatestBalance(_ context.Context) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ledger) == 0 {
		return 0, false, nil
	}
	return m.ledger[len(m.ledger)-1].BalanceAfter, true, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
