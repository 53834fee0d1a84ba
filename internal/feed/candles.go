package feed

import (
	"sync"

	"smcbot/internal/models"
)

// CandleStore кольцевой буфер закрытых свечей по символам.
// Закрытые свечи неизменяемы: повтор той же open_time игнорируется.
type CandleStore struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]models.Candle
}

// NewCandleStore создаёт хранилище на capacity свечей на символ
func NewCandleStore(capacity int) *CandleStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &CandleStore{
		capacity: capacity,
		series:   make(map[string][]models.Candle),
	}
}

// Add добавляет закрытую свечу. Возвращает false для дубликата,
// свечи старше последней или некорректной OHLC.
func (s *CandleStore) Add(c models.Candle) bool {
	if !c.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[c.Symbol]
	if n := len(series); n > 0 && !c.OpenTime.After(series[n-1].OpenTime) {
		return false
	}

	series = append(series, c)
	if len(series) > s.capacity {
		// сдвиг вместо переаллокации на каждой свече
		copy(series, series[len(series)-s.capacity:])
		series = series[:s.capacity]
	}
	s.series[c.Symbol] = series
	return true
}

// Window копия последних n свечей (меньше, если истории не хватает)
func (s *CandleStore) Window(symbol string, n int) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[symbol]
	if n <= 0 || n > len(series) {
		n = len(series)
	}
	out := make([]models.Candle, n)
	copy(out, series[len(series)-n:])
	return out
}

// Len количество свечей символа
func (s *CandleStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}
