package feed

import (
	"sync"
	"time"

	"smcbot/internal/models"
)

const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash FNV-1a без аллокаций
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// SymbolState кешированное состояние символа из потока
type SymbolState struct {
	Symbol      string
	Price       float64
	Stats       models.Stats24h
	HasSnapshot bool
	UpdatedAt   time.Time
}

// Delta инкрементальное обновление. nil-поля не меняются.
type Delta struct {
	Price     *float64
	High      *float64
	Low       *float64
	Volume    *float64
	ChangePct *float64
	Timestamp time.Time
}

// StateTable шардированная таблица состояний символов.
// Разные символы не блокируют друг друга.
type StateTable struct {
	shards    []*stateShard
	numShards uint32
}

type stateShard struct {
	mu      sync.RWMutex
	states  map[string]*SymbolState
	dropped map[string]uint64
}

// NewStateTable создаёт таблицу с numShards шардами
func NewStateTable(numShards int) *StateTable {
	if numShards <= 0 {
		numShards = 16
	}
	t := &StateTable{
		shards:    make([]*stateShard, numShards),
		numShards: uint32(numShards),
	}
	for i := range t.shards {
		t.shards[i] = &stateShard{
			states:  make(map[string]*SymbolState),
			dropped: make(map[string]uint64),
		}
	}
	return t
}

func (t *StateTable) shard(symbol string) *stateShard {
	return t.shards[fnvHash(symbol)%t.numShards]
}

// ApplySnapshot полностью заменяет состояние символа
func (t *StateTable) ApplySnapshot(symbol string, price float64, stats models.Stats24h, ts time.Time) {
	sh := t.shard(symbol)
	sh.mu.Lock()
	sh.states[symbol] = &SymbolState{
		Symbol:      symbol,
		Price:       price,
		Stats:       stats,
		HasSnapshot: true,
		UpdatedAt:   ts,
	}
	sh.mu.Unlock()
}

// ApplyDelta сливает именованные поля в состояние.
// Delta до первого snapshot не применяется: возвращает false и увеличивает счётчик.
func (t *StateTable) ApplyDelta(symbol string, d Delta) bool {
	sh := t.shard(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.states[symbol]
	if !ok || !st.HasSnapshot {
		sh.dropped[symbol]++
		return false
	}

	if d.Price != nil {
		st.Price = *d.Price
	}
	if d.High != nil {
		st.Stats.High = *d.High
	}
	if d.Low != nil {
		st.Stats.Low = *d.Low
	}
	if d.Volume != nil {
		st.Stats.Volume = *d.Volume
	}
	if d.ChangePct != nil {
		st.Stats.ChangePct = *d.ChangePct
	}
	if !d.Timestamp.IsZero() {
		st.UpdatedAt = d.Timestamp
	}
	return true
}

// InvalidateAll снимает признак snapshot у всех символов.
// Вызывается при (пере)подключении: до нового snapshot delta не применяются.
func (t *StateTable) InvalidateAll() {
	for _, sh := range t.shards {
		sh.mu.Lock()
		for _, st := range sh.states {
			st.HasSnapshot = false
		}
		sh.mu.Unlock()
	}
}

// Get копия состояния символа
func (t *StateTable) Get(symbol string) (SymbolState, bool) {
	sh := t.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st, ok := sh.states[symbol]
	if !ok {
		return SymbolState{}, false
	}
	return *st, true
}

// DroppedDeltas сколько delta отброшено для символа
func (t *StateTable) DroppedDeltas(symbol string) uint64 {
	sh := t.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.dropped[symbol]
}
