package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smcbot/pkg/utils"
)

type recordingSweeper struct {
	mu         sync.Mutex
	boundaries []time.Time
	err        error
}

func (r *recordingSweeper) SweepEOD(_ context.Context, boundary time.Time) (SweepReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boundaries = append(r.boundaries, boundary)
	return SweepReport{Boundary: boundary, Closed: []string{"p1"}}, r.err
}

func TestScheduler_RunEODUsesLastBoundary(t *testing.T) {
	sw := &recordingSweeper{}
	eod := utils.ClockTime{Hour: 22}
	s, err := NewScheduler(sw, eod, time.UTC, time.Second, utils.NewNopLogger())
	require.NoError(t, err)

	before := eod.LastBoundary(time.Now(), time.UTC)
	s.runEOD()
	after := eod.LastBoundary(time.Now(), time.UTC)

	require.Len(t, sw.boundaries, 1)
	got := sw.boundaries[0]
	assert.True(t, got.Equal(before) || got.Equal(after))
	assert.Equal(t, 22, got.Hour())

	// ошибка логируется, паники нет
	sw.err = errors.New("store down")
	s.runEOD()
	assert.Len(t, sw.boundaries, 2)
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(&recordingSweeper{}, utils.ClockTime{Hour: 23, Minute: 59}, nil, 0, utils.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 1)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
