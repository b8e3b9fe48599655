package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/observability"
)

type scriptedStore struct {
	batches []int64
	err     error
	calls   int
	cutoffs []time.Time
}

func (s *scriptedStore) DeleteExpiredSessions(_ context.Context, now time.Time, batchSize int) (int64, error) {
	s.calls++
	s.cutoffs = append(s.cutoffs, now)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.batches) == 0 {
		return 0, nil
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

func TestSweepNow_LoopsUntilShortBatch(t *testing.T) {
	store := &scriptedStore{batches: []int64{10, 10, 3}}
	s := NewSweeper(store, observability.NopLogger(), time.Minute, 10)
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	result, err := s.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedSessions: 23, Batches: 3}, result)
	assert.Equal(t, []time.Time{fixed, fixed, fixed}, store.cutoffs)
}

func TestSweepNow_StopsAtBatchCap(t *testing.T) {
	batches := make([]int64, 200)
	for i := range batches {
		batches[i] = 5
	}
	store := &scriptedStore{batches: batches}
	s := NewSweeper(store, observability.NopLogger(), time.Minute, 5)

	result, err := s.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, result.Batches)
	assert.Equal(t, 100, store.calls)
}

func TestSweepNow_ReturnsStoreError(t *testing.T) {
	store := &scriptedStore{err: errors.New("db down")}
	s := NewSweeper(store, observability.NopLogger(), time.Minute, 0)

	_, err := s.SweepNow(context.Background())
	require.EqualError(t, err, "db down")
}

func TestRun_SweepsOnTick(t *testing.T) {
	store := &scriptedStore{}
	s := NewSweeper(store, observability.NopLogger(), 5*time.Millisecond, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	s.Run(ctx)
	assert.GreaterOrEqual(t, store.calls, 2)
}
