package maintenance

import (
	"context"
	"time"

	"chat-backend/internal/observability"
)

// SessionStore deletes expired sessions in bounded batches.
type SessionStore interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type Result struct {
	DeletedSessions int64 `json:"deleted_sessions"`
	Batches         int   `json:"batches"`
}

// Sweeper purges expired sessions on an interval, and on demand from the admin API.
type Sweeper struct {
	store     SessionStore
	logger    *observability.Logger
	interval  time.Duration
	batchSize int
	maxBatch  int
	now       func() time.Time
}

func NewSweeper(store SessionStore, logger *observability.Logger, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		store:     store,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		maxBatch:  100,
		now:       time.Now,
	}
}

// SweepNow deletes batches until one comes back short.
func (s *Sweeper) SweepNow(ctx context.Context) (Result, error) {
	var result Result
	now := s.now().UTC()
	for result.Batches < s.maxBatch {
		deleted, err := s.store.DeleteExpiredSessions(ctx, now, s.batchSize)
		if err != nil {
			s.logger.Error("session_sweep_failed", map[string]any{
				"error":   err.Error(),
				"deleted": result.DeletedSessions,
			})
			return result, err
		}
		result.Batches++
		result.DeletedSessions += deleted
		if deleted < int64(s.batchSize) {
			break
		}
	}

	s.logger.Info("session_sweep_completed", map[string]any{
		"deleted_sessions": result.DeletedSessions,
		"batches":          result.Batches,
	})
	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepNow(ctx)
		}
	}
}
