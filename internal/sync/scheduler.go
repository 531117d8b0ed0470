package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs incremental syncs on a fixed interval until its context is
// cancelled. It is the only long-lived background worker in the process.
type Scheduler struct {
	engine    *Engine
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewScheduler returns a Scheduler driving the given engine. A non-positive
// interval disables scheduling; Start then returns immediately.
func NewScheduler(engine *Engine, interval time.Duration, batchSize int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:    engine,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start blocks, firing one incremental run per tick, until ctx is cancelled.
// Runs execute synchronously in the loop so ticks never overlap each other.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("sync scheduler disabled")
		return
	}

	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			run := s.engine.Sync(ctx, Options{
				Kind:        KindIncremental,
				TriggeredBy: TriggerScheduled,
				BatchSize:   s.batchSize,
			})
			if run.Status == StatusFailed {
				s.logger.Warn("scheduled sync run failed",
					zap.Int64("run_id", run.ID),
					zap.String("error", run.ErrorMessage))
			}
		}
	}
}
