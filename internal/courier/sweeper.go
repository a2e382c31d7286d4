package courier

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is used when the configured interval is not positive
const DefaultSweepInterval = time.Minute

// sweepLock provides non-blocking lock semantics using atomic operations
type sweepLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *sweepLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *sweepLock) Release() {
	l.state.Store(0)
}

// Sweeper runs SweepOnce on a fixed interval. Overlapping runs in the same
// process are skipped, not queued.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	lock     sweepLock
}

// NewSweeper creates a sweeper for engine
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// TryRun performs one sweep unless another is already in progress. ran is
// false when the sweep was skipped.
func (s *Sweeper) TryRun(ctx context.Context) (res SweepResult, ran bool, err error) {
	if !s.lock.TryAcquire() {
		return SweepResult{}, false, nil
	}
	defer s.lock.Release()

	res, err = s.engine.SweepOnce(ctx)
	return res, true, err
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, ran, err := s.TryRun(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
			} else if !ran {
				s.logger.Debug("sweep already running, tick skipped")
			}
		}
	}
}
