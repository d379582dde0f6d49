// Package sweep runs the periodic expiry of stale trades.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"packrip/internal/metrics"
	"packrip/internal/trade"
)

const LockKey = "packrip:sweep"

// Expirer is the part of trade.Engine the sweeper drives.
type Expirer interface {
	ExpireStale(ctx context.Context) ([]trade.Trade, error)
}

type Sweeper struct {
	trades Expirer
	lock   Locker
	log    *slog.Logger
}

func New(trades Expirer, lock Locker, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		lock = NoLock{}
	}
	return &Sweeper{trades: trades, lock: lock, log: logger}
}

// Once runs one sweep. It returns how many trades expired and whether this worker held the lock.
func (s *Sweeper) Once(ctx context.Context) (int, bool, error) {
	token, ok, err := s.lock.Acquire(ctx, LockKey)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		metrics.SweepSkippedTotal.Inc()
		return 0, false, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled sweep still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, LockKey, token); err != nil {
			s.log.Warn("sweep lock release failed", "err", err)
		}
	}()

	started := time.Now()
	expired, err := s.trades.ExpireStale(ctx)
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return 0, true, err
	}
	metrics.TradesExpiredTotal.Add(float64(len(expired)))
	return len(expired), true, nil
}

// Run sweeps immediately and then every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.Info("sweeper started", "every", every.String())
	for {
		n, held, err := s.Once(ctx)
		switch {
		case err != nil:
			s.log.Error("trade sweep failed", "err", err)
		case !held:
			s.log.Debug("trade sweep skipped, lock held elsewhere")
		default:
			s.log.Info("trade sweep complete", "expired", n)
		}
		select {
		case <-ctx.Done():
			s.log.Info("sweeper shutdown")
			return
		case <-ticker.C:
		}
	}
}
