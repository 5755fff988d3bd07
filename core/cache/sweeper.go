package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// Sweeper periodically removes expired and stale entries
type Sweeper struct {
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewSweeper creates a sweeper. staleAfter defaults to DefaultStaleAfter.
func NewSweeper(store Store, interval, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		store:      store,
		interval:   interval,
		staleAfter: staleAfter,
		clock:      time.Now,
		logger:     logging.Component(logger, "sweeper"),
	}
}

// SweepOnce runs a single sweep and returns the number of entries removed
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx, s.clock(), s.staleAfter)
	if err != nil {
		return n, errors.CacheUnavailable("sweep", err)
	}
	return n, nil
}

// Run sweeps on every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("cache sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("cache sweep removed entries", zap.Int("removed", n))
			}
		}
	}
}
