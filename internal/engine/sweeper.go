package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically expires lapsed bids and closes ended auctions.
// Bids re-check end_time themselves, so the sweep only bounds how long an
// ended auction stays unsettled.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(e *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{engine: e, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.engine.ExpireBids(ctx)
	if err != nil {
		s.logger.Error("bid expiry sweep failed", zap.Error(err))
	}
	closed, err := s.engine.ProcessEnded(ctx)
	if err != nil {
		s.logger.Error("ended auction sweep failed", zap.Error(err))
	}
	if expired > 0 || len(closed) > 0 {
		s.logger.Info("sweep complete", zap.Int("bids_expired", expired), zap.Int("auctions_closed", len(closed)))
	}
}
