package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sweepInterval matches spec §4.4's "a periodic sweep (once per minute)".
const sweepInterval = time.Minute

// CleanupSweeper periodically drops ledger rows whose completion is more
// than 10 minutes old, and expired idempotency entries. Grounded on the
// teacher's HealthMonitor: a cancellable context, a ticker loop, and a
// WaitGroup for graceful shutdown.
type CleanupSweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCleanupSweeper(c *Coordinator) *CleanupSweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupSweeper{
		coordinator: c,
		interval:    sweepInterval,
		logger:      c.logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs the sweep loop until Stop is called. Call it in its own
// goroutine.
func (s *CleanupSweeper) Start() {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (s *CleanupSweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *CleanupSweeper) sweepOnce() {
	cutoff := time.Now().Add(-idempotencyTTL)
	dropped, err := s.coordinator.ledger.Sweep(cutoff)
	if err != nil {
		s.logger.Error("ledger cleanup sweep failed", zap.Error(err))
	} else if dropped > 0 {
		s.logger.Info("swept stale ledger entries", zap.Int("count", dropped))
	}

	if n := s.coordinator.idempotent.sweep(); n > 0 {
		s.logger.Info("swept stale idempotency entries", zap.Int("count", n))
	}
}
