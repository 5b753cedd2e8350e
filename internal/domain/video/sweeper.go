package video

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the retention sweep on a fixed interval. It is a
// cancellable scheduled task with explicit start/stop tied to process
// lifetime, not a fire-and-forget goroutine.
type Sweeper struct {
	manager  *Manager
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper for the manager.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
	}
}

// Start launches the sweep loop. Idempotent while running.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.manager.log.Info("retention sweeper started",
		zap.Duration("interval", s.interval),
	)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.manager.log.Info("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.manager.Sweep(); removed > 0 {
				s.manager.log.Info("retention sweep completed",
					zap.Int("removed", removed),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
