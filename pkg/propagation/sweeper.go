package propagation

import (
	"context"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"go.uber.org/zap"
)

// Sweeper periodically prunes stale candidates from a registry.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *logging.ColoredLogger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper. It does nothing until Start is called.
func NewSweeper(registry *Registry, interval time.Duration, logger *logging.ColoredLogger) *Sweeper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start begins sweeping on the registry clock. A non-positive interval
// leaves the sweeper disabled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	ticker := s.registry.Clock().Ticker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.registry.Prune(); n > 0 {
					s.logger.ComponentInfo(logging.ComponentPropagation, "Swept stale propagation nodes",
						zap.Int("removed", n), zap.Int("remaining", s.registry.Len()))
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}
