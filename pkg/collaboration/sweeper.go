package collaboration

import (
	"context"
	"time"

	"github.com/qamatch/collab/pkg/observability"
)

// Sweeper periodically expires sessions older than MaxAge
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	maxAge      time.Duration
	logger      observability.Logger
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(coordinator *Coordinator, interval, maxAge time.Duration, logger observability.Logger) *Sweeper {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Sweeper{
		coordinator: coordinator,
		interval:    interval,
		maxAge:      maxAge,
		logger:      logger,
	}
}

// Run sweeps until ctx is canceled. It always returns nil so it can run in
// an errgroup next to the servers.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Session sweeper started", map[string]interface{}{
		"interval":    s.interval.String(),
		"max_session": s.maxAge.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session sweeper stopped", nil)
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns how many sessions were destroyed
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired := s.coordinator.ExpireIdleSessions(ctx, s.maxAge)
	if expired > 0 {
		s.logger.Info("Expired edit sessions", map[string]interface{}{
			"expired":   expired,
			"remaining": s.coordinator.ActiveSessionsCount(),
		})
	}
	return expired
}
