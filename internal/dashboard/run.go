package dashboard

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run refreshes the dashboard every interval until ctx is done. A zero
// interval returns immediately.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("scheduled refresh failed", zap.Error(err))
			}
		}
	}
}
