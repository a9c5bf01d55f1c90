package tokenward

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes refresh-token rows past their expiry plus the
// configured grace window. Obtain one from [Engine.Sweeper] and run it from a
// dedicated goroutine; cancelling the context stops it.
type Sweeper struct {
	engine *Engine
	cfg    SweepConfig
	logger *slog.Logger
}

// Run blocks until ctx is cancelled. A failed sweep is logged and retried
// after the error backoff instead of the regular interval; it never stops the
// loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := s.cfg.Interval
		deleted, err := s.engine.SweepExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = s.cfg.ErrorBackoff
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "expiry sweep failed",
					slog.Any("error", err),
					slog.Duration("retry_in", wait),
				)
			}
		} else if deleted > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "expiry sweep completed",
				slog.Int("deleted", deleted),
			)
		}

		timer.Reset(wait)
	}
}
