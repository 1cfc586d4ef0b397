package service

import (
	"context"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

const cleanupTimeout = 10 * time.Second

// SessionReaper periodically discards idle capture sessions so abandoned
// tablets do not hold camera streams.
type SessionReaper struct {
	service  *CaptureService
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(service *CaptureService, interval time.Duration, log *logger.Logger) *SessionReaper {
	return &SessionReaper{
		service:  service,
		interval: interval,
		logger:   log.WithComponent("reaper"),
	}
}

// Start starts the reaper in a background goroutine.
func (r *SessionReaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.logger.Info().Dur("interval", r.interval).Msg("session reaper started")

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("session reaper stopped")
				return
			case now := <-ticker.C:
				if n := r.service.Reap(now); n > 0 {
					r.logger.Info().Int("discarded", n).Int("remaining", r.service.Count()).Msg("reaped idle sessions")
				}
			}
		}
	}()
}

// Stop stops the reaper goroutine and waits for it to exit
func (r *SessionReaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
