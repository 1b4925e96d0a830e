package valr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeatInterval is how often a PING is sent on an idle or busy session.
const DefaultHeartbeatInterval = 10 * time.Second

// Heartbeat sends a liveness frame every Interval until its context ends.
type Heartbeat struct {
	Interval time.Duration

	// MaxFailures consecutive send failures end the heartbeat with a
	// *TransportError. Zero keeps it running regardless.
	MaxFailures int

	Send     func() error
	Logger   *zap.Logger
	Observer func(err error) // optional, called after every send attempt
}

func (h *Heartbeat) Run(ctx context.Context) error {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := h.Send()
		if h.Observer != nil {
			h.Observer(err)
		}
		if err == nil {
			failures = 0
			logger.Debug("ping sent")
			continue
		}

		failures++
		logger.Warn("failed to send ping", zap.Int("consecutive_failures", failures), zap.Error(err))
		if h.MaxFailures > 0 && failures >= h.MaxFailures {
			return &TransportError{
				Op:  "ping",
				Err: fmt.Errorf("%w after %d attempts: %w", ErrHeartbeatFailed, failures, err),
			}
		}
	}
}
