package trader

import (
	"context"
	"errors"
	"time"

	"valrtrader/internal/metrics"
	"valrtrader/pkg/valr"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// supervise runs one session after another for the same feed. A session is
// single use, so every attempt gets a fresh StreamSession. With reconnect
// disabled the first failure is returned, which stops the whole trader.
func (t *Trader) supervise(ctx context.Context, sc valr.SessionConfig, handler valr.MessageHandler) error {
	rc := t.cfg.Valr.WS.Reconnect
	b := &backoff.Backoff{
		Min:    rc.MinDelay,
		Max:    rc.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	logger := t.logger.With(zap.String("feed", sc.Name))

	sc.OnStateChange = func(s valr.State) {
		metrics.SessionState.WithLabelValues(sc.Name).Set(float64(s))
	}
	sc.OnPing = metrics.ObservePing(sc.Name)

	for {
		session := valr.NewStreamSession(sc, t.factory, handler, t.logger)
		started := time.Now()
		err := session.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = &valr.TransportError{Op: "run", Err: errors.New("session ended")}
		}

		var signErr *valr.SigningError
		if !rc.Enabled || errors.As(err, &signErr) {
			logger.Error("session failed", zap.String("session_id", session.ID()), zap.Error(err))
			return err
		}

		// A session that stayed up longer than the longest delay counts as healthy.
		if time.Since(started) > b.Max {
			b.Reset()
		}
		delay := b.Duration()
		metrics.ReconnectsTotal.WithLabelValues(sc.Name).Inc()
		logger.Warn("session failed, reconnecting",
			zap.String("session_id", session.ID()),
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Float64("attempt", b.Attempt()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
