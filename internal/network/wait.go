package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thermostat/internal/logger"
)

// ErrNetworkUnavailable is the terminal bootstrap failure: the link did not
// come up within the retry budget.
var ErrNetworkUnavailable = errors.New("network unavailable")

// Backoff bounds WaitReady.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// DefaultBackoff: 250ms, 500ms, 1s ... capped at 30s, 20 probes (about 5 minutes).
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   20,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	return b
}

// WaitReady probes link until it is up, sleeping with exponential backoff
// between probes. It returns ErrNetworkUnavailable once MaxRetries probes have
// failed, or ctx.Err() if ctx is cancelled first.
func WaitReady(ctx context.Context, link Link, b Backoff, log *logger.Logger) (Status, error) {
	if log == nil {
		log = logger.Nop()
	}
	b = b.withDefaults()

	delay := b.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		st, err := link.Status()
		if err == nil && st.Up {
			log.Infow("network connected", "interface", st.Interface, "ip", st.IP.String(), "after_attempts", attempt)
			return st, nil
		}
		lastErr = err

		if attempt == b.MaxRetries {
			break
		}
		log.Debugw("network not ready, retrying",
			"attempt", attempt,
			"max_retries", b.MaxRetries,
			"next_delay", delay.String(),
			"err", err,
		)
		if !sleepCtx(ctx, delay) {
			return Status{}, ctx.Err()
		}
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}

	if lastErr != nil {
		return Status{}, fmt.Errorf("%w after %d attempts: %w", ErrNetworkUnavailable, b.MaxRetries, lastErr)
	}
	return Status{}, fmt.Errorf("%w after %d attempts", ErrNetworkUnavailable, b.MaxRetries)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
