package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the publish retries that follow a committed ledger
// write. Delays grow geometrically from InitialDelay up to MaxDelay.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy is three attempts starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// delay returns the wait before attempt n+1 after attempt n (1-based) failed.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// retry runs op until it succeeds, the attempts are used up, or ctx ends.
// Each attempt gets its own timeout. The last error is returned.
func (e *Engine) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	attempts := e.opts.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, e.opts.ChannelTimeout)
		err = op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		wait := e.opts.Retry.delay(attempt)
		e.log.Warn().Err(err).Str("op", what).Int("attempt", attempt).Dur("retry_in", wait).Msg("channel publish failed, retrying")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
