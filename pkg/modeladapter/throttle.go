package modeladapter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle delays requests to one backend before they are sent: it enforces
// an optional requests-per-minute budget and, when the backend's last
// response reported exhausted capacity, waits for the advertised reset.
// It is safe for concurrent use.
type Throttle struct {
	limiter  *rate.Limiter
	reporter RateLimitInfoReporter

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleepFunc is used for testing; defaults to Sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a Throttle. rpm <= 0 disables the request budget;
// a nil reporter disables server-driven waits.
func NewThrottle(rpm int, reporter RateLimitInfoReporter) *Throttle {
	t := &Throttle{
		reporter:  reporter,
		nowFunc:   time.Now,
		sleepFunc: Sleep,
	}
	if rpm > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	return t
}

// SetNowFunc overrides the time source (for testing).
func (t *Throttle) SetNowFunc(fn func() time.Time) { t.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (t *Throttle) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	t.sleepFunc = fn
}

// Wait blocks until a request may be sent or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if t.reporter != nil {
		now := t.nowFunc()
		if until, ok := t.reporter.LastRateLimitInfo().ExhaustedUntil(now); ok {
			if err := t.sleepFunc(ctx, until.Sub(now)); err != nil {
				return err
			}
		}
	}

	if t.limiter != nil {
		return t.limiter.Wait(ctx)
	}

	return ctx.Err()
}
