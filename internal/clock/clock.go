// Package clock abstracts the monotonic clock the sweep sleeps on (§6
// job-control interface: sleep_ns), consumed abstractly so the engine
// depends only on this interface; Real is the production
// implementation and Fake lets tests drive rate-limiter and
// cancellation-during-sleep scenarios (§8 boundary behaviors) without
// waiting on a wall clock.
package clock

import (
	"context"
	"runtime"
	"time"
)

// Clock sleeps for d, returning early with ctx.Err() if ctx is cancelled
// first — the cancel-observing sleep_ns primitive of §6.
type Clock interface {
	SleepCtx(ctx context.Context, d time.Duration) error
}

// Real is the production Clock, backed by time.Timer.
type Real struct{}

// SleepCtx implements Clock.
func (Real) SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// A zero-duration sleep still yields the goroutine, the Go
		// translation of the coroutine scheduler yield so the event loop
		// can service other work and cancellation stays observable
		// (§4.F step 2).
		runtime.Gosched()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
