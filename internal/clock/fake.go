package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests: SleepCtx never actually waits,
// but records every requested duration so a test can assert on the pacing
// the sweep/rate-limiter requested without the test itself taking real
// wall-clock time.
type Fake struct {
	mu    sync.Mutex
	sleep []time.Duration
}

// SleepCtx implements Clock without blocking.
func (f *Fake) SleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	f.mu.Lock()
	f.sleep = append(f.sleep, d)
	f.mu.Unlock()
	return nil
}

// Sleeps returns the durations requested so far, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleep))
	copy(out, f.sleep)
	return out
}
