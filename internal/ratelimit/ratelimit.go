// Package ratelimit provides the rate limiter consumed by the background
// sweep (§4.C), consumed purely through SetSpeed/CalculateDelay — a
// self-contained black box behind that interface, grounded on the
// slice-based accounting QEMU's block/backup.c drives through its own
// RateLimit (original_source). No third-party limiter in the example pack
// implements this exact "bytes consumed this slice -> delay to the end of
// the slice" contract, so a small stdlib-only implementation is the right
// size for it.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter converts a target bytes/s budget into per-slice sleep delays.
// Zero speed disables throttling.
type Limiter struct {
	sliceDuration time.Duration

	mu        sync.Mutex
	speed     int64 // bytes/s, 0 = unlimited
	sliceEnd  time.Time
	dispensed int64
}

// New creates a Limiter whose accounting window is sliceDuration (§6: 100ms).
func New(sliceDuration time.Duration) *Limiter {
	return &Limiter{sliceDuration: sliceDuration}
}

// SetSpeed sets the target bytes/s budget.
func (l *Limiter) SetSpeed(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speed = bytesPerSecond
}

// CalculateDelay folds bytesConsumedThisSlice into the current slice's
// tally and returns how long the caller should sleep before the next
// slice. A zero speed always returns zero (unthrottled).
func (l *Limiter) CalculateDelay(bytesConsumedThisSlice int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.speed <= 0 {
		return 0
	}

	now := time.Now()
	if now.After(l.sliceEnd) {
		l.sliceEnd = now.Add(l.sliceDuration)
		l.dispensed = 0
	}
	l.dispensed += bytesConsumedThisSlice

	quota := l.speed * int64(l.sliceDuration) / int64(time.Second)
	if l.dispensed < quota {
		return 0
	}

	delay := l.sliceEnd.Sub(now)
	l.sliceEnd = l.sliceEnd.Add(l.sliceDuration)
	l.dispensed = 0
	if delay < 0 {
		return 0
	}
	return delay
}
