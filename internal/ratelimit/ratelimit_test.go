package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDelayUnlimitedByDefault(t *testing.T) {
	l := New(100 * time.Millisecond)
	assert.Zero(t, l.CalculateDelay(1<<30))
}

func TestCalculateDelayZeroSpeedDisablesThrottling(t *testing.T) {
	l := New(100 * time.Millisecond)
	l.SetSpeed(0)
	assert.Zero(t, l.CalculateDelay(1<<30))
}

func TestCalculateDelayUnderQuotaReturnsZero(t *testing.T) {
	l := New(100 * time.Millisecond)
	l.SetSpeed(1_000_000) // 1 MB/s -> 100,000 bytes/slice
	assert.Zero(t, l.CalculateDelay(50_000))
}

func TestCalculateDelayOverQuotaReturnsPositiveDelay(t *testing.T) {
	l := New(100 * time.Millisecond)
	l.SetSpeed(1_000_000) // 1 MB/s -> 100,000 bytes/slice

	delay := l.CalculateDelay(150_000)
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 100*time.Millisecond)
}

func TestCalculateDelayResetsAfterSliceElapses(t *testing.T) {
	l := New(10 * time.Millisecond)
	l.SetSpeed(1_000_000) // 1 MB/s -> 10,000 bytes/slice

	delay := l.CalculateDelay(20_000)
	assert.Greater(t, delay, time.Duration(0))

	time.Sleep(15 * time.Millisecond)
	assert.Zero(t, l.CalculateDelay(1))
}
