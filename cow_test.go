package cowbackup

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-cowbackup/internal/bitmap"
	"github.com/behrlich/go-cowbackup/internal/bufpool"
	"github.com/behrlich/go-cowbackup/internal/inflight"
	"github.com/behrlich/go-cowbackup/internal/logging"
)

// newTestJob builds a Job with no sweep goroutine running, so doCow can be
// exercised directly and deterministically.
func newTestJob(source NotifyingDevice, target Device, clusters int64) *Job {
	return &Job{
		source:   source,
		target:   target,
		cfg:      Config{},
		bitmap:   bitmap.New(uint64(clusters)),
		inflight: &inflight.Registry{},
		pool:     bufpool.New(),
		observer: NoOpObserver{},
		logger:   logging.Default(),
	}
}

func TestDoCowCopiesUncopiedCluster(t *testing.T) {
	ctx := context.Background()
	source := NewMockDevice(ClusterSize)
	source.SetBytes(0, bytes.Repeat([]byte{0x7A}, ClusterSize))
	target := NewMockDevice(ClusterSize)

	j := newTestJob(source, target, 1)
	err, side := j.doCow(ctx, 0, SectorsPerCluster)
	require.NoError(t, err)
	assert.Equal(t, SideNone, side)

	assert.Equal(t, source.Bytes(), target.Bytes())
	assert.True(t, j.bitmap.Get(0))
}

func TestDoCowSkipsAlreadyCopiedCluster(t *testing.T) {
	ctx := context.Background()
	source := NewMockDevice(ClusterSize)
	source.SetBytes(0, bytes.Repeat([]byte{0x11}, ClusterSize))
	target := NewMockDevice(ClusterSize)

	j := newTestJob(source, target, 1)
	j.bitmap.Set(0)

	err, _ := j.doCow(ctx, 0, SectorsPerCluster)
	require.NoError(t, err)

	// Untouched: doCow must not have read the source or written the target
	// for an already-copied cluster.
	sourceReads, _, _ := source.CallCounts()
	assert.Zero(t, sourceReads)
	_, writes, zeroes := target.CallCounts()
	assert.Zero(t, writes)
	assert.Zero(t, zeroes)
	assert.Equal(t, make([]byte, ClusterSize), target.Bytes())
}

func TestDoCowWritesZeroesForZeroCluster(t *testing.T) {
	ctx := context.Background()
	source := NewMockDevice(ClusterSize) // zero-filled by default
	target := NewMockDevice(ClusterSize)
	target.SetBytes(0, bytes.Repeat([]byte{0xFF}, ClusterSize))

	j := newTestJob(source, target, 1)
	err, _ := j.doCow(ctx, 0, SectorsPerCluster)
	require.NoError(t, err)

	assert.Equal(t, make([]byte, ClusterSize), target.Bytes())
	_, writes, zeroes := target.CallCounts()
	assert.Zero(t, writes, "zero cluster must go through WriteZeroesAt, not WriteAt")
	assert.Equal(t, 1, zeroes)
}

func TestDoCowSerializesOverlappingConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	source := NewMockDevice(2 * ClusterSize)
	source.SetBytes(0, bytes.Repeat([]byte{0x5C}, 2*ClusterSize))
	target := NewMockDevice(2 * ClusterSize)

	j := newTestJob(source, target, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			err, _ := j.doCow(ctx, 0, 2*SectorsPerCluster)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, source.Bytes(), target.Bytes())
	assert.True(t, j.bitmap.Get(0))
	assert.True(t, j.bitmap.Get(1))
	assert.Zero(t, j.inflight.Len(), "both requests must have been removed on exit")
}

func TestIsZero(t *testing.T) {
	assert.True(t, isZero(make([]byte, 512)))
	assert.False(t, isZero([]byte{0, 0, 1, 0}))
	assert.True(t, isZero(nil))
}
