package cowbackup

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-cowbackup/internal/clock"
)

func TestSourceReadErrorIgnorePolicyRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	const numClusters = 5
	size := int64(numClusters * ClusterSize)
	source := NewMockDevice(size)
	source.SetBytes(0, bytes.Repeat([]byte{0x4D}, int(size)))
	target := NewMockDevice(size)

	failSector := int64(2 * SectorsPerCluster)
	source.FailReadAtSector = &failSector
	source.FailReadCount = 2 // fails twice, third read succeeds

	cfg := Config{OnSourceError: OnErrorIgnore}
	job, result, err := waitCompletion(t, func(completion CompletionFunc) (*Job, error) {
		return Start(ctx, source, target, cfg, completion, WithClock(&clock.Fake{}))
	})

	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	assert.Equal(t, source.Bytes(), target.Bytes())
	for c := uint64(0); c < numClusters; c++ {
		assert.Truef(t, job.bitmap.Get(c), "cluster %d must eventually be copied", c)
	}
}

func TestTargetEnospcReportPolicyTerminatesEarly(t *testing.T) {
	ctx := context.Background()
	const numClusters = 10
	const failAt = 4
	size := int64(numClusters * ClusterSize)
	source := NewMockDevice(size)
	source.SetBytes(0, bytes.Repeat([]byte{0x6E}, int(size)))
	target := NewMockDevice(size)

	failSector := int64(failAt * SectorsPerCluster)
	target.FailWriteAtSector = &failSector
	target.FailWriteCount = -1
	target.FailWriteErr = syscall.ENOSPC

	cfg := Config{OnTargetError: OnErrorReport}
	job, result, err := waitCompletion(t, func(completion CompletionFunc) (*Job, error) {
		return Start(ctx, source, target, cfg, completion, WithClock(&clock.Fake{}))
	})

	assert.Equal(t, ResultFailed, result)
	require.Error(t, err)
	assert.True(t, IsNoSpace(err))

	for c := uint64(0); c < failAt; c++ {
		assert.Truef(t, job.bitmap.Get(c), "cluster %d precedes the failure and must be copied", c)
	}
	for c := uint64(failAt); c < numClusters; c++ {
		assert.Falsef(t, job.bitmap.Get(c), "cluster %d must stay untouched after the sweep reports", c)
	}
}

func TestTargetEnospcStopPolicyPausesThenResumes(t *testing.T) {
	ctx := context.Background()
	const numClusters = 3
	const failAt = 1
	size := int64(numClusters * ClusterSize)
	source := NewMockDevice(size)
	source.SetBytes(0, bytes.Repeat([]byte{0x2F}, int(size)))
	target := NewMockDevice(size)

	failSector := int64(failAt * SectorsPerCluster)
	target.FailWriteAtSector = &failSector
	target.FailWriteCount = 1 // fails once, then the retried write succeeds
	target.FailWriteErr = syscall.ENOSPC

	cfg := Config{OnTargetError: OnErrorENOSPC}

	done := make(chan struct{})
	var result Result
	var jobErr error
	job, err := Start(ctx, source, target, cfg, func(r Result, e error) {
		result = r
		jobErr = e
		close(done)
	}, WithClock(&clock.Fake{}))
	require.NoError(t, err)

	// The job pauses on the injected ENOSPC; wait for it to actually reach
	// the paused state before resuming it, since Resume is a no-op on a job
	// that hasn't paused yet.
	waitUntilJobPaused(t, job)
	job.Resume()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete after resume")
	}

	require.NoError(t, jobErr)
	assert.Equal(t, ResultSuccess, result)
	assert.Equal(t, source.Bytes(), target.Bytes())
}

// waitUntilJobPaused polls j's internal paused state, since Resume is a
// no-op unless a prior waitUntilResumed call has installed the channel.
func waitUntilJobPaused(t *testing.T, j *Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j.mu.Lock()
		paused := j.paused
		j.mu.Unlock()
		if paused != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never reached the paused state")
}

func TestCheckInterceptFailureSurfacesLatchedError(t *testing.T) {
	j := &Job{}
	assert.NoError(t, j.checkInterceptFailure())

	boom := assert.AnError
	j.setInterceptFailure(boom, SideSource)
	assert.Equal(t, boom, j.checkInterceptFailure())
	// Latched error is consumed exactly once.
	assert.NoError(t, j.checkInterceptFailure())
}

func TestResolveAction(t *testing.T) {
	j := &Job{cfg: Config{
		OnSourceError: OnErrorIgnore,
		OnTargetError: OnErrorReport,
	}}
	assert.Equal(t, actionIgnore, j.resolveAction(SideSource, assert.AnError))
	assert.Equal(t, actionReport, j.resolveAction(SideTarget, assert.AnError))
	assert.Equal(t, actionReport, j.resolveAction(SideNone, assert.AnError))
}
