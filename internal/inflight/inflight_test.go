package inflight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginNonOverlappingDoesNotBlock(t *testing.T) {
	reg := &Registry{}
	ctx := context.Background()

	r1, err := reg.Begin(ctx, 0, 2)
	require.NoError(t, err)
	r2, err := reg.Begin(ctx, 2, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	reg.End(r1)
	reg.End(r2)
	assert.Equal(t, 0, reg.Len())
}

func TestBeginOverlappingBlocksUntilEnd(t *testing.T) {
	reg := &Registry{}
	ctx := context.Background()

	r1, err := reg.Begin(ctx, 0, 4)
	require.NoError(t, err)

	started := make(chan struct{})
	finished := make(chan struct{})
	var r2 *Request
	go func() {
		close(started)
		var err error
		r2, err = reg.Begin(ctx, 2, 6)
		assert.NoError(t, err)
		close(finished)
	}()

	<-started
	select {
	case <-finished:
		t.Fatal("overlapping Begin returned before the blocking request ended")
	case <-time.After(50 * time.Millisecond):
	}

	reg.End(r1)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("overlapping Begin never woke after End")
	}
	assert.NotNil(t, r2)
	reg.End(r2)
}

func TestBeginCtxCancelUnblocks(t *testing.T) {
	reg := &Registry{}
	ctx := context.Background()

	r1, err := reg.Begin(ctx, 0, 4)
	require.NoError(t, err)
	defer reg.End(r1)

	cctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Begin(cctx, 1, 2)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Begin did not observe context cancellation")
	}
}

func TestOnlyOneOverlapperProceedsAtATime(t *testing.T) {
	reg := &Registry{}
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	active := 0
	maxActive := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := reg.Begin(ctx, 5, 10)
			require.NoError(t, err)

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			reg.End(req)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive, "overlapping ranges must be serialized")
}
