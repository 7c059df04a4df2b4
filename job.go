package cowbackup

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/behrlich/go-cowbackup/internal/bitmap"
	"github.com/behrlich/go-cowbackup/internal/bufpool"
	"github.com/behrlich/go-cowbackup/internal/clock"
	"github.com/behrlich/go-cowbackup/internal/inflight"
	"github.com/behrlich/go-cowbackup/internal/logging"
	"github.com/behrlich/go-cowbackup/internal/quiesce"
	"github.com/behrlich/go-cowbackup/internal/ratelimit"
)

// Result is the terminal outcome of a job (§7).
type Result int

const (
	ResultSuccess Result = iota
	ResultFailed
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CompletionFunc is invoked exactly once, from the sweep task after drain,
// with the job's terminal result (§6 job-control interface: completed).
type CompletionFunc func(result Result, err error)

// interceptFailure is the shared "last error" flag §9's open question calls
// for: a guest-write-time CoW failure is always fatal to that guest write,
// but it must also be surfaced to the sweep so the job doesn't report
// success after silently losing a cluster.
type interceptFailure struct {
	err  error
	side Side
}

// Job is one running (or completed) CoW backup (§3 "Job").
type Job struct {
	source NotifyingDevice
	target Device
	cfg    Config

	bitmap   *bitmap.Bitmap
	inflight *inflight.Registry
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	gate     quiesce.Gate
	pool     *bufpool.Pool

	observer Observer
	logger   *logging.Logger

	lengthBytes   int64
	lengthSectors int64
	numClusters   int64

	mu            sync.Mutex
	offset        int64
	sectorsRead   int64
	cancelled     bool
	paused        chan struct{} // non-nil while paused; closed by Resume
	lastIntercept *interceptFailure
	result        Result
	resultErr     error

	retryBackoff *backoff.ExponentialBackOff

	unregister func()
	completion CompletionFunc

	eg *errgroup.Group
}

// Option customizes a Job at Start time.
type Option func(*Job)

// WithObserver installs a custom metrics Observer (default: NoOpObserver).
func WithObserver(o Observer) Option {
	return func(j *Job) { j.observer = o }
}

// WithLogger installs a custom *logging.Logger (default: logging.Default()).
func WithLogger(l *logging.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithClock overrides the monotonic clock the sweep sleeps on, used by tests
// to drive rate-limit and cancellation-during-sleep scenarios deterministically.
func WithClock(c clock.Clock) Option {
	return func(j *Job) { j.clock = c }
}

// Start validates cfg against source's capabilities, sizes the bitmap,
// installs the pre-write interceptor, and spawns the background sweep
// (§4.H). The completion callback fires once, from the sweep goroutine,
// after drain.
func Start(ctx context.Context, source NotifyingDevice, target Device, cfg Config, completion CompletionFunc, opts ...Option) (*Job, error) {
	if err := cfg.validate(source); err != nil {
		return nil, err
	}

	lengthBytes, err := source.Length(ctx)
	if err != nil {
		return nil, WrapIOError("start", SideSource, err)
	}
	lengthSectors := lengthBytes / SectorSize
	clusters := numClusters(lengthSectors)

	rb := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         SliceDuration * 50,
	}
	rb.Reset()

	j := &Job{
		source:        source,
		target:        target,
		cfg:           cfg,
		bitmap:        bitmap.New(uint64(clusters)),
		inflight:      &inflight.Registry{},
		limiter:       ratelimit.New(SliceDuration),
		clock:         clock.Real{},
		pool:          bufpool.New(),
		observer:      NoOpObserver{},
		logger:        logging.Default(),
		lengthBytes:   lengthBytes,
		lengthSectors: lengthSectors,
		numClusters:   clusters,
		retryBackoff:  rb,
		completion:    completion,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.limiter.SetSpeed(cfg.Speed)
	j.observer.ObserveProgress(0, lengthBytes)

	j.unregister = source.RegisterPreWriteNotifier(j.preWriteIntercept)

	j.eg = &errgroup.Group{}
	j.eg.Go(func() error {
		return j.sweep(ctx)
	})

	return j, nil
}

// Wait blocks until the sweep goroutine returns and reports its error, if
// any. Callers that only care about the completion callback need not call
// this; it exists for synchronous usage (CLI, tests).
func (j *Job) Wait() error {
	return j.eg.Wait()
}

// Cancel requests cancellation, observed by the sweep at its two
// cancellation checkpoints (§5). It does not cancel an in-progress do_cow
// invocation; that invocation finishes its current cluster first.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	paused := j.paused
	j.mu.Unlock()
	if paused != nil {
		// Wake a paused sweep so it can observe cancellation promptly
		// instead of waiting indefinitely for an external Resume.
		j.Resume()
	}
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Resume un-pauses a job previously paused by an on_error=stop action
// (§4.G). It is a no-op if the job is not paused.
func (j *Job) Resume() {
	j.mu.Lock()
	paused := j.paused
	j.paused = nil
	j.mu.Unlock()
	if paused != nil {
		close(paused)
	}
}

// waitUntilResumed blocks until Resume is called or ctx is cancelled.
func (j *Job) waitUntilResumed(ctx context.Context) error {
	j.mu.Lock()
	if j.paused == nil {
		j.paused = make(chan struct{})
	}
	paused := j.paused
	j.mu.Unlock()

	select {
	case <-paused:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the bytes of original content safely on the target and
// the source's total length, for external polling (§6 progress surface).
func (j *Job) Progress() (offset, length int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.offset, j.lengthBytes
}

// Result returns the job's terminal result and error, valid only once Wait
// (or the completion callback) has observed completion.
func (j *Job) Result() (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.resultErr
}

func (j *Job) swapSectorsRead() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := j.sectorsRead
	j.sectorsRead = 0
	return n
}

func (j *Job) setInterceptFailure(err error, side Side) {
	j.mu.Lock()
	if j.lastIntercept == nil {
		j.lastIntercept = &interceptFailure{err: err, side: side}
	}
	j.mu.Unlock()
}

func (j *Job) takeInterceptFailure() *interceptFailure {
	j.mu.Lock()
	defer j.mu.Unlock()
	f := j.lastIntercept
	j.lastIntercept = nil
	return f
}
