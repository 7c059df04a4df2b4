package cowbackup

import (
	"context"
	"time"
)

// sweep is the background sweep, component F (§4.F): it walks every
// cluster in order, paced by the rate limiter and yielding for cancellation,
// invoking do_cow for each. It is the sole sweep-task consumer of the
// error-action policy (component G); the pre-write interceptor never
// consults it (§4.E).
func (j *Job) sweep(ctx context.Context) error {
	defer j.finish()

	for c := int64(0); c < j.numClusters; c++ {
		if j.isCancelled() {
			return j.cancel()
		}

		if err := j.checkInterceptFailure(); err != nil {
			return j.fail(err)
		}

		delay := j.sliceDelay()
		if err := j.clock.SleepCtx(ctx, delay); err != nil {
			return j.cancel()
		}

		if j.isCancelled() {
			return j.cancel()
		}

		err, side := j.doCow(ctx, c*SectorsPerCluster, 1)
		if err == nil {
			j.retryBackoff.Reset()
			j.logger.Debug("cluster copied", "cluster", c)
			offset, length := j.Progress()
			j.observer.ObserveProgress(offset, length)
			continue
		}

		switch j.resolveAction(side, err) {
		case actionReport:
			return j.fail(err)
		case actionStop:
			j.logger.Warn("pausing job on target/source error", "cluster", c, "error", err)
			if werr := j.waitUntilResumed(ctx); werr != nil {
				return j.cancel()
			}
			c--
		default: // actionIgnore
			j.logger.Debug("ignoring cluster error, will retry", "cluster", c, "error", err)
			if werr := j.clock.SleepCtx(ctx, j.retryBackoff.NextBackOff()); werr != nil {
				return j.cancel()
			}
			c--
		}
	}

	j.mu.Lock()
	j.result = ResultSuccess
	j.resultErr = nil
	j.mu.Unlock()
	return nil
}

// sliceDelay computes the sweep's per-iteration sleep: the rate-limited
// delay when a speed is configured, or a mandatory zero-ns yield otherwise
// so the scheduler can service other work and cancellation stays observable
// (§4.F step 2).
func (j *Job) sliceDelay() (delay time.Duration) {
	if j.cfg.Speed <= 0 {
		return 0
	}
	sectorsRead := j.swapSectorsRead()
	return j.limiter.CalculateDelay(sectorsRead * SectorSize)
}

// checkInterceptFailure consults and clears the shared last-error flag a
// failed pre-write intercept latches (§9): the sweep treats it as a
// report-class failure at its next iteration, since the interceptor itself
// never consults the error-action policy.
func (j *Job) checkInterceptFailure() error {
	f := j.takeInterceptFailure()
	if f == nil {
		return nil
	}
	return f.err
}

// resolveAction maps a do_cow failure to an error-action decision (§4.G),
// selecting the source or target policy by which side failed.
func (j *Job) resolveAction(side Side, err error) errorAction {
	switch side {
	case SideSource:
		return j.cfg.OnSourceError.resolve(err)
	case SideTarget:
		return j.cfg.OnTargetError.resolve(err)
	default:
		return actionReport
	}
}

func (j *Job) fail(err error) error {
	j.mu.Lock()
	j.result = ResultFailed
	j.resultErr = err
	j.mu.Unlock()
	return err
}

func (j *Job) cancel() error {
	j.mu.Lock()
	j.result = ResultCancelled
	j.resultErr = ErrCancelled
	j.mu.Unlock()
	return ErrCancelled
}

// finish runs the shutdown sequence after the sweep loop exits (§4.F "after
// the loop"): unregister the interceptor, drain any still-running do_cow
// invocations reached through the interceptor via the flush gate, release
// the target, and report completion.
func (j *Job) finish() {
	j.unregisterPreWrite()
	j.gate.Drain()
	j.target.Close()

	result, err := j.Result()
	j.completion(result, err)
}
