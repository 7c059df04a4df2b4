package cowbackup

import (
	"context"
	"time"
)

// doCow is the CoW engine, component D, the heart of the scheduler (§4.D).
// It copies the original contents of every not-yet-copied cluster touched by
// [sectorNum, sectorNum+nSectors) from source to target, gated by the
// in-flight overlap registry and the flush gate, and returns the side that
// failed (if any) so callers can route the error to the error-action policy
// or, for the interceptor, straight back to the guest.
func (j *Job) doCow(ctx context.Context, sectorNum, nSectors int64) (err error, side Side) {
	j.gate.Enter()
	defer j.gate.Leave()

	start := clusterOf(sectorNum)
	end := clusterEnd(sectorNum, nSectors)

	req, werr := j.inflight.Begin(ctx, start, end)
	if werr != nil {
		return werr, SideNone
	}
	defer j.inflight.End(req)
	j.observer.ObserveInFlightDepth(j.inflight.Len())

	totalSectors, lerr := j.source.Length(ctx)
	if lerr != nil {
		return WrapIOError("do_cow", SideSource, lerr), SideSource
	}
	totalSectors /= SectorSize

	var bounce []byte
	defer func() {
		if bounce != nil {
			j.pool.Put(bounce)
		}
	}()

	for c := start; c < end; c++ {
		j.mu.Lock()
		copied := j.bitmap.Get(uint64(c))
		j.mu.Unlock()
		if copied {
			continue // already copied
		}

		n := int64(SectorsPerCluster)
		if rem := totalSectors - c*SectorsPerCluster; rem < n {
			n = rem
		}
		if n <= 0 {
			continue
		}

		if bounce == nil {
			bounce = j.pool.Get()
		}
		buf := bounce[:n*SectorSize]

		readStart := time.Now()
		if rerr := j.source.ReadAt(ctx, c*SectorsPerCluster, n, buf); rerr != nil {
			j.observer.ObserveClusterRead(uint64(n*SectorSize), uint64(time.Since(readStart)), false)
			return WrapIOError("do_cow", SideSource, rerr), SideSource
		}
		j.observer.ObserveClusterRead(uint64(n*SectorSize), uint64(time.Since(readStart)), true)

		zero := isZero(buf)
		writeStart := time.Now()
		var werr2 error
		if zero {
			werr2 = j.target.WriteZeroesAt(ctx, c*SectorsPerCluster, n)
		} else {
			werr2 = j.target.WriteAt(ctx, c*SectorsPerCluster, n, buf)
		}
		if werr2 != nil {
			j.observer.ObserveClusterWrite(uint64(n*SectorSize), uint64(time.Since(writeStart)), false, zero)
			return WrapIOError("do_cow", SideTarget, werr2), SideTarget
		}
		j.observer.ObserveClusterWrite(uint64(n*SectorSize), uint64(time.Since(writeStart)), true, zero)

		// The bit is set only after the target write has succeeded: a
		// failed or cancelled cluster is retried by the sweep or a
		// subsequent interception (§4.A, §4.D rationale).
		// Distinct clusters can share a bitmap word, so non-overlapping
		// in-flight ranges still need the job mutex around Get/Set.
		j.mu.Lock()
		j.bitmap.Set(uint64(c))
		j.sectorsRead += n
		j.offset += n * SectorSize
		j.mu.Unlock()
	}

	return nil, SideNone
}

// isZero reports whether every byte of buf is zero, the zero-detection
// step (§4.D.5e) that lets a cluster be written via write-zeroes instead of
// a full write, keeping the target sparse.
func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
