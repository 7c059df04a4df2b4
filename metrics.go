package cowbackup

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing — the same bucket ladder the
// teacher's device-serving Metrics uses for I/O latency, reused here for
// per-cluster read/write latency instead of per-request queue latency.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks the operational statistics of one backup job: per-cluster
// read/write counters, zero-detected sparse writes, error counts by side,
// in-flight overlap depth, and progress. Grounded on ublk-mem's
// Metrics/MetricsSnapshot (metrics.go), generalized from per-request-queue
// I/O accounting to per-cluster CoW accounting.
type Metrics struct {
	ClusterReads  atomic.Uint64 // successful source reads (do_cow step 5d)
	ClusterWrites atomic.Uint64 // successful target writes, zero or not (5e)
	ZeroWrites    atomic.Uint64 // of ClusterWrites, how many were write-zeroes

	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	ReadErrors  atomic.Uint64 // source read failures (length-query failures are not counted)
	WriteErrors atomic.Uint64 // target-side failures

	InFlightDepthTotal atomic.Uint64 // cumulative in-flight registry depth samples
	InFlightDepthCount atomic.Uint64
	MaxInFlightDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	Offset atomic.Int64 // bytes of original content safely on target
	Len    atomic.Int64 // source length in bytes

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new, running metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records one source read (do_cow step 5d).
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	if success {
		m.ClusterReads.Add(1)
		m.BytesRead.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records one target write (do_cow step 5e); zero reports
// whether it was a write-zeroes rather than a full write.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool, zero bool) {
	if success {
		m.ClusterWrites.Add(1)
		m.BytesWritten.Add(bytes)
		if zero {
			m.ZeroWrites.Add(1)
		}
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInFlightDepth records a sample of the in-flight registry's size
// (§4.B), the backup-job analogue of ublk-mem's queue-depth sampling.
func (m *Metrics) RecordInFlightDepth(depth int) {
	m.InFlightDepthTotal.Add(uint64(depth))
	m.InFlightDepthCount.Add(1)
	d := uint32(depth)
	for {
		current := m.MaxInFlightDepth.Load()
		if d <= current {
			break
		}
		if m.MaxInFlightDepth.CompareAndSwap(current, d) {
			break
		}
	}
}

// RecordProgress records the job's current offset/len (§6 progress surface).
func (m *Metrics) RecordProgress(offset, length int64) {
	m.Offset.Store(offset)
	m.Len.Store(length)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the job as finished for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, lock-free-read view of Metrics.
type MetricsSnapshot struct {
	ClusterReads  uint64
	ClusterWrites uint64
	ZeroWrites    uint64

	BytesRead    uint64
	BytesWritten uint64

	ReadErrors  uint64
	WriteErrors uint64

	AvgInFlightDepth float64
	MaxInFlightDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64

	Offset int64
	Len    int64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot takes a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ClusterReads:     m.ClusterReads.Load(),
		ClusterWrites:    m.ClusterWrites.Load(),
		ZeroWrites:       m.ZeroWrites.Load(),
		BytesRead:        m.BytesRead.Load(),
		BytesWritten:     m.BytesWritten.Load(),
		ReadErrors:       m.ReadErrors.Load(),
		WriteErrors:      m.WriteErrors.Load(),
		MaxInFlightDepth: m.MaxInFlightDepth.Load(),
		Offset:           m.Offset.Load(),
		Len:              m.Len.Load(),
	}

	snap.TotalOps = snap.ClusterReads + snap.ClusterWrites
	snap.TotalBytes = snap.BytesRead + snap.BytesWritten

	depthTotal := m.InFlightDepthTotal.Load()
	depthCount := m.InFlightDepthCount.Load()
	if depthCount > 0 {
		snap.AvgInFlightDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Observer allows pluggable instrumentation of the CoW engine's hot path,
// the backup-job analogue of ublk-mem's I/O Observer: instead of
// per-request read/write/discard/flush/queue-depth hooks feeding a served
// device's metrics, this fires from inside do_cow and the sweep.
type Observer interface {
	// ObserveClusterRead is called after each source read (success or
	// failure) inside do_cow.
	ObserveClusterRead(bytes uint64, latencyNs uint64, success bool)

	// ObserveClusterWrite is called after each target write or write-zeroes
	// (success or failure) inside do_cow.
	ObserveClusterWrite(bytes uint64, latencyNs uint64, success bool, zero bool)

	// ObserveInFlightDepth is called once per do_cow invocation with the
	// in-flight registry's size immediately after Begin (§4.B).
	ObserveInFlightDepth(depth int)

	// ObserveProgress is called once by Start with offset 0, then after each
	// sweep iteration whose do_cow succeeded, with the job's current offset
	// and source length (§6 progress surface). Failed iterations do not
	// call it.
	ObserveProgress(offset, length int64)
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveClusterRead(uint64, uint64, bool)       {}
func (NoOpObserver) ObserveClusterWrite(uint64, uint64, bool, bool) {}
func (NoOpObserver) ObserveInFlightDepth(int)                       {}
func (NoOpObserver) ObserveProgress(int64, int64)                   {}

// MetricsObserver records observations into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveClusterRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveClusterWrite(bytes uint64, latencyNs uint64, success bool, zero bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success, zero)
}

func (o *MetricsObserver) ObserveInFlightDepth(depth int) {
	o.metrics.RecordInFlightDepth(depth)
}

func (o *MetricsObserver) ObserveProgress(offset, length int64) {
	o.metrics.RecordProgress(offset, length)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
