// Package mem provides an in-memory cowbackup.Device, used as a source or
// target in tests and for the `cowbackup start --source mem:<size>` CLI
// mode. It is a direct adaptation of ublk-mem's sharded-lock RAM disk
// backend (backend/mem.go): the same ShardSize/shardRange sharded
// sync.RWMutex design, addressed in sectors instead of bytes and re-targeted
// at cowbackup.Device/NotifyingDevice/IOStatusDevice instead of the
// byte-offset ublk.Backend family.
package mem

import (
	"context"
	"sync"

	"github.com/behrlich/go-cowbackup"
)

// ShardSize is the size of each memory shard (64 KiB), matching the
// teacher's backend/mem.go: with 64 KiB shards a 256 MiB device has 4096
// shards, giving good parallelism for concurrent interception and sweep
// access without a single global lock.
const ShardSize = 64 * 1024

const sectorSize = cowbackup.SectorSize

// Device is a sharded-lock, in-memory block device.
type Device struct {
	data   []byte
	size   int64
	shards []sync.RWMutex

	mu        sync.Mutex
	notifiers []cowbackup.PreWriteFunc
	iostatus  bool
}

// New creates a zero-filled in-memory device of size bytes.
func New(size int64) *Device {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Device{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (d *Device) shardRange(offBytes, lenBytes int64) (start, end int) {
	if lenBytes <= 0 {
		return 0, -1
	}
	start = int(offBytes / ShardSize)
	end = int((offBytes + lenBytes - 1) / ShardSize)
	if end >= len(d.shards) {
		end = len(d.shards) - 1
	}
	return start, end
}

// Length implements cowbackup.Device.
func (d *Device) Length(ctx context.Context) (int64, error) {
	return d.size, nil
}

// ReadAt implements cowbackup.Device.
func (d *Device) ReadAt(ctx context.Context, sector, nSectors int64, buf []byte) error {
	off := sector * sectorSize
	n := nSectors * sectorSize
	if off < 0 || off+n > d.size {
		return cowbackup.NewError("read_at", cowbackup.ErrCodeIOError, "read beyond end of device")
	}

	startShard, endShard := d.shardRange(off, n)
	for i := startShard; i <= endShard; i++ {
		d.shards[i].RLock()
	}
	copy(buf[:n], d.data[off:off+n])
	for i := startShard; i <= endShard; i++ {
		d.shards[i].RUnlock()
	}
	return nil
}

// WriteAt implements cowbackup.Device. It performs the raw mutation only;
// guest-initiated writes must go through GuestWrite so the pre-write
// notifier chain runs first (§4.E).
func (d *Device) WriteAt(ctx context.Context, sector, nSectors int64, buf []byte) error {
	off := sector * sectorSize
	n := nSectors * sectorSize
	if off < 0 || off+n > d.size {
		return cowbackup.NewError("write_at", cowbackup.ErrCodeIOError, "write beyond end of device")
	}

	startShard, endShard := d.shardRange(off, n)
	for i := startShard; i <= endShard; i++ {
		d.shards[i].Lock()
	}
	copy(d.data[off:off+n], buf[:n])
	for i := startShard; i <= endShard; i++ {
		d.shards[i].Unlock()
	}
	return nil
}

// WriteZeroesAt implements cowbackup.Device by zeroing the region in place;
// an in-memory device cannot demonstrate target sparseness the way the
// file-backed device can (see internal/device/file), but it does keep the
// zero-detection contract correct for tests.
func (d *Device) WriteZeroesAt(ctx context.Context, sector, nSectors int64) error {
	off := sector * sectorSize
	n := nSectors * sectorSize
	if off < 0 || off+n > d.size {
		return cowbackup.NewError("write_zeroes_at", cowbackup.ErrCodeIOError, "write beyond end of device")
	}

	startShard, endShard := d.shardRange(off, n)
	for i := startShard; i <= endShard; i++ {
		d.shards[i].Lock()
	}
	clear(d.data[off : off+n])
	for i := startShard; i <= endShard; i++ {
		d.shards[i].Unlock()
	}
	return nil
}

// Close implements cowbackup.Device.
func (d *Device) Close() error {
	d.data = nil
	return nil
}

// RegisterPreWriteNotifier implements cowbackup.NotifyingDevice.
func (d *Device) RegisterPreWriteNotifier(fn cowbackup.PreWriteFunc) func() {
	d.mu.Lock()
	d.notifiers = append(d.notifiers, fn)
	idx := len(d.notifiers) - 1
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.notifiers[idx] = nil
			d.mu.Unlock()
		})
	}
}

// EnableIOStatus implements cowbackup.IOStatusDevice.
func (d *Device) EnableIOStatus() {
	d.mu.Lock()
	d.iostatus = true
	d.mu.Unlock()
}

// DisableIOStatus implements cowbackup.IOStatusDevice.
func (d *Device) DisableIOStatus() {
	d.mu.Lock()
	d.iostatus = false
	d.mu.Unlock()
}

// IOStatusEnabled implements cowbackup.IOStatusDevice.
func (d *Device) IOStatusEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iostatus
}

// GuestWrite simulates a guest-initiated write: it runs the pre-write
// notifier chain in registration order, awaiting each, before the write is
// allowed to mutate storage (§4.E, §9). A non-nil error from any notifier
// aborts the write and is returned to the caller, mirroring how a real
// source device gates writes through its before-write notifier.
func (d *Device) GuestWrite(ctx context.Context, sector, nSectors int64, buf []byte) error {
	d.mu.Lock()
	notifiers := append([]cowbackup.PreWriteFunc(nil), d.notifiers...)
	d.mu.Unlock()

	for _, fn := range notifiers {
		if fn == nil {
			continue
		}
		if err := fn(ctx, sector, nSectors); err != nil {
			return err
		}
	}
	return d.WriteAt(ctx, sector, nSectors, buf)
}

var (
	_ cowbackup.Device          = (*Device)(nil)
	_ cowbackup.NotifyingDevice = (*Device)(nil)
	_ cowbackup.IOStatusDevice  = (*Device)(nil)
)
