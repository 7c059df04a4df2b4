package cowbackup

import "context"

// Device is the block device abstraction the engine consumes (§6). It is
// deliberately narrow: the engine never needs anything beyond addressed I/O
// in sector units, a write-zeroes fast path, and a length query. Concrete
// devices (an in-memory RAM disk, a regular file) live under
// internal/device; the engine only ever talks to this interface, never to
// a specific backend implementation.
type Device interface {
	// Length returns the device's current length in bytes.
	Length(ctx context.Context) (int64, error)

	// ReadAt reads nSectors sectors starting at sector into buf, which must
	// be at least nSectors*SectorSize bytes.
	ReadAt(ctx context.Context, sector, nSectors int64, buf []byte) error

	// WriteAt writes nSectors sectors starting at sector from buf.
	WriteAt(ctx context.Context, sector, nSectors int64, buf []byte) error

	// WriteZeroesAt writes nSectors zero sectors starting at sector,
	// without requiring the caller to materialize a zero-filled buffer; a
	// sparse-capable device may use this to punch a hole instead of
	// allocating storage.
	WriteZeroesAt(ctx context.Context, sector, nSectors int64) error

	// Close releases the device. Called exactly once on the target at job
	// completion (§6 release).
	Close() error
}

// PreWriteFunc is invoked synchronously before a guest write is allowed to
// reach the source device (§4.E). It must return before the write proceeds;
// a non-nil error gates the write (the guest sees an I/O error).
type PreWriteFunc func(ctx context.Context, sector, nSectors int64) error

// NotifyingDevice is a Device that can gate guest writes through a
// pre-write notifier chain. Only the source device needs to implement this;
// the target never has guest-visible writes.
type NotifyingDevice interface {
	Device

	// RegisterPreWriteNotifier adds fn to the notifier chain and returns an
	// unregister function. Per §4.E/§9, observers run in registration
	// order, each awaited before the guest write proceeds.
	RegisterPreWriteNotifier(fn PreWriteFunc) (unregister func())
}

// IOStatusDevice is a Device that can report whether I/O-status tracking is
// enabled on it (§6 iostatus_enable/disable/is_enabled). The engine rejects
// a stop/enospc source policy at start time unless the source implements
// this and reports it enabled (§4.G).
type IOStatusDevice interface {
	Device

	EnableIOStatus()
	DisableIOStatus()
	IOStatusEnabled() bool
}
