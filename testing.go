package cowbackup

import (
	"context"
	"sync"
)

// MockDevice is a fault-injectable in-memory Device for the error-action
// and cancellation tests in §8, grounded on ublk-mem's testing.go
// MockBackend: same call-count tracking and byte-slice storage, extended
// with scripted failures (the first N calls at a specific sector, or every
// call there; failures are never triggered by call count alone) so
// scenarios like §8.4 ("read error on cluster 5, ignore, second attempt
// succeeds") and §8.5 ("target ENOSPC, report") don't need a real device.
type MockDevice struct {
	mu   sync.Mutex
	data []byte
	size int64

	notifiers []PreWriteFunc
	iostatus  bool

	readCalls  int
	writeCalls int
	zeroCalls  int

	// FailReadAtSector, if non-nil, causes ReadAt to fail once per matching
	// call while FailReadCount > 0 (decremented on each triggered failure);
	// FailReadCount < 0 means fail forever.
	FailReadAtSector *int64
	FailReadCount    int
	FailReadErr      error

	FailWriteAtSector *int64
	FailWriteCount    int
	FailWriteErr      error

	FailLength    bool
	FailLengthErr error
}

// NewMockDevice creates a mock device of the given size, zero-filled.
func NewMockDevice(size int64) *MockDevice {
	return &MockDevice{data: make([]byte, size), size: size}
}

// Length implements Device.
func (m *MockDevice) Length(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLength {
		if m.FailLengthErr != nil {
			return 0, m.FailLengthErr
		}
		return 0, NewError("length", ErrCodeLengthFailed, "mock length failure")
	}
	return m.size, nil
}

// ReadAt implements Device.
func (m *MockDevice) ReadAt(ctx context.Context, sector, nSectors int64, buf []byte) error {
	m.mu.Lock()
	m.readCalls++
	if m.shouldFailRead(sector) {
		m.mu.Unlock()
		if m.FailReadErr != nil {
			return m.FailReadErr
		}
		return NewError("read_at", ErrCodeReadFailed, "mock read failure")
	}
	off := sector * SectorSize
	n := nSectors * SectorSize
	copy(buf[:n], m.data[off:off+n])
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) shouldFailRead(sector int64) bool {
	if m.FailReadAtSector == nil || *m.FailReadAtSector != sector {
		return false
	}
	if m.FailReadCount < 0 {
		return true
	}
	if m.FailReadCount > 0 {
		m.FailReadCount--
		return true
	}
	return false
}

// WriteAt implements Device.
func (m *MockDevice) WriteAt(ctx context.Context, sector, nSectors int64, buf []byte) error {
	m.mu.Lock()
	m.writeCalls++
	if m.shouldFailWrite(sector) {
		m.mu.Unlock()
		if m.FailWriteErr != nil {
			return m.FailWriteErr
		}
		return NewError("write_at", ErrCodeWriteFailed, "mock write failure")
	}
	off := sector * SectorSize
	n := nSectors * SectorSize
	copy(m.data[off:off+n], buf[:n])
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) shouldFailWrite(sector int64) bool {
	if m.FailWriteAtSector == nil || *m.FailWriteAtSector != sector {
		return false
	}
	if m.FailWriteCount < 0 {
		return true
	}
	if m.FailWriteCount > 0 {
		m.FailWriteCount--
		return true
	}
	return false
}

// WriteZeroesAt implements Device.
func (m *MockDevice) WriteZeroesAt(ctx context.Context, sector, nSectors int64) error {
	m.mu.Lock()
	m.zeroCalls++
	if m.shouldFailWrite(sector) {
		m.mu.Unlock()
		if m.FailWriteErr != nil {
			return m.FailWriteErr
		}
		return NewError("write_zeroes_at", ErrCodeWriteFailed, "mock write-zeroes failure")
	}
	off := sector * SectorSize
	n := nSectors * SectorSize
	clear(m.data[off : off+n])
	m.mu.Unlock()
	return nil
}

// Close implements Device.
func (m *MockDevice) Close() error {
	return nil
}

// RegisterPreWriteNotifier implements NotifyingDevice.
func (m *MockDevice) RegisterPreWriteNotifier(fn PreWriteFunc) func() {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, fn)
	idx := len(m.notifiers) - 1
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.notifiers[idx] = nil
		m.mu.Unlock()
	}
}

// EnableIOStatus implements IOStatusDevice.
func (m *MockDevice) EnableIOStatus() {
	m.mu.Lock()
	m.iostatus = true
	m.mu.Unlock()
}

// DisableIOStatus implements IOStatusDevice.
func (m *MockDevice) DisableIOStatus() {
	m.mu.Lock()
	m.iostatus = false
	m.mu.Unlock()
}

// IOStatusEnabled implements IOStatusDevice.
func (m *MockDevice) IOStatusEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iostatus
}

// GuestWrite simulates a guest write, running the pre-write notifier chain
// before mutating storage directly (bypassing WriteAt's fault injection,
// since a guest write is never itself the target write under test).
func (m *MockDevice) GuestWrite(ctx context.Context, sector, nSectors int64, buf []byte) error {
	m.mu.Lock()
	notifiers := append([]PreWriteFunc(nil), m.notifiers...)
	m.mu.Unlock()

	for _, fn := range notifiers {
		if fn == nil {
			continue
		}
		if err := fn(ctx, sector, nSectors); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	off := sector * SectorSize
	n := nSectors * SectorSize
	copy(m.data[off:off+n], buf[:n])
	return nil
}

// SetBytes overwrites the mock device's storage directly, useful for
// seeding a known non-zero pattern before starting a job.
func (m *MockDevice) SetBytes(offset int64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[offset:offset+int64(len(data))], data)
}

// Bytes returns a copy of the device's current contents, for assertions.
func (m *MockDevice) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// CallCounts returns read/write/zero-write call counts, for assertions.
func (m *MockDevice) CallCounts() (reads, writes, zeroes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls, m.writeCalls, m.zeroCalls
}

var (
	_ Device          = (*MockDevice)(nil)
	_ NotifyingDevice = (*MockDevice)(nil)
	_ IOStatusDevice  = (*MockDevice)(nil)
)
