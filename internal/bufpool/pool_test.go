package bufpool

import "testing"

func TestGetReturnsFullSizeBuffer(t *testing.T) {
	p := New()
	buf := p.Get()
	if len(buf) != bufSize {
		t.Fatalf("Get() len = %d, want %d", len(buf), bufSize)
	}
	p.Put(buf)
}

func TestPutIgnoresWrongCapacity(t *testing.T) {
	p := New()
	odd := make([]byte, 100)
	p.Put(odd) // must not panic

	buf := p.Get()
	if len(buf) != bufSize {
		t.Fatalf("Get() len = %d, want %d", len(buf), bufSize)
	}
}

func TestBuffersAreReusable(t *testing.T) {
	p := New()
	buf := p.Get()
	buf[0] = 0xAB
	p.Put(buf)

	// Not guaranteed to be the same backing array (sync.Pool may GC it),
	// but Get must never panic and must always return a correctly sized
	// buffer regardless of reuse.
	buf2 := p.Get()
	if len(buf2) != bufSize {
		t.Fatalf("Get() after Put len = %d, want %d", len(buf2), bufSize)
	}
}
