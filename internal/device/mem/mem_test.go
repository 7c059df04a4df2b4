package mem

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New(128 * 1024)

	in := bytes.Repeat([]byte{0xAB}, 512)
	require.NoError(t, d.WriteAt(ctx, 4, 1, in))

	out := make([]byte, 512)
	require.NoError(t, d.ReadAt(ctx, 4, 1, out))
	assert.Equal(t, in, out)
}

func TestWriteZeroesAtClearsRegion(t *testing.T) {
	ctx := context.Background()
	d := New(64 * 1024)

	buf := bytes.Repeat([]byte{0xFF}, 1024)
	require.NoError(t, d.WriteAt(ctx, 0, 2, buf))

	require.NoError(t, d.WriteZeroesAt(ctx, 0, 2))

	out := make([]byte, 1024)
	require.NoError(t, d.ReadAt(ctx, 0, 2, out))
	assert.Equal(t, make([]byte, 1024), out)
}

func TestReadWriteBeyondEndFails(t *testing.T) {
	ctx := context.Background()
	d := New(512)
	buf := make([]byte, 512)
	assert.Error(t, d.ReadAt(ctx, 1, 1, buf))
	assert.Error(t, d.WriteAt(ctx, 1, 1, buf))
}

func TestGuestWriteRunsNotifiersInOrder(t *testing.T) {
	ctx := context.Background()
	d := New(64 * 1024)

	var order []string
	unregA := d.RegisterPreWriteNotifier(func(ctx context.Context, sector, n int64) error {
		order = append(order, "a")
		return nil
	})
	defer unregA()
	unregB := d.RegisterPreWriteNotifier(func(ctx context.Context, sector, n int64) error {
		order = append(order, "b")
		return nil
	})
	defer unregB()

	require.NoError(t, d.GuestWrite(ctx, 0, 1, make([]byte, 512)))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGuestWriteAbortsOnNotifierError(t *testing.T) {
	ctx := context.Background()
	d := New(64 * 1024)

	boom := assert.AnError
	unreg := d.RegisterPreWriteNotifier(func(ctx context.Context, sector, n int64) error {
		return boom
	})
	defer unreg()

	original := bytes.Repeat([]byte{0x11}, 512)
	require.NoError(t, d.WriteAt(ctx, 0, 1, original))

	err := d.GuestWrite(ctx, 0, 1, bytes.Repeat([]byte{0x22}, 512))
	assert.ErrorIs(t, err, boom)

	out := make([]byte, 512)
	require.NoError(t, d.ReadAt(ctx, 0, 1, out))
	assert.Equal(t, original, out, "write must not land if a notifier rejects it")
}

func TestUnregisterStopsNotification(t *testing.T) {
	ctx := context.Background()
	d := New(64 * 1024)

	calls := 0
	unreg := d.RegisterPreWriteNotifier(func(ctx context.Context, sector, n int64) error {
		calls++
		return nil
	})
	unreg()

	require.NoError(t, d.GuestWrite(ctx, 0, 1, make([]byte, 512)))
	assert.Equal(t, 0, calls)
}

func TestIOStatusDefaultsDisabled(t *testing.T) {
	d := New(512)
	assert.False(t, d.IOStatusEnabled())
	d.EnableIOStatus()
	assert.True(t, d.IOStatusEnabled())
	d.DisableIOStatus()
	assert.False(t, d.IOStatusEnabled())
}
