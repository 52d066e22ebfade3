package vdi

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func openAsyncTestImage(t *testing.T, size int64) *Image {
	t.Helper()
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: size}))
	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

// Async-equivalent of S6: two back-to-back writev requests into
// different virtual blocks, each completing only after the dispatcher
// runs.
func TestWriteAtAsyncPublishesBothBlocks(t *testing.T) {
	img := openAsyncTestImage(t, 2*BlockSize)

	var doneA, doneB bool
	payloadA := bytesOf(0xAA, SectorSize)
	payloadB := bytesOf(0x55, SectorSize)

	img.WriteAtAsync(0, payloadA, 1, func(err error) {
		require.NoError(t, err)
		doneA = true
	})
	img.WriteAtAsync(BlockSectors, payloadB, 1, func(err error) {
		require.NoError(t, err)
		doneB = true
	})

	require.False(t, doneA)
	require.False(t, doneB)

	img.disp.Run()

	require.True(t, doneA)
	require.True(t, doneB)
	require.EqualValues(t, 2, img.BlocksAllocated())

	out := make([]byte, SectorSize)
	require.NoError(t, img.ReadAt(0, out, 1))
	require.Equal(t, payloadA, out)
	require.NoError(t, img.ReadAt(BlockSectors, out, 1))
	require.Equal(t, payloadB, out)
}

func TestReadAtAsyncZeroFillsHoleViaTrampoline(t *testing.T) {
	img := openAsyncTestImage(t, BlockSize)

	buf := bytesOf(0xFF, SectorSize)
	var done bool
	img.ReadAtAsync(0, buf, 1, func(err error) {
		require.NoError(t, err)
		done = true
	})
	require.False(t, done, "read completion must be deferred, not inline")
	img.disp.Run()
	require.True(t, done)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestWriteAtAsyncThenReadAtAsyncRoundTrip(t *testing.T) {
	img := openAsyncTestImage(t, BlockSize)

	payload := bytesOf(0x99, SectorSize)
	img.WriteAtAsync(10, payload, 1, func(err error) { require.NoError(t, err) })
	img.disp.Run()

	out := make([]byte, SectorSize)
	var done bool
	img.ReadAtAsync(10, out, 1, func(err error) {
		require.NoError(t, err)
		done = true
	})
	img.disp.Run()
	require.True(t, done)
	require.Equal(t, payload, out)
}

func TestAsyncCancelIsNoOpCompletionStillFires(t *testing.T) {
	img := openAsyncTestImage(t, BlockSize)

	var fired bool
	req := img.WriteAtAsync(0, bytesOf(1, SectorSize), 1, func(err error) {
		require.NoError(t, err)
		fired = true
	})
	req.Cancel()
	img.disp.Run()
	require.True(t, fired, "cancellation must not suppress the completion")
}
