package vdi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempImagePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "disk.vdi")
}

// S1
func TestCreateLaysOutExpectedFile(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 2 * 1024 * 1024}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, headerStructSize+SectorSize, info.Size())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	h, err := decodeHeader(raw[:headerStructSize])
	require.NoError(t, err)
	require.Equal(t, uint32(Signature), h.Signature)
	require.Equal(t, uint32(FormatVersion), h.Version)
	require.EqualValues(t, 2, h.BlocksInImage)
	require.Zero(t, h.BlocksAllocated)

	bmap := raw[headerStructSize : headerStructSize+SectorSize]
	require.EqualValues(t, Unallocated, leUint32(bmap[0:4]))
	require.EqualValues(t, Unallocated, leUint32(bmap[4:8]))
	for _, b := range bmap[8:] {
		require.Zero(t, b)
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// P1, P2
func TestOpenFreshImageReadsAllZero(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 4 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	require.EqualValues(t, 4*BlockSize/SectorSize, img.TotalSectors())

	buf := make([]byte, BlockSectors*SectorSize)
	require.NoError(t, img.ReadAt(0, buf, BlockSectors))
	for _, b := range buf {
		require.Zero(t, b)
	}
}

// S2, S3: two writes into two different virtual blocks.
func TestWriteAllocatesAndPersists(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 2 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	payloadA := make([]byte, SectorSize)
	for i := range payloadA {
		payloadA[i] = 0xAA
	}
	require.NoError(t, img.WriteAt(0, payloadA, 1))
	require.EqualValues(t, 1, img.BlocksAllocated())
	require.EqualValues(t, 0, img.blockMap.Entry(0))
	require.EqualValues(t, Unallocated, img.blockMap.Entry(1))

	payloadB := make([]byte, SectorSize)
	for i := range payloadB {
		payloadB[i] = 0x55
	}
	require.NoError(t, img.WriteAt(BlockSectors, payloadB, 1))
	require.EqualValues(t, 2, img.BlocksAllocated())
	require.EqualValues(t, 1, img.blockMap.Entry(1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, headerStructSize+SectorSize+2*BlockSize, info.Size())
}

// S4: close and reopen, verify written and zero regions.
func TestReopenPreservesWrittenData(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 2 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)

	payloadA := bytesOf(0xAA, SectorSize)
	payloadB := bytesOf(0x55, SectorSize)
	require.NoError(t, img.WriteAt(0, payloadA, 1))
	require.NoError(t, img.WriteAt(BlockSectors, payloadB, 1))
	require.NoError(t, img.Close())

	img2, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img2.Close()

	out := make([]byte, SectorSize)
	require.NoError(t, img2.ReadAt(0, out, 1))
	require.Equal(t, payloadA, out)

	require.NoError(t, img2.ReadAt(BlockSectors, out, 1))
	require.Equal(t, payloadB, out)

	// Sector 2 is still inside virtual block 0 but was never written:
	// it reads as zero even though block 0 is allocated.
	require.NoError(t, img2.ReadAt(2, out, 1))
	for _, b := range out {
		require.Zero(t, b)
	}
}

// P3, P7: write then read back is identity; rewriting the same block
// does not allocate a second time.
func TestWriteReadIdentityAndSingleAllocation(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	payload := bytesOf(0x42, SectorSize)
	require.NoError(t, img.WriteAt(0, payload, 1))
	require.EqualValues(t, 1, img.BlocksAllocated())

	payload2 := bytesOf(0x43, SectorSize)
	require.NoError(t, img.WriteAt(1, payload2, 1))
	require.EqualValues(t, 1, img.BlocksAllocated(), "second write to the same block must not allocate again")

	out := make([]byte, SectorSize)
	require.NoError(t, img.ReadAt(0, out, 1))
	require.Equal(t, payload, out)
	require.NoError(t, img.ReadAt(1, out, 1))
	require.Equal(t, payload2, out)
}

// B1: reading past the end of the disk returns a short result, not an
// error, and never extends the image.
func TestReadPastEndIsShortNotError(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	buf := make([]byte, 4*SectorSize)
	total := img.TotalSectors()
	require.NoError(t, img.ReadAt(total-1, buf, 4))
}

// B2: a write crossing a block boundary allocates two consecutive
// physical blocks.
func TestWriteAcrossBlockBoundaryAllocatesTwoConsecutive(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 2 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	buf := bytesOf(0x7A, 2*SectorSize)
	require.NoError(t, img.WriteAt(BlockSectors-1, buf, 2))

	require.EqualValues(t, 2, img.BlocksAllocated())
	require.EqualValues(t, 0, img.blockMap.Entry(0))
	require.EqualValues(t, 1, img.blockMap.Entry(1))
}

// B3, B4
func TestOpenRejectsBadVersionAndSize(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: BlockSize}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	h, err := decodeHeader(raw[:headerStructSize])
	require.NoError(t, err)

	h.Version = 0x00020000
	require.NoError(t, os.WriteFile(path, append(encodeHeader(h), raw[headerStructSize:]...), 0o644))
	_, err = Open(path, os.O_RDWR)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	h.Version = FormatVersion
	h.DiskSize = h.DiskSize + 1
	require.NoError(t, os.WriteFile(path, append(encodeHeader(h), raw[headerStructSize:]...), 0o644))
	_, err = Open(path, os.O_RDWR)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

// S5: a corrupted block-map entry produces two check violations.
func TestCheckDetectsOverRangeAndMismatch(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 2 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)

	require.NoError(t, img.WriteAt(0, bytesOf(1, SectorSize), 1))
	require.NoError(t, img.WriteAt(BlockSectors, bytesOf(2, SectorSize), 1))

	img.blockMap.SetEntry(1, 0x10)
	result := img.Check()
	require.Equal(t, 2, result.Errors)
	require.Equal(t, 1, result.OverRangeEntries)
	require.True(t, result.AllocatedCountMismatch)

	require.NoError(t, img.Close())
}

// P6: check returns 0 on an image produced only through create+write.
func TestCheckCleanOnNormalUse(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 4 * BlockSize}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	require.NoError(t, img.WriteAt(0, bytesOf(1, SectorSize), 1))
	require.NoError(t, img.WriteAt(BlockSectors, bytesOf(2, SectorSize), 1))

	require.Zero(t, img.Check().Errors)
}

func TestStaticImagePreallocatesIdentityMap(t *testing.T) {
	path := tempImagePath(t)
	require.NoError(t, Create(path, CreateOptions{Size: 3 * BlockSize, Static: true}))

	img, err := Open(path, os.O_RDWR)
	require.NoError(t, err)
	defer img.Close()

	require.EqualValues(t, 3, img.BlocksAllocated())
	for i := uint32(0); i < 3; i++ {
		require.Equal(t, i, img.blockMap.Entry(i))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Size(), int64(headerStructSize+SectorSize+3*BlockSize))
}

func bytesOf(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
