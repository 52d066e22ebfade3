package vdi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := newHeader(ImageDynamic, 4, 4*BlockSize, headerStructSize, headerStructSize+SectorSize)
	h.BlocksAllocated = 2

	encoded := encodeHeader(h)
	require.Len(t, encoded, headerStructSize)

	decoded, err := decodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	// R1: cpu_to_le(le_to_cpu(h)) == h byte-identically.
	require.Equal(t, encoded, encodeHeader(decoded))
}

func TestProbeSignature(t *testing.T) {
	h := newHeader(ImageDynamic, 1, BlockSize, headerStructSize, headerStructSize+SectorSize)
	encoded := encodeHeader(h)

	require.Equal(t, 100, Probe(encoded))
	require.Equal(t, 0, Probe(make([]byte, 128)))
	require.Equal(t, 0, Probe([]byte("not a vdi file at all")))
}
