package vdi

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// entrySize is the on-disk width of one block-map entry.
const entrySize = 4

// entriesPerSector is the number of block-map entries packed into one
// 512-byte sector (spec §4.7 step 4(b)).
const entriesPerSector = SectorSize / entrySize

// BlockMap is the in-memory block map: an array of blocksInImage
// little-endian u32 entries, kept in on-disk byte order exactly as
// spec §9 prescribes ("the map is intentionally kept in little-endian
// form in memory so that a single write of a block-map sector requires
// no conversion"). All access goes through Entry/SetEntry, which do the
// host conversion at the leaf.
type BlockMap struct {
	raw []byte // len == blocks*entrySize, rounded up to a whole number of sectors
}

// newBlockMap allocates a block map for `blocks` virtual blocks, sized
// to a whole number of sectors and filled with Unallocated entries.
func newBlockMap(blocks uint32) *BlockMap {
	bm := &BlockMap{raw: make([]byte, sectorAlignedBlockmapBytes(blocks))}
	for i := uint32(0); i < blocks; i++ {
		bm.SetEntry(i, Unallocated)
	}
	return bm
}

// blockMapFromBytes wraps a raw byte slice read from disk as a
// BlockMap, without re-allocating.
func blockMapFromBytes(raw []byte) *BlockMap {
	return &BlockMap{raw: raw}
}

// sectorAlignedBlockmapBytes returns blocks*entrySize rounded up to a
// multiple of SectorSize (spec §4.10 step 1).
func sectorAlignedBlockmapBytes(blocks uint32) int {
	n := int(blocks) * entrySize
	return roundUpToSector(n)
}

func roundUpToSector(n int) int {
	if n%SectorSize == 0 {
		return n
	}
	return (n/SectorSize + 1) * SectorSize
}

// Entry returns the physical block index backing virtual block i, or
// Unallocated.
func (bm *BlockMap) Entry(i uint32) uint32 {
	off := int(i) * entrySize
	return binary.LittleEndian.Uint32(bm.raw[off : off+entrySize])
}

// SetEntry sets the physical block index backing virtual block i.
func (bm *BlockMap) SetEntry(i uint32, v uint32) {
	off := int(i) * entrySize
	binary.LittleEndian.PutUint32(bm.raw[off:off+entrySize], v)
}

// Bytes returns the full on-disk representation of the block map,
// already sector-padded.
func (bm *BlockMap) Bytes() []byte {
	return bm.raw
}

// SectorContaining returns the sector index (relative to the start of
// the block map) and the full contents of the sector that holds entry
// `b`'s block-map entry. Spec §4.7 step 4(b): the sector holding one
// entry is written in full from the in-memory block map, so a group of
// entriesPerSector consecutive entries is always rewritten together.
func (bm *BlockMap) SectorContaining(b uint32) (sectorIndex int, sector []byte, err error) {
	group := int(b) / entriesPerSector
	start := group * SectorSize
	end := start + SectorSize
	if end > len(bm.raw) {
		return 0, nil, errors.New("vdi: block map sector out of range")
	}
	return group, bm.raw[start:end], nil
}
