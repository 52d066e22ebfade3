package vdi

// segmentKind distinguishes a hole (unallocated, reads as zero) from a
// mapped segment (backed by a physical block in the data area).
type segmentKind int

const (
	segHole segmentKind = iota
	segMapped
)

// segment is the result of translating a virtual sector range into one
// physical run, per spec §4.4. It always describes a contiguous run
// that does not cross a block boundary.
type segment struct {
	kind   segmentKind
	offset uint64 // physical sector offset; meaningful only for segMapped
	length uint64 // sectors
	block  uint32 // virtual block index this segment belongs to
}

// translate implements spec §4.4: given a starting virtual sector and
// the number of sectors remaining in the request, it returns the next
// contiguous segment (never spanning more than one virtual block).
//
// It is a pure function of (blockmap, header layout, s, n) — no I/O, no
// mutation — so the same logic serves both the synchronous and the
// asynchronous I/O paths.
func translate(bm *BlockMap, offsetDataSectors uint64, s, n uint64) segment {
	blockIndex := s / BlockSectors
	sectorInBlock := s % BlockSectors
	segLen := min(n, BlockSectors-sectorInBlock)

	entry := bm.Entry(uint32(blockIndex))
	if entry == Unallocated {
		return segment{kind: segHole, length: segLen, block: uint32(blockIndex)}
	}
	phys := offsetDataSectors + uint64(entry)*BlockSectors + sectorInBlock
	return segment{kind: segMapped, offset: phys, length: segLen, block: uint32(blockIndex)}
}

// IsAllocated implements spec §4.5: it reports how many consecutive
// sectors starting at `sector` share the allocation status of the
// first, and whether that status is "allocated". The caller re-queries
// for the sector following the returned run, exactly as a translator
// segment does.
func (img *Image) IsAllocated(sector uint64) (allocated bool, length uint64) {
	seg := translate(img.blockMap, img.offsetDataSectors(), sector, img.totalSectors-sector)
	return seg.kind == segMapped, seg.length
}
