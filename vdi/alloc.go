package vdi

import "github.com/pkg/errors"

// allocate implements spec §4.7: the allocator and durable publish
// sequence. It appends one new physical block backing virtual block
// `b`, writes the caller's payload into it at the given sector offset,
// and issues the three writes in the mandated order: data block, then
// block-map sector, then header. Reordering these would let a reader
// observe a block-map entry pointing at an uninitialised physical
// block.
func (img *Image) allocate(b uint32, sectorInBlock uint64, payload []byte) error {
	newIndex := img.header.BlocksAllocated

	block := make([]byte, BlockSize)
	copy(block[sectorInBlock*SectorSize:], payload)

	// (a) Write the assembled block to offset_data + new*block_size.
	physOffset := int64(img.header.OffsetData) + int64(newIndex)*BlockSize
	if err := img.dev.WriteAtOffset(physOffset, block); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}

	// In-memory update happens only after (a) succeeds, so a failed
	// write (a) leaves no reachable state pointing at the
	// uninitialised block.
	img.blockMap.SetEntry(b, newIndex)
	img.header.BlocksAllocated++

	// (b) Write the single block-map sector containing entry b.
	sectorIdx, sectorBytes, err := img.blockMap.SectorContaining(b)
	if err != nil {
		return err
	}
	bmapOffset := int64(img.header.OffsetBlockmap) + int64(sectorIdx)*SectorSize
	if err := img.dev.WriteAtOffset(bmapOffset, sectorBytes); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}

	// (c) Write the header sector, now carrying the incremented
	// blocks_allocated. encodeHeader writes the little-endian form into a
	// fresh buffer, so the in-memory header stays in host form.
	if err := img.dev.WriteAtOffset(0, encodeHeader(img.header)); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}

	return nil
}
