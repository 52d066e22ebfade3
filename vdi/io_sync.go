package vdi

import "github.com/pkg/errors"

// ReadAt implements spec §4.6: the synchronous read path. It walks
// translator segments starting at virtual sector `sector`, zero-filling
// holes and delegating mapped segments to the child device, until
// either the request is satisfied or the virtual disk ends. A short
// read caused by reaching the end of the disk is not an error (spec
// "B1"); buf must be exactly nSectors*SectorSize bytes.
func (img *Image) ReadAt(sector uint64, buf []byte, nSectors uint64) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	want := nSectors * SectorSize
	if uint64(len(buf)) < want {
		return errors.New("vdi: short buffer")
	}

	remaining := nSectors
	if sector+remaining > img.totalSectors {
		if sector >= img.totalSectors {
			remaining = 0
		} else {
			remaining = img.totalSectors - sector
		}
	}

	cursor := sector
	pos := uint64(0)
	for remaining > 0 {
		seg := translate(img.blockMap, img.offsetDataSectors(), cursor, remaining)
		dst := buf[pos*SectorSize : (pos+seg.length)*SectorSize]

		switch seg.kind {
		case segHole:
			for i := range dst {
				dst[i] = 0
			}
		case segMapped:
			if err := img.dev.ReadAt(int64(seg.offset), dst, int(seg.length)); err != nil {
				return errors.Wrap(ErrIO, err.Error())
			}
		}

		cursor += seg.length
		pos += seg.length
		remaining -= seg.length
	}

	// Sectors of buf beyond the virtual end are left untouched. The
	// count actually filled is not returned; a caller derives it from
	// TotalSectors and the sector it asked for.
	return nil
}

// WriteAt implements spec §4.8: the synchronous write path. For each
// translator segment, a mapped segment is written in place; a hole
// triggers the allocator and publish sequence (§4.7), which always
// satisfies the whole segment in one step since a newly allocated block
// is large enough to hold it.
func (img *Image) WriteAt(sector uint64, buf []byte, nSectors uint64) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	want := nSectors * SectorSize
	if uint64(len(buf)) < want {
		return errors.New("vdi: short buffer")
	}

	remaining := nSectors
	cursor := sector
	pos := uint64(0)
	for remaining > 0 {
		seg := translate(img.blockMap, img.offsetDataSectors(), cursor, remaining)
		src := buf[pos*SectorSize : (pos+seg.length)*SectorSize]

		switch seg.kind {
		case segMapped:
			if err := img.dev.WriteAt(int64(seg.offset), src, int(seg.length)); err != nil {
				return errors.Wrap(ErrIO, err.Error())
			}
		case segHole:
			sectorInBlock := cursor % BlockSectors
			if err := img.allocate(seg.block, sectorInBlock, src); err != nil {
				return err
			}
		}

		cursor += seg.length
		pos += seg.length
		remaining -= seg.length
	}

	return nil
}
