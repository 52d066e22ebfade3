package vdi

import (
	"github.com/pkg/errors"

	"github.com/flsl0/govdi/internal/blockdev"
)

// phase is the state tag carried by an in-flight AsyncRequest, per spec
// §4.9. It names what the *next* write-completion dispatch should do,
// not what already happened — the value set just before a write is
// submitted is the value the matching completion callback will see.
type phase int

const (
	// phaseNormal: between segments. A write completion seen in this
	// phase is an ordinary in-place write; a read completion in this
	// phase (read requests never leave Normal) just advances the
	// cursor.
	phaseNormal phase = iota
	// phaseMustWriteBlockmap: the data block (write a) has just been
	// written; next action is to write the block-map sector.
	phaseMustWriteBlockmap
	// phaseMustWriteHeader: the block-map sector (write b) has just
	// been written; next action is to write the header.
	phaseMustWriteHeader
	// phaseHeaderWritten: all three publish-sequence writes have
	// completed; the handler frees the staging buffer and resets to
	// Normal before advancing the cursor.
	phaseHeaderWritten
)

// AsyncRequest is the per-request control block for the asynchronous
// I/O path (spec §4.9). It carries the virtual cursor, the length of
// the segment currently in flight, a staging buffer used only while
// allocating, the block index being allocated, and the phase tag
// driving the write-completion dispatch.
type AsyncRequest struct {
	img *Image

	sector    uint64
	remaining uint64
	curSegLen uint64

	buf      []byte
	ioOffset uint64

	write bool

	staging  []byte
	allocBlock uint32
	newIndex   uint32

	phase phase
	cb    func(error)
}

// ReadAtAsync implements the read half of spec §4.9: it returns
// immediately and drives completions through img's Dispatcher. cb is
// invoked exactly once, after the last segment completes or on the
// first error.
func (img *Image) ReadAtAsync(sector uint64, buf []byte, nSectors uint64, cb func(error)) *AsyncRequest {
	img.mu.Lock()
	remaining := nSectors
	if sector+remaining > img.totalSectors {
		if sector >= img.totalSectors {
			remaining = 0
		} else {
			remaining = img.totalSectors - sector
		}
	}
	img.mu.Unlock()

	req := &AsyncRequest{img: img, sector: sector, remaining: remaining, buf: buf, cb: cb}
	if remaining == 0 {
		img.disp.Post(func() { cb(nil) })
		return req
	}
	req.submitReadSegment()
	return req
}

// WriteAtAsync implements the write half of spec §4.9.
func (img *Image) WriteAtAsync(sector uint64, buf []byte, nSectors uint64, cb func(error)) *AsyncRequest {
	req := &AsyncRequest{img: img, sector: sector, remaining: nSectors, buf: buf, write: true, cb: cb}
	if nSectors == 0 {
		img.disp.Post(func() { cb(nil) })
		return req
	}
	req.submitWriteSegment()
	return req
}

// Cancel is a no-op: any in-flight child I/O still completes naturally
// and the outer callback still fires. Spec §9 preserves this behaviour
// from the driver it is grounded on.
func (req *AsyncRequest) Cancel() {}

func (req *AsyncRequest) submitReadSegment() {
	img := req.img
	img.mu.Lock()
	seg := translate(img.blockMap, img.offsetDataSectors(), req.sector, req.remaining)
	img.mu.Unlock()
	req.curSegLen = seg.length

	dst := req.buf[req.ioOffset : req.ioOffset+seg.length*SectorSize]

	switch seg.kind {
	case segMapped:
		iov := blockdev.NewIOVector(dst)
		img.dev.ReadVAsync(int64(seg.offset), iov, int(seg.length), req.onReadComplete)
	case segHole:
		for i := range dst {
			dst[i] = 0
		}
		// Trampoline: re-enter through the dispatcher rather than
		// completing inline, so every completion — zero-fill included
		// — is delivered asynchronously.
		img.disp.Post(func() { req.onReadComplete(nil) })
	}
}

func (req *AsyncRequest) onReadComplete(err error) {
	if err != nil {
		req.cb(errors.Wrap(ErrIO, err.Error()))
		return
	}
	req.sector += req.curSegLen
	req.ioOffset += req.curSegLen * SectorSize
	req.remaining -= req.curSegLen

	if req.remaining == 0 {
		req.cb(nil)
		return
	}
	req.submitReadSegment()
}

func (req *AsyncRequest) submitWriteSegment() {
	img := req.img
	img.mu.Lock()
	seg := translate(img.blockMap, img.offsetDataSectors(), req.sector, req.remaining)
	img.mu.Unlock()
	req.curSegLen = seg.length

	switch seg.kind {
	case segMapped:
		src := req.buf[req.ioOffset : req.ioOffset+seg.length*SectorSize]
		iov := blockdev.NewIOVector(src)
		img.dev.WriteVAsync(int64(seg.offset), iov, int(seg.length), req.onWriteComplete)

	case segHole:
		sectorInBlock := req.sector % BlockSectors
		payload := req.buf[req.ioOffset : req.ioOffset+seg.length*SectorSize]

		img.mu.Lock()
		req.staging = make([]byte, BlockSize)
		copy(req.staging[sectorInBlock*SectorSize:], payload)
		req.allocBlock = seg.block
		req.newIndex = img.header.BlocksAllocated
		// Reserve the index in memory now, so a second request that
		// allocates before this one completes takes the next slot. The
		// on-disk count only changes with write (c).
		img.header.BlocksAllocated++
		physOffset := int64(img.header.OffsetData) + int64(req.newIndex)*BlockSize
		img.mu.Unlock()

		req.phase = phaseMustWriteBlockmap
		iov := blockdev.NewIOVector(req.staging)
		img.dev.WriteVAsync(physOffset/SectorSize, iov, BlockSectors, req.onWriteComplete)
	}
}

func (req *AsyncRequest) onWriteComplete(err error) {
	img := req.img
	if err != nil {
		req.cb(errors.Wrap(ErrIO, err.Error()))
		return
	}

	switch req.phase {
	case phaseNormal:
		req.advanceAfterSegment()

	case phaseMustWriteBlockmap:
		// Write (a) has just landed: publish the block-map entry in
		// memory, then issue write (b). The in-memory blocks_allocated
		// was already incremented when the index was reserved; the
		// on-disk header carries it only once write (c) lands.
		img.mu.Lock()
		img.blockMap.SetEntry(req.allocBlock, req.newIndex)
		sectorIdx, sectorBytes, err := img.blockMap.SectorContaining(req.allocBlock)
		img.mu.Unlock()
		if err != nil {
			req.cb(err)
			return
		}

		req.phase = phaseMustWriteHeader
		bmapOffset := int64(img.header.OffsetBlockmap) + int64(sectorIdx)*SectorSize
		iov := blockdev.NewIOVector(sectorBytes)
		img.dev.WriteVAsync(bmapOffset/SectorSize, iov, 1, req.onWriteComplete)

	case phaseMustWriteHeader:
		// Write (b) has just landed: encode the header to its
		// on-disk form and issue write (c). The in-memory header
		// itself never leaves host form — only the scratch buffer
		// passed to the device is little-endian.
		img.mu.Lock()
		headerBytes := encodeHeader(img.header)
		img.mu.Unlock()

		req.phase = phaseHeaderWritten
		iov := blockdev.NewIOVector(headerBytes)
		img.dev.WriteVAsync(0, iov, 1, req.onWriteComplete)

	case phaseHeaderWritten:
		// Write (c) has just landed: the publish sequence is
		// complete. Free the staging buffer and resume at Normal.
		req.staging = nil
		req.phase = phaseNormal
		req.advanceAfterSegment()
	}
}

func (req *AsyncRequest) advanceAfterSegment() {
	req.sector += req.curSegLen
	req.ioOffset += req.curSegLen * SectorSize
	req.remaining -= req.curSegLen

	if req.remaining == 0 {
		req.cb(nil)
		return
	}
	req.submitWriteSegment()
}
