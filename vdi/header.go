// Package vdi implements a block driver for the VirtualBox Virtual Disk
// Image (VDI) format: a sparse, sector-addressable virtual disk backed by
// a host file, with blocks allocated on first write through an
// indirection table (the block map).
//
// The package is laid out the way sswastik02-go-qcow2lib structures its
// qcow2 driver: a header/state model, a pure translator from virtual
// address to physical segment, a synchronous I/O path built on top of
// the translator, an allocator that publishes new blocks durably, an
// async state machine driving the same logic through completions, and a
// lifecycle (create/open/close/flush/check) that ties it together.
package vdi

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// SectorSize is the fixed addressing unit of both the virtual disk
	// and the backing file.
	SectorSize = 512

	// BlockSize is the fixed allocation unit. The spec supports no
	// other block size.
	BlockSize = 1 << 20 // 1 MiB

	// BlockSectors is the number of sectors in one block.
	BlockSectors = BlockSize / SectorSize // 2048

	// Unallocated is the block-map sentinel meaning "no backing data".
	Unallocated = 0xFFFFFFFF

	// Signature identifies a VDI image; see header.Signature.
	Signature = 0xBEDA107F

	// FormatVersion is the only header version this driver accepts
	// (v1.1, encoded as the packed value 0x00010001).
	FormatVersion = 0x00010001

	// DeclaredHeaderSize is the header_size field value written by
	// Create. It is declarative only; the driver never reads beyond
	// the fixed 512-byte header it knows how to parse.
	DeclaredHeaderSize = 0x180

	// headerStructSize is the exact on-disk size of Header, and
	// therefore of the header sector.
	headerStructSize = SectorSize

	textTag = "<<< QEMU VM Virtual Disk Image >>>\n"
)

// ImageType selects a dynamic (sparse) or static (pre-allocated) image.
type ImageType uint32

const (
	// ImageDynamic images allocate blocks lazily on first write.
	ImageDynamic ImageType = 1
	// ImageStatic images have every block pre-allocated at create time.
	ImageStatic ImageType = 2
)

// Header is the in-memory, host-form representation of the fixed
// 512-byte VDI header described in spec §3. Every multi-byte field is
// little-endian on disk; encode/decode apply the conversion at the
// read/write boundary so the rest of the driver only ever sees host
// form (spec §4.1).
type Header struct {
	Text            [64]byte
	Signature       uint32
	Version         uint32
	HeaderSize      uint32
	ImageType       ImageType
	ImageFlags      uint32
	Description     [256]byte
	OffsetBlockmap  uint32
	OffsetData      uint32
	Cylinders       uint32
	Heads           uint32
	Sectors         uint32
	SectorSizeField uint32
	Unused1         uint32
	DiskSize        uint64
	BlockSizeField  uint32
	BlockExtra      uint32
	BlocksInImage   uint32
	BlocksAllocated uint32
	UUIDImage       [16]byte
	UUIDLastSnap    [16]byte
	UUIDLink        [16]byte
	UUIDParent      [16]byte
	Unused2         [7]uint64
}

// encodeHeader serialises h to its on-disk little-endian form. This is
// the "toLE" half of the §4.1 codec.
func encodeHeader(h *Header) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(headerStructSize)
	// binary.Write walks the struct fields in order, encoding every
	// integer field little-endian and passing byte-array fields
	// through untouched, which is exactly the codec's contract.
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		// Only possible if a field type isn't binary.Write-able; all
		// Header fields are fixed-size, so this never happens.
		panic(errors.Wrap(err, "vdi: encode header"))
	}
	return buf.Bytes()
}

// decodeHeader is the "fromLE" half of the §4.1 codec: it parses a
// 512-byte on-disk sector into host form.
func decodeHeader(sector []byte) (*Header, error) {
	if len(sector) < headerStructSize {
		return nil, errors.New("vdi: short header sector")
	}
	h := &Header{}
	if err := binary.Read(bytes.NewReader(sector[:headerStructSize]), binary.LittleEndian, h); err != nil {
		return nil, errors.Wrap(err, "vdi: decode header")
	}
	return h, nil
}

// probeSignature reports whether buf (the first bytes of a candidate
// file) carries the VDI signature at its fixed offset, implementing
// spec §4.2. It performs no validation beyond the signature and has no
// side effects.
func probeSignature(buf []byte) bool {
	const sigOffset = 64 // len(Header.Text)
	if len(buf) < sigOffset+4 {
		return false
	}
	return binary.LittleEndian.Uint32(buf[sigOffset:sigOffset+4]) == Signature
}

// newHeader builds a zero-initialised header with the fixed fields
// Create is required to set, per spec §4.10 step 2.
func newHeader(imageType ImageType, blocks uint32, diskSize uint64, offsetBlockmap, offsetData uint32) *Header {
	h := &Header{
		Signature:       Signature,
		Version:         FormatVersion,
		HeaderSize:      DeclaredHeaderSize,
		ImageType:       imageType,
		OffsetBlockmap:  offsetBlockmap,
		OffsetData:      offsetData,
		SectorSizeField: SectorSize,
		DiskSize:        diskSize,
		BlockSizeField:  BlockSize,
		BlocksInImage:   blocks,
		BlocksAllocated: 0,
	}
	copy(h.Text[:], textTag)
	return h
}
