package blockdev

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// readFull wraps os.File.ReadAt, tolerating the io.EOF that ReadAt may
// legitimately return when the read lands exactly on end-of-file.
func readFull(f *os.File, buf []byte, offset int64) error {
	n, err := f.ReadAt(buf, offset)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return err
}

// SectorSize is the fixed addressing unit for every Device operation.
// The vdi driver never uses any other sector size (spec §1 non-goals).
const SectorSize = 512

// Device is the child block device the vdi driver is layered on top of:
// a plain file addressed in fixed-size sectors, with both a blocking
// path (Read/Write/Flush/Close) and a callback-completed path
// (ReadVAsync/WriteVAsync) posted through a shared Dispatcher. This
// stands in for the generic "child block device" the spec names as an
// external collaborator (§6).
type Device struct {
	file *os.File
	disp *Dispatcher
}

// Open opens path with the given os.O* flags and returns a Device
// sharing disp for completion delivery.
func Open(path string, flags int, disp *Dispatcher) (*Device, error) {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "blockdev: open")
	}
	return &Device{file: f, disp: disp}, nil
}

// Size returns the current length of the backing file in bytes.
func (d *Device) Size() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "blockdev: stat")
	}
	return info.Size(), nil
}

// ReadAt reads nSectors sectors starting at sector sec into buf, which
// must be exactly nSectors*SectorSize bytes.
func (d *Device) ReadAt(sec int64, buf []byte, nSectors int) error {
	want := nSectors * SectorSize
	if len(buf) < want {
		return errors.New("blockdev: short buffer")
	}
	err := readFull(d.file, buf[:want], sec*SectorSize)
	if err != nil {
		return errors.Wrap(err, "blockdev: read")
	}
	return nil
}

// WriteAt writes nSectors sectors starting at sector sec from buf.
func (d *Device) WriteAt(sec int64, buf []byte, nSectors int) error {
	want := nSectors * SectorSize
	if len(buf) < want {
		return errors.New("blockdev: short buffer")
	}
	_, err := d.file.WriteAt(buf[:want], sec*SectorSize)
	if err != nil {
		return errors.Wrap(err, "blockdev: write")
	}
	return nil
}

// Flush syncs the backing file to stable storage.
func (d *Device) Flush() error {
	return errors.Wrap(d.file.Sync(), "blockdev: flush")
}

// Close closes the backing file. The in-memory state the vdi driver
// keeps on top of a Device (header, block map) is the caller's to
// discard; Close only tears down the file handle.
func (d *Device) Close() error {
	return errors.Wrap(d.file.Close(), "blockdev: close")
}

// ReadVAsync issues a vectored read of nSectors sectors starting at sec
// and invokes cb on the Dispatcher once it completes. It never calls cb
// inline with submission — completion is always posted.
func (d *Device) ReadVAsync(sec int64, iov *IOVector, nSectors int, cb CompletionFunc) *Request {
	req := &Request{}
	buf := make([]byte, nSectors*SectorSize)
	err := readFull(d.file, buf, sec*SectorSize)
	if err != nil {
		d.disp.Post(func() { cb(errors.Wrap(err, "blockdev: readv")) })
		return req
	}
	iov.CopyFrom(buf)
	d.disp.Post(func() { cb(nil) })
	return req
}

// WriteVAsync issues a vectored write of nSectors sectors starting at
// sec and invokes cb on the Dispatcher once it completes.
func (d *Device) WriteVAsync(sec int64, iov *IOVector, nSectors int, cb CompletionFunc) *Request {
	req := &Request{}
	buf := iov.Bytes()
	want := nSectors * SectorSize
	if len(buf) < want {
		d.disp.Post(func() { cb(errors.New("blockdev: short iovec")) })
		return req
	}
	_, err := d.file.WriteAt(buf[:want], sec*SectorSize)
	d.disp.Post(func() { cb(errors.Wrap(err, "blockdev: writev")) })
	return req
}

// FlushAsync syncs the backing file and invokes cb on completion.
func (d *Device) FlushAsync(cb CompletionFunc) *Request {
	req := &Request{}
	err := d.file.Sync()
	d.disp.Post(func() { cb(errors.Wrap(err, "blockdev: flush")) })
	return req
}

// Truncate grows or shrinks the backing file to exactly size bytes.
// Used by Create to extend a static image for its full pre-allocation;
// newly appended blocks grow the file through WriteAtOffset instead.
func (d *Device) Truncate(size int64) error {
	return errors.Wrap(d.file.Truncate(size), "blockdev: truncate")
}

// WriteAtOffset writes buf at the given byte offset, bypassing sector
// addressing. Used for the header sector and the block-map sectors,
// both of which the spec addresses by byte offset rather than by
// virtual sector.
func (d *Device) WriteAtOffset(offset int64, buf []byte) error {
	_, err := d.file.WriteAt(buf, offset)
	return errors.Wrap(err, "blockdev: write")
}

// ReadAtOffset reads len(buf) bytes at the given byte offset.
func (d *Device) ReadAtOffset(offset int64, buf []byte) error {
	return errors.Wrap(readFull(d.file, buf, offset), "blockdev: read")
}
