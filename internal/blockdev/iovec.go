// Package blockdev implements the minimal child block device the vdi
// driver needs: a file-backed sector device with both blocking and
// callback-completed submit paths. In the original QEMU block layer this
// role is played by the generic block-layer framework (bottom-half
// scheduler, AIO dispatcher, child block device); here it is a small,
// fully owned stand-in so the vdi driver has a real caller to drive.
package blockdev

// IOVector is a scatter/gather buffer list, the equivalent of QEMU's
// QEMUIOVector. A Device's vectored reads fill it in order through
// CopyFrom; its vectored writes flatten it with Bytes first.
type IOVector struct {
	bufs []([]byte)
	size int
}

// NewIOVector builds a vector over the given buffers, in order.
func NewIOVector(bufs ...[]byte) *IOVector {
	v := &IOVector{bufs: bufs}
	for _, b := range bufs {
		v.size += len(b)
	}
	return v
}

// Len returns the total byte length across all buffers.
func (v *IOVector) Len() int {
	return v.size
}

// Bytes flattens the vector into a single contiguous buffer, copying
// every buffer. Device.WriteVAsync uses it on every vectored write.
func (v *IOVector) Bytes() []byte {
	out := make([]byte, 0, v.size)
	for _, b := range v.bufs {
		out = append(out, b...)
	}
	return out
}

// CopyFrom copies up to len(src) bytes into the vector starting at
// byte offset 0, splitting across buffer boundaries. Returns the number
// of bytes copied.
func (v *IOVector) CopyFrom(src []byte) int {
	n := 0
	for _, b := range v.bufs {
		if n >= len(src) {
			break
		}
		c := copy(b, src[n:])
		n += c
	}
	return n
}

// Memset fills `n` bytes starting at `offset` within the vector with
// `value`. Mirrors qemu_iovec_memset. The vdi read paths do not call
// it: they zero-fill hole segments in the caller's buffer directly.
func (v *IOVector) Memset(offset int, value byte, n int) {
	pos := 0
	for _, b := range v.bufs {
		bStart, bEnd := pos, pos+len(b)
		pos = bEnd
		lo := max(offset, bStart)
		hi := min(offset+n, bEnd)
		if lo >= hi {
			continue
		}
		seg := b[lo-bStart : hi-bStart]
		for i := range seg {
			seg[i] = value
		}
	}
}
