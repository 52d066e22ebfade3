package vdi

import "github.com/pkg/errors"

// Sentinel error kinds, matched with errors.Is. Each is wrapped with
// call-site context via github.com/pkg/errors before it reaches the
// caller, following the wrapping idiom zchee-go-qcow2 uses throughout
// its header/write paths.
var (
	// ErrUnsupportedFormat is returned by Open when the signature,
	// version, alignment, or geometry checks fail.
	ErrUnsupportedFormat = errors.New("vdi: unsupported or corrupt image format")

	// ErrIO wraps a child block device failure in the read and write
	// paths (synchronous and asynchronous). Open, Create, Flush and
	// Close return the device's own wrapped error instead.
	ErrIO = errors.New("vdi: child device I/O error")

	// ErrOutOfMemory is returned when a block-map or staging buffer
	// allocation fails. Go's allocator reports this via panic/OOM-kill
	// rather than an error return in practice, but the sentinel is
	// kept so callers can check for it uniformly with errors.Is, per
	// spec §7.
	ErrOutOfMemory = errors.New("vdi: allocation failed")

	// ErrInvalidArgument is returned by Create when required options
	// are missing or invalid.
	ErrInvalidArgument = errors.New("vdi: invalid argument")
)
