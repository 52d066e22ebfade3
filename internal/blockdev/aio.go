package blockdev

import "sync"

// CompletionFunc is invoked when a submitted request finishes. status is
// nil on success, matching the qemu "cb(opaque, status)" convention from
// the block-layer the driver normally plugs into.
type CompletionFunc func(status error)

// Request is a handle to an in-flight asynchronous operation. Cancel is
// a no-op here, same as in the source driver this module is grounded on
// (sswastik02-go-qcow2lib never implements cancellation either) — the
// in-flight completion still fires.
type Request struct {
	cancelled bool
}

// Cancel marks the request cancelled. It never stops delivery: the
// completion callback still runs. See spec §5 "Cancellation".
func (r *Request) Cancel() {
	r.cancelled = true
}

// Dispatcher is a minimal bottom-half scheduler: a FIFO of deferred
// closures drained by Run. It plays the role of the surrounding
// framework's AIO completion dispatcher — every child-device completion,
// and every "zero-fill then re-enter" trampoline hop in the async read
// path (spec §4.9), is posted here rather than invoked inline, so
// completions are never delivered synchronously with submission.
type Dispatcher struct {
	mu    sync.Mutex
	queue []func()
}

// NewDispatcher returns an empty, ready-to-use Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Post schedules fn to run on a future Run call. Safe to call from
// within a running closure (it appends to the tail of the queue).
func (d *Dispatcher) Post(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

// Run drains the dispatcher, executing posted closures until none
// remain. Closures that Post more work during Run are picked up in the
// same call, so a caller only needs one Run per logical request chain.
func (d *Dispatcher) Run() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
	}
}

// Pending reports whether any closures remain queued.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) > 0
}
