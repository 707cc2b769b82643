// Package pbuf implements the packet buffer: a variable-size, ordered
// message queue with reservation/commit/cancel semantics shared by every
// producer and consumer in the pipeline. It is the single synchronization
// point between capture/scale stages and their downstream readers.
//
// Unlike the shared-memory ring it is modeled on, this implementation
// keeps committed messages as independent byte slices in a FIFO queue
// rather than performing literal wraparound arithmetic over one backing
// array; the byte-capacity accounting and ordering guarantees it exposes
// are identical, and a caller cannot tell the difference through the
// public API.
package pbuf

import (
	"sync"

	"github.com/glcs-go/recorder/internal/perr"
)

// Mode selects how Open reserves a handle.
type Mode uint8

const (
	// ModeWrite reserves a writer slot, blocking until one is free.
	ModeWrite Mode = iota
	// ModeWriteTry reserves a writer slot without blocking, failing with
	// ErrBusy if none is free.
	ModeWriteTry
	// ModeRead reserves the next committed message, blocking until one
	// is available.
	ModeRead
	// ModeReadTry reserves the next committed message without blocking,
	// failing with ErrBusy if the queue is empty.
	ModeReadTry
)

// DMAFlags modify DMA's zero-copy contract.
type DMAFlags uint8

const (
	// AcceptFakeDMA permits DMA to fall back to a scratch allocation
	// when the buffer cannot hand out a direct region (always true for
	// this in-process implementation, kept for interface parity with
	// callers ported from the shared-memory original).
	AcceptFakeDMA DMAFlags = 1 << iota
)

// defaultMaxWriters bounds concurrently open, uncommitted write
// reservations, standing in for the fixed reservation table of the
// original shared-memory buffer.
const defaultMaxWriters = 64

// Buffer is a single-producer-or-multi-producer, multi-consumer FIFO of
// variable-size byte messages.
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	notSlot  *sync.Cond

	capacity int // total payload bytes allowed in flight (reserved + queued)
	used     int
	maxSlots int
	openSlot int

	queue []*message

	cancelled bool
}

type message struct {
	payload []byte
}

// New returns an empty Buffer with the given total byte capacity.
func New(capacity int) *Buffer {
	b := &Buffer{
		capacity: capacity,
		maxSlots: defaultMaxWriters,
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	b.notSlot = sync.NewCond(&b.mu)
	return b
}

// Open reserves a handle per mode's blocking contract.
func (b *Buffer) Open(mode Mode) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelled {
		return nil, perr.ErrCancelled
	}

	switch mode {
	case ModeWrite, ModeWriteTry:
		for b.openSlot >= b.maxSlots && !b.cancelled {
			if mode == ModeWriteTry {
				return nil, perr.ErrBusy
			}
			b.notSlot.Wait()
		}
		if b.cancelled {
			return nil, perr.ErrCancelled
		}
		b.openSlot++
		return &Handle{buf: b, mode: mode, size: -1}, nil

	case ModeRead, ModeReadTry:
		for len(b.queue) == 0 && !b.cancelled {
			if mode == ModeReadTry {
				return nil, perr.ErrBusy
			}
			b.notEmpty.Wait()
		}
		if b.cancelled {
			return nil, perr.ErrCancelled
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		return &Handle{buf: b, mode: mode, msg: msg}, nil

	default:
		return nil, perr.ErrInvalidArgument
	}
}

// CancelBuffer aborts every open handle and every subsequent operation
// with ErrCancelled until the caller discards the buffer. There is no
// reopen; a cancelled buffer is torn down.
func (b *Buffer) CancelBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelled {
		return
	}
	b.cancelled = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	b.notSlot.Broadcast()
}

// Cancelled reports whether CancelBuffer has been called.
func (b *Buffer) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Handle is a single reservation returned by Open. It is not safe for
// concurrent use by multiple goroutines; each stage worker owns exactly
// one handle at a time, matching the thread runner's per-message use.
type Handle struct {
	buf  *Buffer
	mode Mode

	// write side
	size     int
	data     []byte
	written  int
	reserved bool

	// read side
	msg      *message
	returned bool

	closed bool
}

// SetSize declares the total payload length of an open write. It must be
// called exactly once, before Write or DMA, and may block (ModeWrite) or
// fail with ErrBusy (ModeWriteTry) if the buffer has no room; it fails
// permanently with ErrNoSpace if n can never fit even in an empty buffer.
func (h *Handle) SetSize(n int) error {
	if h.mode != ModeWrite && h.mode != ModeWriteTry {
		return perr.ErrInvalidArgument
	}
	if h.closed {
		return perr.ErrClosed
	}
	if h.size >= 0 {
		return perr.ErrInvalidArgument
	}
	if n < 0 {
		return perr.ErrInvalidArgument
	}
	if n > h.buf.capacity {
		return perr.ErrNoSpace
	}

	b := h.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.used+n > b.capacity && !b.cancelled {
		if h.mode == ModeWriteTry {
			return perr.ErrBusy
		}
		b.notFull.Wait()
	}
	if b.cancelled {
		return perr.ErrCancelled
	}

	b.used += n
	h.reserved = true
	h.size = n
	h.data = make([]byte, n)
	return nil
}

// Write appends bytes to the reserved region, bounded by the length
// declared to SetSize. Successive calls append in order, so bytes
// committed by one writer always appear in the order Write was called.
func (h *Handle) Write(p []byte) (int, error) {
	if h.mode != ModeWrite && h.mode != ModeWriteTry {
		return 0, perr.ErrInvalidArgument
	}
	if h.closed {
		return 0, perr.ErrClosed
	}
	if h.size < 0 {
		return 0, perr.ErrInvalidArgument
	}
	if h.written+len(p) > h.size {
		return 0, perr.ErrNoSpace
	}

	n := copy(h.data[h.written:], p)
	h.written += n
	return n, nil
}

// DMA returns a writable slice of n bytes within the reserved region for
// zero-copy fill, advancing the write cursor by n as if Write had been
// called. flags is accepted for interface parity with the shared-memory
// original; this implementation always satisfies the request from the
// message's own backing array, so AcceptFakeDMA has no separate code
// path here.
func (h *Handle) DMA(n int, flags DMAFlags) ([]byte, error) {
	if h.mode != ModeWrite && h.mode != ModeWriteTry {
		return nil, perr.ErrInvalidArgument
	}
	if h.closed {
		return nil, perr.ErrClosed
	}
	if h.size < 0 {
		return nil, perr.ErrInvalidArgument
	}
	if h.written+n > h.size {
		return nil, perr.ErrNoSpace
	}

	region := h.data[h.written : h.written+n]
	h.written += n
	return region, nil
}

// Bytes returns the full committed message for a read handle.
func (h *Handle) Bytes() []byte {
	if h.msg == nil {
		return nil
	}
	return h.msg.payload
}

// Close commits a write (publishing it in the order Close calls are
// issued across all writers) or releases a read, freeing its share of
// buffer capacity.
func (h *Handle) Close() error {
	if h.closed {
		return perr.ErrClosed
	}
	h.closed = true

	b := h.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	switch h.mode {
	case ModeWrite, ModeWriteTry:
		b.openSlot--
		b.notSlot.Signal()
		if h.size < 0 {
			// never sized: release nothing, publish nothing
			return nil
		}
		b.queue = append(b.queue, &message{payload: h.data[:h.written]})
		b.notEmpty.Broadcast()
		return nil

	case ModeRead, ModeReadTry:
		if !h.returned && h.msg != nil {
			b.used -= len(h.msg.payload)
			b.notFull.Broadcast()
		}
		return nil
	}
	return perr.ErrInvalidArgument
}

// Cancel discards a write without publishing it, or returns an unread
// message to the front of the queue for another reader. Either way it
// leaves no trace for later observers: a cancelled write is as if it had
// never been reserved, and a cancelled read is as if it had never been
// opened.
func (h *Handle) Cancel() error {
	if h.closed {
		return perr.ErrClosed
	}
	h.closed = true

	b := h.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	switch h.mode {
	case ModeWrite, ModeWriteTry:
		b.openSlot--
		b.notSlot.Signal()
		if h.reserved {
			b.used -= h.size
			b.notFull.Broadcast()
		}
		return nil

	case ModeRead, ModeReadTry:
		if h.msg != nil {
			h.returned = true
			b.queue = append([]*message{h.msg}, b.queue...)
			b.notEmpty.Signal()
		}
		return nil
	}
	return perr.ErrInvalidArgument
}
