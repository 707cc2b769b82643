// Package perr defines the sentinel error kinds shared across pipeline
// stages, mirroring the recoverable-error taxonomy every stage propagates
// through the same channel: return value, finish callback, or the global
// error path.
package perr

import "errors"

var (
	// ErrAlreadyRunning is returned by a configuration setter that would
	// race with an in-progress capture or resample.
	ErrAlreadyRunning = errors.New("perr: already running")
	// ErrNotReady is returned when an operation is attempted before the
	// owning stage has been started.
	ErrNotReady = errors.New("perr: not ready")
	// ErrNotSupported is returned for a configuration value the stage
	// cannot honor (unsupported pixel format, pack alignment, and so on).
	ErrNotSupported = errors.New("perr: not supported")
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("perr: invalid argument")
	// ErrBusy is returned by a non-blocking buffer operation that would
	// otherwise block.
	ErrBusy = errors.New("perr: busy")
	// ErrNoSpace is returned when a write reservation cannot be
	// satisfied even in blocking mode (payload larger than the buffer).
	ErrNoSpace = errors.New("perr: no space")
	// ErrCancelled is returned by any buffer operation issued after
	// CancelBuffer, and by an open handle at the moment of cancellation.
	ErrCancelled = errors.New("perr: cancelled")
	// ErrClosed is returned by an operation on an already-closed handle
	// or a buffer that has been torn down.
	ErrClosed = errors.New("perr: closed")
	// ErrIO wraps a failure from an external collaborator (surface
	// read_pixels, portal negotiation, output write).
	ErrIO = errors.New("perr: io")
)
