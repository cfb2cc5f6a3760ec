// Package errs defines the error taxonomy of the storage engine core: a small set of sentinel errors every subsystem wraps
// with context via github.com/pkg/errors so callers can classify failures
// with errors.Is while still getting a stack trace on the first wrap.
package errs

import "github.com/pkg/errors"

var (
	// ErrParse: an input byte range is too small or structurally invalid.
	ErrParse = errors.New("parse error")
	// ErrCorrupt: checksum mismatch or internal consistency violation.
	ErrCorrupt = errors.New("corrupt error")
	// ErrNotFound: a requested PageId/SlotId/FSL entry is absent.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientSpace: a page cannot accept the requested insert/update.
	ErrInsufficientSpace = errors.New("insufficient space")
	// ErrBufferFull: all buffer frames are pinned; no victim available.
	ErrBufferFull = errors.New("buffer full")
	// ErrState: an operation is invalid for the component's current state.
	ErrState = errors.New("invalid state")
	// ErrIO: the underlying storage reported a read or write failure.
	ErrIO = errors.New("io error")
)

// Wrap annotates err with a message while preserving errors.Is matching
// against the sentinel it wraps.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err (or any error it wraps) matches target.
func Is(err, target error) bool { return errors.Is(err, target) }
