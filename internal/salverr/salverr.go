// Package salverr defines the error kinds used across the scanning core
// (see spec §7). Kinds are sentinel errors usable with errors.Is, wrapped
// with context via fmt.Errorf("...: %w", ...) the way the teacher repo
// already wraps disk/parse errors.
package salverr

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied: device open failed without elevation.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnsupported: filesystem hint didn't match the parsed header.
	ErrUnsupported = errors.New("unsupported filesystem")
	// ErrCorrupt: a structural invariant was violated mid-parse.
	ErrCorrupt = errors.New("corrupt structure")
	// ErrNonMonotonic: the streaming reader was asked to seek backwards.
	ErrNonMonotonic = errors.New("non-monotonic read on streaming source")
	// ErrCancelled: cooperative cancellation, never surfaced to the caller
	// as a failure — callers translate it into a Completed event.
	ErrCancelled = errors.New("scan cancelled")
	// ErrIo: a lower-level read failure (short read, device I/O error)
	// that aborts the current phase rather than the whole scan.
	ErrIo = errors.New("i/o failure")
)

// Is reports whether err (or anything it wraps) is the given sentinel.
func Is(err, target error) bool { return errors.Is(err, target) }

// Io classifies a lower-level read failure as ErrIo while keeping err's own
// message visible to errors.Is(result, ErrIo) callers and to humans alike.
func Io(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIo, err)
}
