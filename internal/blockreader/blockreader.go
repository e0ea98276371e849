// Package blockreader implements the §4.1 Block Reader capability contract:
// a seekable direct reader backed by positional reads, and a non-seekable
// streaming fallback backed by an externally-authorized named pipe.
package blockreader

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
)

var log = salvlog.New("blockreader")

// Reader is the unified read interface over seekable or streaming sources.
type Reader interface {
	// IsSeekable is fixed after Start.
	IsSeekable() bool
	// Start acquires the underlying handle. May fail with
	// salverr.ErrAccessDenied if privilege escalation is required but not
	// available.
	Start() error
	// Read is positional for a Direct reader, and monotonic-cursor based
	// for a Streaming reader (see package doc). dst must have length >=
	// length.
	Read(dst []byte, offset int64, length int) (int, error)
	// Stop releases the underlying handle on all exit paths.
	Stop() error
	// Size returns the declared size of the source, 0 if unknown.
	Size() int64
}

// DirectReader is the seekable variant: positional reads via os.File,
// independent of prior calls, safe for concurrent callers.
type DirectReader struct {
	path string
	size int64

	mu   sync.RWMutex
	file *os.File
}

// NewDirect constructs a DirectReader for path. Call Start before Read.
func NewDirect(path string) *DirectReader {
	return &DirectReader{path: path}
}

func (r *DirectReader) IsSeekable() bool { return true }

func (r *DirectReader) Start() error {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
			if errors.Is(err, os.ErrNotExist) {
				return log.Wrap(salverr.ErrAccessDenied)
			}
			return log.Wrap(salverr.ErrAccessDenied)
		}
		return log.Wrapf(salverr.Io(err), "open %q", r.path)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return log.Wrapf(salverr.Io(err), "size %q", r.path)
	}

	r.mu.Lock()
	r.file = f
	r.size = size
	r.mu.Unlock()

	return nil
}

func deviceSize(f *os.File) (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if stat.Size() > 0 {
		return stat.Size(), nil
	}
	// Block devices frequently report 0 from Stat; seek to the end to find
	// the real size, then rewind.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func (r *DirectReader) Read(dst []byte, offset int64, length int) (int, error) {
	r.mu.RLock()
	f := r.file
	r.mu.RUnlock()
	if f == nil {
		return 0, log.Wrap(salverr.ErrAccessDenied)
	}

	n, err := f.ReadAt(dst[:length], offset)
	if err != nil && err != io.EOF {
		return n, log.Wrapf(salverr.Io(err), "read %d@%d", length, offset)
	}
	return n, nil
}

func (r *DirectReader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *DirectReader) Size() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// PipeSource is the external collaborator responsible for producing the
// byte stream — an elevated copy process writing into a named pipe, or
// anything else implementing io.ReadCloser. The core never launches the
// privileged process itself; §6 makes that a collaborator responsibility.
type PipeSource interface {
	io.ReadCloser
}

// StreamingReader is the non-seekable fallback: a monotonically
// non-decreasing cursor over a forward-only byte stream. Not safe for
// concurrent callers — the coordinator must serialize access.
type StreamingReader struct {
	src     PipeSource
	size    int64
	cursor  int64
	scratch []byte
}

// NewStreaming wraps src, an already-opened forward-only stream. size may
// be 0 if unknown; Size then reports 0.
func NewStreaming(src PipeSource, size int64) *StreamingReader {
	return &StreamingReader{src: src, size: size, scratch: make([]byte, 64*1024)}
}

func (r *StreamingReader) IsSeekable() bool { return false }

func (r *StreamingReader) Start() error { return nil }

func (r *StreamingReader) Read(dst []byte, offset int64, length int) (int, error) {
	if offset < r.cursor {
		return 0, log.Wrap(salverr.ErrNonMonotonic)
	}

	for r.cursor < offset {
		toDiscard := offset - r.cursor
		chunk := int64(len(r.scratch))
		if toDiscard < chunk {
			chunk = toDiscard
		}
		n, err := io.ReadFull(r.src, r.scratch[:chunk])
		r.cursor += int64(n)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return 0, io.EOF
			}
			return 0, log.Wrapf(salverr.Io(err), "discard to offset %d", offset)
		}
	}

	n, err := io.ReadFull(r.src, dst[:length])
	r.cursor += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, io.EOF
		}
		return n, log.Wrapf(salverr.Io(err), "read %d@%d", length, offset)
	}
	return n, nil
}

func (r *StreamingReader) Stop() error {
	return r.src.Close()
}

func (r *StreamingReader) Size() int64 { return r.size }
