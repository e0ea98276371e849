// Package carver implements the §4.3 Signature Carver: a sector-aligned
// sweep over a declared byte range that emits a RecoverableFile for
// every signature-registry hit not already accounted for by the
// catalog phase.
package carver

import (
	"context"

	"github.com/shubham/salvage/internal/exif"
	"github.com/shubham/salvage/internal/isobmff"
	"github.com/shubham/salvage/internal/jpegreasm"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
	"github.com/shubham/salvage/internal/sigreg"
)

// isoBMFFExtensions resolve their span via the §4.4 box walker rather than
// a fixed-size read.
var isoBMFFExtensions = map[string]bool{
	"mp4": true, "mov": true, "m4v": true, "3gp": true, "heic": true, "heif": true,
}

var log = salvlog.New("carver")

const (
	chunkSize    = 128 * 1024
	headerWindow = 12
	sectorSize   = 512
)

// Reader reads length bytes at offset, returning fewer than requested
// (including zero) at end of available data.
type Reader func(offset int64, length int) ([]byte, error)

// Options configures a Scan.
type Options struct {
	// ExistingOffsets are positions the catalog phase already reported;
	// the carver must not re-emit them (§4.11).
	ExistingOffsets map[int64]struct{}
	// Profile drives §4.10 signature promotion and naming.
	Profile model.CameraProfile
	// OnFile is invoked synchronously for every hit, in sweep order.
	OnFile func(model.RecoverableFile)
	// OnProgress is invoked at ~1% granularity of the declared range.
	OnProgress func(fraction float64)
	// Cancelled is polled between chunks.
	Cancelled func() bool
}

// Scan sweeps read over [start, end), applying the match ladder at every
// sector boundary. seq is the starting sequence number for generated
// filenames; Scan returns the next unused sequence number.
func Scan(ctx context.Context, read Reader, start, end int64, seq int, opts Options) (int, error) {
	if end <= start {
		return seq, nil
	}

	budget := end - start
	var carry []byte
	pos := start
	reportedPercent := -1

	for pos < end {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return seq, log.Wrap(salverr.ErrCancelled)
			default:
			}
		}
		if opts.Cancelled != nil && opts.Cancelled() {
			return seq, log.Wrap(salverr.ErrCancelled)
		}

		readLen := chunkSize
		if pos+int64(readLen) > end {
			readLen = int(end - pos)
		}
		chunk, err := read(pos, readLen)
		if err != nil {
			return seq, log.Wrapf(salverr.Io(err), "read chunk at %d", pos)
		}
		if len(chunk) == 0 {
			break
		}

		buf := make([]byte, 0, len(carry)+len(chunk))
		buf = append(buf, carry...)
		buf = append(buf, chunk...)
		bufStart := pos - int64(len(carry))

		firstCandidate := pos
		if rem := firstCandidate % sectorSize; rem != 0 {
			firstCandidate += sectorSize - rem
		}
		chunkEnd := pos + int64(len(chunk))

		for p := firstCandidate; p < chunkEnd; p += sectorSize {
			if _, skip := opts.ExistingOffsets[p]; skip {
				continue
			}

			rel := int(p - bufStart)
			windowEnd := rel + sigreg.HeaderWindow
			if windowEnd > len(buf) {
				windowEnd = len(buf)
			}
			if rel >= windowEnd {
				continue
			}
			window := buf[rel:windowEnd]

			sig, ok := sigreg.Match(window)
			if !ok {
				continue
			}
			sig = exif.PromoteSignature(window, opts.Profile, sig)

			seq++
			name := exif.GenerateName(exif.Reader(read), p, sig.Category, opts.Profile, seq)

			if opts.OnFile != nil {
				opts.OnFile(model.RecoverableFile{
					DisplayName:   name,
					Extension:     sig.Extension,
					Category:      sig.Category,
					Offset:        p,
					EstimatedSize: resolveSize(read, p, sig),
					Signature:     sig,
					OriginPhase:   model.PhaseCarver,
				})
			}
		}

		if len(chunk) >= headerWindow {
			carry = append(carry[:0:0], chunk[len(chunk)-headerWindow:]...)
		} else {
			carry = append(carry[:0:0], chunk...)
		}
		pos = chunkEnd

		if opts.OnProgress != nil && budget > 0 {
			fraction := float64(pos-start) / float64(budget)
			if fraction > 1 {
				fraction = 1
			}
			if percent := int(fraction * 100); percent > reportedPercent {
				reportedPercent = percent
				opts.OnProgress(fraction)
			}
		}
	}

	return seq, nil
}

// resolveSize fills in the size left as 0 by the sweep itself (§4.3 step
// 3): ISO-BMFF containers resolve via the box walker, JPEGs via fragment
// reassembly. Every other format is left at 0 — the sweep only reports an
// offset, and size resolution for simple formats is a later collaborator
// concern per §4.3/§6.
func resolveSize(read Reader, offset int64, sig model.Signature) int64 {
	switch {
	case isoBMFFExtensions[sig.Extension]:
		if size, ok := isobmff.Resolve(isobmff.Reader(read), offset); ok {
			return size
		}
	case sig.Extension == "jpg":
		if result, ok := jpegreasm.Reassemble(jpegreasm.Reader(read), offset); ok {
			return int64(len(result.Data))
		}
	}
	return 0
}
