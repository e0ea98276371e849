// Package disk provides a cheap filesystem-hint probe: a single
// boot-sector read used to pick which catalog scanner (§4.6-§4.8) to
// run against a Target, before committing to a full scan. It never
// opens the device itself — callers pass an already-started
// blockreader.Reader, the same abstraction every scanner reads
// through.
package disk

import (
	"errors"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/model"
)

// ErrUnknownFilesystem is returned when none of the known boot-sector
// signatures match.
var ErrUnknownFilesystem = errors.New("disk: unrecognized filesystem signature")

const probeWindow = 4096

// DetectFilesystem inspects the first probeWindow bytes of an
// already-started reader and returns a best-guess FilesystemHint. This
// is a fast pre-check only: each catalog scanner independently
// validates its own signature (55AA, "EXFAT   ", "NTFS    ") before
// trusting the hint.
func DetectFilesystem(r blockreader.Reader) (model.FilesystemHint, error) {
	buf := make([]byte, probeWindow)
	n, err := r.Read(buf, 0, probeWindow)
	if err != nil && n == 0 {
		return "", err
	}
	buf = buf[:n]

	switch {
	case hasAt(buf, 3, "NTFS    "):
		return model.FSNTFS, nil
	case hasAt(buf, 3, "EXFAT   "):
		return model.FSExFAT, nil
	case hasAt(buf, 82, "FAT32"):
		return model.FSFAT32, nil
	case hasAt(buf, 54, "FAT32"):
		return model.FSFAT32, nil
	}

	return "", ErrUnknownFilesystem
}

func hasAt(buf []byte, offset int, want string) bool {
	if offset < 0 || offset+len(want) > len(buf) {
		return false
	}
	return string(buf[offset:offset+len(want)]) == want
}
