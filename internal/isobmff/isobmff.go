// Package isobmff implements the §4.4 ISO-BMFF box walker: it computes a
// contiguous size for an MP4/MOV candidate by walking top-level boxes
// starting at the header offset.
package isobmff

import (
	"unicode"
)

const (
	mdatCap       = 100 * 1024 * 1024 * 1024 // 100 GiB
	knownBoxCap   = 4 * 1024 * 1024 * 1024   // 4 GiB
	unknownBoxCap = 50 * 1024 * 1024         // 50 MiB
	maxBoxes      = 5000
)

var knownTopLevelBoxes = map[string]bool{
	"ftyp": true, "pdin": true, "moov": true, "moof": true, "mfra": true,
	"mdat": true, "free": true, "skip": true, "meta": true, "uuid": true,
	"wide": true,
}

// Reader reads length bytes at offset. At end of data it may return fewer
// bytes than requested with a nil error; Resolve treats a short box-header
// read, like an error, as the end of the walk.
type Reader func(offset int64, length int) ([]byte, error)

// Resolve walks boxes starting at start and returns the total contiguous
// span, or ok==false if the walk encountered an invalid box before seeing
// at least one mdat.
func Resolve(read Reader, start int64) (size int64, ok bool) {
	offset := start
	sawMdat := false

	for boxes := 0; boxes < maxBoxes; boxes++ {
		hdr, err := read(offset, 8)
		if err != nil || len(hdr) < 8 {
			break
		}

		boxType := string(hdr[4:8])
		if !isPrintableASCII(boxType) {
			break
		}

		boxSize := int64(be32(hdr[0:4]))
		headerLen := int64(8)

		if boxSize == 1 {
			ext, err := read(offset+8, 8)
			if err != nil || len(ext) < 8 {
				break
			}
			boxSize = be64(ext)
			headerLen += 8
		} else if boxSize == 0 {
			// Extends to EOF: unresolvable span, per §4.4.
			break
		}

		if boxType == "uuid" {
			headerLen += 16
		}

		if boxSize < headerLen {
			break
		}

		limit := unknownBoxCap
		if boxType == "mdat" {
			limit = mdatCap
		} else if knownTopLevelBoxes[boxType] {
			limit = knownBoxCap
		}
		if boxSize > int64(limit) {
			break
		}

		if boxType == "mdat" {
			sawMdat = true
		}

		offset += boxSize
	}

	if !sawMdat {
		return 0, false
	}
	return offset - start, true
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) int64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return int64(v)
}
