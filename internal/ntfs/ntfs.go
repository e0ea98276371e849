// Package ntfs implements the §4.8 NTFS MFT Scanner: a linear walk of
// Master File Table records looking for not-in-use, non-directory
// records whose $FILE_NAME and $DATA attributes resolve to a
// signature-verified on-disk offset.
package ntfs

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
	"github.com/shubham/salvage/internal/sigreg"
)

var log = salvlog.New("ntfs")

const (
	recordMagic          = "FILE"
	attrFileName         = 0x00000030
	attrData             = 0x00000080
	attrEnd              = 0xFFFFFFFF
	maxRecords           = 100000
	maxMissStarts        = 100
	namespaceWin32       = 1
	namespaceWin32AndDOS = 3
	namespacePOSIX       = 0
)

// Scanner walks an NTFS volume's MFT.
type Scanner struct {
	read           blockreader.Reader
	bytesPerSector int64
	clusterSize    int64
	mftOffset      int64
	recordSize     int64
}

// Open parses the boot sector at offset 0. Returns salverr.ErrUnsupported
// if the "NTFS    " OEM id is not present.
func Open(read blockreader.Reader) (*Scanner, error) {
	buf := make([]byte, 512)
	if _, err := read.Read(buf, 0, 512); err != nil {
		return nil, log.Wrapf(salverr.Io(err), "read boot sector")
	}
	if string(buf[3:11]) != "NTFS    " {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}

	s := &Scanner{read: read}
	s.bytesPerSector = int64(binary.LittleEndian.Uint16(buf[11:13]))
	sectorsPerCluster := int64(buf[13])
	if sectorsPerCluster >= 0x80 {
		// Negative byte value encodes 2^|v| bytes/cluster directly.
		s.clusterSize = 1 << uint(0x100-sectorsPerCluster)
	} else {
		s.clusterSize = s.bytesPerSector * sectorsPerCluster
	}

	mftCluster := int64(binary.LittleEndian.Uint64(buf[48:56]))
	s.mftOffset = mftCluster * s.clusterSize

	recordSizeField := int8(buf[64])
	if recordSizeField >= 0 {
		s.recordSize = int64(recordSizeField) * s.clusterSize
	} else {
		s.recordSize = 1 << uint(-int(recordSizeField))
	}

	if s.bytesPerSector == 0 || s.clusterSize == 0 || s.recordSize == 0 {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}
	return s, nil
}

// Scan iterates MFT records and invokes onFile for every recoverable
// candidate: not in-use, not a directory, with a $FILE_NAME and a $DATA
// attribute that resolves to a signature-verified offset.
func (s *Scanner) Scan(onFile func(model.RecoverableFile)) error {
	missStarts := 0
	buf := make([]byte, s.recordSize)

	for i := int64(0); i < maxRecords; i++ {
		recordOffset := s.mftOffset + i*s.recordSize
		n, err := s.read.Read(buf, recordOffset, int(s.recordSize))
		if err != nil || n < int(s.recordSize) {
			break
		}

		if string(buf[0:4]) != recordMagic {
			missStarts++
			if missStarts > maxMissStarts {
				break
			}
			continue
		}
		missStarts = 0

		flags := binary.LittleEndian.Uint16(buf[22:24])
		inUse := flags&0x0001 != 0
		isDirectory := flags&0x0002 != 0
		if inUse || isDirectory {
			continue
		}

		name, ok := s.findFileName(buf)
		if !ok {
			continue
		}
		firstCluster, size, ok := s.findData(buf)
		if !ok {
			continue
		}

		diskOffset := firstCluster * s.clusterSize
		header := make([]byte, sigreg.HeaderWindow)
		if _, err := s.read.Read(header, diskOffset, len(header)); err != nil {
			continue
		}

		sig, ok := matchWithDeclaredExtension(name, header)
		if !ok {
			continue
		}

		onFile(model.RecoverableFile{
			DisplayName:   name,
			Extension:     sig.Extension,
			Category:      sig.Category,
			EstimatedSize: size,
			Offset:        diskOffset,
			Signature:     sig,
			OriginPhase:   model.PhaseCatalog,
		})
	}
	return nil
}

type namedFile struct {
	name      string
	namespace int
}

func (s *Scanner) findFileName(record []byte) (string, bool) {
	offset := int(binary.LittleEndian.Uint16(record[20:22]))
	var best *namedFile

	for offset+8 <= len(record) {
		attrType := binary.LittleEndian.Uint32(record[offset:])
		if attrType == attrEnd {
			break
		}
		attrLen := binary.LittleEndian.Uint32(record[offset+4:])
		if attrLen == 0 || offset+int(attrLen) > len(record) {
			break
		}

		if attrType == attrFileName {
			contentOffset := offset + int(binary.LittleEndian.Uint16(record[offset+20:]))
			if contentOffset+66 <= len(record) {
				nameLenChars := int(record[contentOffset+64])
				namespace := int(record[contentOffset+65])
				if namespace != 2 { // skip DOS-only aliases
					nameStart := contentOffset + 66
					nameEnd := nameStart + nameLenChars*2
					if nameEnd <= len(record) {
						name := decodeUTF16LE(record[nameStart:nameEnd])
						if best == nil || namespacePriority(namespace) > namespacePriority(best.namespace) {
							best = &namedFile{name: name, namespace: namespace}
						}
					}
				}
			}
		}

		offset += int(attrLen)
	}

	if best == nil {
		return "", false
	}
	return best.name, true
}

func namespacePriority(namespace int) int {
	switch namespace {
	case namespaceWin32, namespaceWin32AndDOS:
		return 2
	case namespacePOSIX:
		return 1
	default:
		return 0
	}
}

func (s *Scanner) findData(record []byte) (firstCluster int64, size int64, ok bool) {
	offset := int(binary.LittleEndian.Uint16(record[20:22]))

	for offset+8 <= len(record) {
		attrType := binary.LittleEndian.Uint32(record[offset:])
		if attrType == attrEnd {
			break
		}
		attrLen := binary.LittleEndian.Uint32(record[offset+4:])
		if attrLen == 0 || offset+int(attrLen) > len(record) {
			break
		}

		if attrType == attrData {
			nonResident := record[offset+8] != 0
			if !nonResident {
				// Resident data has no disk offset to carve; not a
				// candidate for this scanner.
				return 0, 0, false
			}

			realSize := int64(binary.LittleEndian.Uint64(record[offset+48:]))
			runListOffset := offset + int(binary.LittleEndian.Uint16(record[offset+32:]))
			cluster, ok := parseFirstDataRun(record[runListOffset:])
			if !ok {
				return 0, 0, false
			}
			return cluster, realSize, true
		}

		offset += int(attrLen)
	}
	return 0, 0, false
}

// parseFirstDataRun decodes the first run header of an NTFS data-run
// list: low nibble of the header byte is the length-field byte count,
// high nibble is the offset-field byte count; the offset field is
// sign-extended when its top bit is set.
func parseFirstDataRun(runs []byte) (firstCluster int64, ok bool) {
	if len(runs) == 0 || runs[0] == 0x00 {
		return 0, false
	}
	header := runs[0]
	lengthBytes := int(header & 0x0F)
	offsetBytes := int(header >> 4)
	if 1+lengthBytes+offsetBytes > len(runs) {
		return 0, false
	}

	pos := 1 + lengthBytes
	var offset int64
	for i := offsetBytes - 1; i >= 0; i-- {
		offset = offset<<8 | int64(runs[pos+i])
	}
	if offsetBytes > 0 && runs[pos+offsetBytes-1]&0x80 != 0 {
		offset -= 1 << uint(offsetBytes*8)
	}
	return offset, true
}

func decodeUTF16LE(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

func matchWithDeclaredExtension(name string, header []byte) (model.Signature, bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			if sig, ok := sigreg.Lookup(name[i+1:]); ok && hasPrefixMatch(header, sig) {
				return sig, true
			}
			break
		}
	}
	return sigreg.Match(header)
}

func hasPrefixMatch(header []byte, sig model.Signature) bool {
	if len(sig.Prefix) == 0 {
		matched, ok := sigreg.Match(header)
		return ok && matched.Extension == sig.Extension
	}
	if len(header) < len(sig.Prefix) {
		return false
	}
	for i, b := range sig.Prefix {
		if header[i] != b {
			return false
		}
	}
	return true
}
