// Package exfat implements the §4.7 ExFAT Catalog Scanner: a walk of
// directory clusters decoding entry sets (primary File entry + Stream
// Extension + File Name entries) and reporting deleted candidates whose
// header bytes verify against the Signature Registry.
package exfat

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/go-restruct/restruct"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
	"github.com/shubham/salvage/internal/sigreg"
)

var log = salvlog.New("exfat")

var defaultEncoding = binary.LittleEndian

const entrySize = 32

const (
	entryTypeMask     = 0x7F
	entryInUseBit     = 0x80
	entryFile         = 0x05
	entryStreamExt    = 0x40
	entryFileName     = 0x41
	entryEndOfDir     = 0x00
	minSecondaryCount = 2
	dirAttributeBit   = 0x10
)

// streamExtensionEntry is the 32-byte Stream Extension secondary entry
// (type 0xC0/0x40); field layout per ExFAT §7.6.
type streamExtensionEntry struct {
	EntryType             byte
	GeneralSecondaryFlags byte
	Reserved1             byte
	NameLength            byte
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

// fileNameEntry is the leading 30 bytes of a File Name secondary entry
// (type 0xC1/0x41): 14 UTF-16LE characters at bytes 2..30.
type fileNameEntry struct {
	EntryType             byte
	GeneralSecondaryFlags byte
	FileName              [28]byte
}

// Scanner walks an ExFAT volume's directory tree.
type Scanner struct {
	read              blockreader.Reader
	bytesPerSector    int64
	bytesPerCluster   int64
	clusterHeapOffset int64 // bytes
	rootCluster       uint32
}

// Open parses the boot sector at offset 0. Returns salverr.ErrUnsupported
// if the "EXFAT   " filesystem name is absent.
func Open(read blockreader.Reader) (*Scanner, error) {
	buf := make([]byte, 512)
	if _, err := read.Read(buf, 0, 512); err != nil {
		return nil, log.Wrapf(salverr.Io(err), "read boot sector")
	}
	if string(buf[3:11]) != "EXFAT   " {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}

	clusterHeapOffsetSectors := binary.LittleEndian.Uint32(buf[88:92])
	rootCluster := binary.LittleEndian.Uint32(buf[96:100])
	sectorShift := buf[108]
	clusterShift := buf[109]

	s := &Scanner{
		read:              read,
		bytesPerSector:    1 << sectorShift,
		rootCluster:       rootCluster,
	}
	s.bytesPerCluster = s.bytesPerSector << clusterShift
	s.clusterHeapOffset = int64(clusterHeapOffsetSectors) * s.bytesPerSector
	return s, nil
}

func (s *Scanner) clusterOffset(cluster uint32) int64 {
	return s.clusterHeapOffset + int64(cluster-2)*s.bytesPerCluster
}

// Scan walks the directory tree from the root cluster.
func (s *Scanner) Scan(onFile func(model.RecoverableFile)) error {
	visited := make(map[uint32]bool)
	return s.scanDirectory(s.rootCluster, visited, onFile)
}

func (s *Scanner) scanDirectory(cluster uint32, visited map[uint32]bool, onFile func(model.RecoverableFile)) error {
	if visited[cluster] || cluster < 2 {
		return nil
	}
	visited[cluster] = true

	buf := make([]byte, s.bytesPerCluster)
	if _, err := s.read.Read(buf, s.clusterOffset(cluster), int(s.bytesPerCluster)); err != nil {
		return log.Wrapf(salverr.Io(err), "read cluster %d", cluster)
	}

	for i := 0; i+entrySize <= len(buf); i += entrySize {
		entry := buf[i : i+entrySize]
		entryType := entry[0]

		if entryType == entryEndOfDir {
			break
		}

		if entryType&entryTypeMask != entryFile {
			continue
		}

		deleted := entryType&entryInUseBit == 0
		secondaryCount := int(entry[1])
		attributes := binary.LittleEndian.Uint16(entry[4:6])
		isDir := attributes&dirAttributeBit != 0

		if secondaryCount < minSecondaryCount {
			continue
		}
		if i+entrySize*(1+secondaryCount) > len(buf) {
			continue
		}

		streamRaw := buf[i+entrySize : i+entrySize*2]
		var stream streamExtensionEntry
		if err := restruct.Unpack(streamRaw, defaultEncoding, &stream); err != nil {
			continue
		}
		if stream.EntryType&entryTypeMask != entryStreamExt {
			continue
		}
		// The primary entry and its Stream Extension must agree on
		// in-use state; a mismatched pair is a torn/corrupt entry set.
		if streamDeleted := stream.EntryType&entryInUseBit == 0; streamDeleted != deleted {
			continue
		}

		if !deleted {
			// Live subdirectories are queued for recursion (§4.7); live
			// non-directory entries carry nothing a deleted-file scan needs.
			if isDir && stream.FirstCluster >= 2 {
				if err := s.scanDirectory(stream.FirstCluster, visited, onFile); err != nil {
					return err
				}
			}
			i += entrySize * secondaryCount
			continue
		}

		var nameBuilder []uint16
		for j := 1; j < secondaryCount; j++ {
			raw := buf[i+entrySize*(1+j) : i+entrySize*(2+j)]
			var fn fileNameEntry
			if err := restruct.Unpack(raw[:30], defaultEncoding, &fn); err != nil {
				continue
			}
			if fn.EntryType&entryTypeMask != entryFileName {
				continue
			}
			for k := 0; k < len(fn.FileName); k += 2 {
				c := binary.LittleEndian.Uint16(fn.FileName[k:])
				if c == 0 {
					break
				}
				nameBuilder = append(nameBuilder, c)
			}
		}
		name := string(utf16.Decode(nameBuilder))
		if int(stream.NameLength) > 0 && len(nameBuilder) > int(stream.NameLength) {
			name = string(utf16.Decode(nameBuilder[:stream.NameLength]))
		}

		if stream.FirstCluster < 2 || stream.DataLength == 0 {
			continue
		}

		offset := s.clusterOffset(stream.FirstCluster)
		header := make([]byte, sigreg.HeaderWindow)
		if _, err := s.read.Read(header, offset, len(header)); err != nil {
			continue
		}

		sig, ok := verifyExtension(name, header)
		if !ok {
			continue
		}

		onFile(model.RecoverableFile{
			DisplayName:   baseName(name),
			Extension:     sig.Extension,
			Category:      sig.Category,
			EstimatedSize: int64(stream.DataLength),
			Offset:        offset,
			Signature:     sig,
			OriginPhase:   model.PhaseCatalog,
		})

		i += entrySize * secondaryCount // skip consumed secondary entries
	}

	return nil
}

func baseName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func verifyExtension(name string, header []byte) (model.Signature, bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			if sig, ok := sigreg.Lookup(name[i+1:]); ok {
				if len(header) >= len(sig.Prefix) {
					match := true
					for j, b := range sig.Prefix {
						if header[j] != b {
							match = false
							break
						}
					}
					if match {
						return sig, true
					}
				}
			}
			break
		}
	}
	return sigreg.Match(header)
}
