// Package fat32 implements the §4.6 FAT Catalog Scanner: a BFS walk of
// FAT32 directory clusters looking for deleted 8.3/LFN entries whose
// first cluster is still zeroed in the FAT.
package fat32

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
	"github.com/shubham/salvage/internal/sigreg"
)

var log = salvlog.New("fat32")

const (
	dirEntrySize  = 32
	deletedMarker = 0xE5
	lfnAttribute  = 0x0F
	attrDirectory = 0x10
	attrVolume    = 0x08
	fatEOCMin     = 0x0FFFFFF8
	fatMask28     = 0x0FFFFFFF
)

// BootSector holds the BPB fields required by §4.6.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	FATSize32         uint32
	RootCluster       uint32
	TotalSectors32    uint32
}

// Scanner walks a FAT32 volume's directory tree for deleted entries.
type Scanner struct {
	read       blockreader.Reader
	boot       BootSector
	fatStart   int64
	dataRegion int64
	clusterSz  int64
	fat        []uint32
}

// Open parses the boot sector at offset 0 and loads the first FAT table.
// Returns salverr.ErrUnsupported if the BPB sanity checks fail.
func Open(read blockreader.Reader) (*Scanner, error) {
	buf := make([]byte, 512)
	if _, err := read.Read(buf, 0, 512); err != nil {
		return nil, log.Wrapf(salverr.Io(err), "read boot sector")
	}
	if buf[510] != 0x55 || buf[511] != 0xAA {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}

	s := &Scanner{read: read}
	s.boot.BytesPerSector = binary.LittleEndian.Uint16(buf[11:13])
	s.boot.SectorsPerCluster = buf[13]
	s.boot.ReservedSectors = binary.LittleEndian.Uint16(buf[14:16])
	s.boot.NumFATs = buf[16]
	s.boot.TotalSectors32 = binary.LittleEndian.Uint32(buf[32:36])
	s.boot.FATSize32 = binary.LittleEndian.Uint32(buf[36:40])
	s.boot.RootCluster = binary.LittleEndian.Uint32(buf[44:48])

	if s.boot.BytesPerSector == 0 || s.boot.SectorsPerCluster == 0 ||
		s.boot.NumFATs == 0 || s.boot.FATSize32 == 0 || s.boot.TotalSectors32 == 0 {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}

	s.fatStart = int64(s.boot.ReservedSectors) * int64(s.boot.BytesPerSector)
	fatSizeBytes := int64(s.boot.FATSize32) * int64(s.boot.BytesPerSector)
	s.dataRegion = s.fatStart + int64(s.boot.NumFATs)*fatSizeBytes
	s.clusterSz = int64(s.boot.SectorsPerCluster) * int64(s.boot.BytesPerSector)

	if err := s.loadFAT(fatSizeBytes); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scanner) loadFAT(fatSizeBytes int64) error {
	buf := make([]byte, fatSizeBytes)
	if _, err := s.read.Read(buf, s.fatStart, int(fatSizeBytes)); err != nil {
		return log.Wrapf(salverr.Io(err), "read FAT")
	}
	s.fat = make([]uint32, len(buf)/4)
	for i := range s.fat {
		s.fat[i] = binary.LittleEndian.Uint32(buf[i*4:]) & fatMask28
	}
	return nil
}

func (s *Scanner) clusterOffset(cluster uint32) int64 {
	return s.dataRegion + int64(cluster-2)*s.clusterSz
}

func (s *Scanner) readCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, s.clusterSz)
	if _, err := s.read.Read(buf, s.clusterOffset(cluster), int(s.clusterSz)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Scan walks the directory tree from the root cluster, invoking onFile
// for every deleted entry with a High-confidence cluster and a
// signature-verified header.
func (s *Scanner) Scan(onFile func(model.RecoverableFile)) error {
	visited := make(map[uint32]bool)
	return s.scanDirectory(s.boot.RootCluster, visited, onFile)
}

type lfnFragment struct {
	seq  int
	text string
}

func (s *Scanner) scanDirectory(cluster uint32, visited map[uint32]bool, onFile func(model.RecoverableFile)) error {
	for cluster != 0 && cluster < fatEOCMin {
		if visited[cluster] {
			break
		}
		visited[cluster] = true

		data, err := s.readCluster(cluster)
		if err != nil {
			return log.Wrapf(salverr.Io(err), "read cluster %d", cluster)
		}

		var lfnFragments []lfnFragment
		var subdirs []uint32

		for i := 0; i+dirEntrySize <= len(data); i += dirEntrySize {
			entry := data[i : i+dirEntrySize]

			if entry[0] == 0x00 {
				break
			}

			if entry[11] == lfnAttribute {
				lfnFragments = append(lfnFragments, lfnFragment{
					seq:  int(entry[0] & 0x3F),
					text: decodeLFNSegment(entry),
				})
				continue
			}

			if entry[11]&attrVolume != 0 {
				lfnFragments = nil
				continue
			}

			isDeleted := entry[0] == deletedMarker
			isDir := entry[11]&attrDirectory != 0

			firstCluster := uint32(binary.LittleEndian.Uint16(entry[20:22]))<<16 |
				uint32(binary.LittleEndian.Uint16(entry[26:28]))
			size := binary.LittleEndian.Uint32(entry[28:32])

			displayName := joinLFN(lfnFragments)
			lfnFragments = nil
			if displayName == "" {
				displayName = shortName(entry[:11])
			}

			if displayName == "." || displayName == ".." {
				continue
			}

			if isDir && !isDeleted && firstCluster >= 2 {
				subdirs = append(subdirs, firstCluster)
				continue
			}

			if !isDeleted || firstCluster < 2 || size == 0 {
				continue
			}

			if int(firstCluster) >= len(s.fat) || s.fat[firstCluster] != 0x00000000 {
				continue // Low confidence: entry in use or out of range
			}

			offset := s.clusterOffset(firstCluster)
			header := make([]byte, sigreg.HeaderWindow)
			if _, err := s.read.Read(header, offset, len(header)); err != nil {
				continue
			}

			sig, ok := verifyAgainstExtension(displayName, header)
			if !ok {
				continue
			}

			onFile(model.RecoverableFile{
				DisplayName: displayName,
				Extension:   sig.Extension,
				Category:    sig.Category,
				EstimatedSize: int64(size),
				Offset:      offset,
				Signature:   sig,
				OriginPhase: model.PhaseCatalog,
			})
		}

		for _, sub := range subdirs {
			if err := s.scanDirectory(sub, visited, onFile); err != nil {
				continue // per-entry failures never abort the phase
			}
		}

		if int(cluster) < len(s.fat) {
			cluster = s.fat[cluster]
		} else {
			break
		}
	}
	return nil
}

// verifyAgainstExtension tries the filename's declared extension first,
// falling back to the general match ladder, per §4.6 step 4.
func verifyAgainstExtension(name string, header []byte) (model.Signature, bool) {
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		ext := strings.ToLower(name[dot+1:])
		if sig, ok := sigreg.Lookup(ext); ok {
			if matchesPrefix(header, sig) {
				return sig, true
			}
		}
	}
	return sigreg.Match(header)
}

func matchesPrefix(header []byte, sig model.Signature) bool {
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

func decodeLFNSegment(entry []byte) string {
	var chars []uint16
	ranges := [][2]int{{1, 11}, {14, 26}, {28, 32}}
	for _, r := range ranges {
		for j := r[0]; j < r[1]; j += 2 {
			c := binary.LittleEndian.Uint16(entry[j:])
			if c == 0x0000 || c == 0xFFFF {
				return string(utf16.Decode(chars))
			}
			chars = append(chars, c)
		}
	}
	return string(utf16.Decode(chars))
}

func joinLFN(fragments []lfnFragment) string {
	if len(fragments) == 0 {
		return ""
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].seq < fragments[j].seq })
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f.text)
	}
	return b.String()
}

func shortName(name []byte) string {
	base := strings.TrimRight(string(name[:8]), " ")
	ext := strings.TrimRight(string(name[8:11]), " ")
	if base != "" && name[0] == deletedMarker {
		base = "?" + base[1:]
	}
	if ext != "" {
		return fmt.Sprintf("%s.%s", base, ext)
	}
	return base
}
