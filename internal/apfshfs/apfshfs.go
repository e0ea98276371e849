// Package apfshfs implements the §4.9 APFS/HFS+ Catalog Carvers: two
// heuristic sector/block-aligned sweeps looking for plausible orphaned
// B-tree leaf nodes in raw media, since copy-on-write catalogs can leave
// leaves unreferenced by any live tree.
package apfshfs

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/shubham/salvage/internal/model"
)

const (
	hfsSectorSize     = 512
	hfsAllocBlockSize = 4096 // documented heuristic; see §9 Open Questions

	apfsBlockSize = 4096

	btLeafKind   = 0xFF
	btLeafHeight = 1
	maxRecords   = 500

	obtBTreeNodeType = 2
	apfsLeafLevel    = 0
	apfsLeafFlag     = 0x0002
	apfsDirRecordKey = 0x30
)

// HFSPlusHit is a plausible HFS+ catalog file leaf found by carving.
type HFSPlusHit struct {
	SectorOffset int64
	Name         string
	LogicalSize  int64
	DiskOffset   int64
}

// ScanHFSPlus sweeps read over [start, end) at 512-byte alignment,
// validating a BTNodeDescriptor at each sector and decoding any
// HFSPlusCatalogFile record found in a valid leaf.
func ScanHFSPlus(read func(offset int64, length int) ([]byte, error), start, end int64) ([]HFSPlusHit, error) {
	var hits []HFSPlusHit

	for offset := start; offset < end; offset += hfsSectorSize {
		desc, err := read(offset, 14)
		if err != nil || len(desc) < 14 {
			break
		}

		kind := desc[8]
		height := desc[9]
		numRecords := binary.BigEndian.Uint16(desc[10:12])
		reserved := binary.BigEndian.Uint16(desc[12:14])

		if kind != btLeafKind || height != btLeafHeight || reserved != 0 {
			continue
		}
		if numRecords == 0 || numRecords > maxRecords {
			continue
		}

		node, err := read(offset, 4096)
		if err != nil {
			continue
		}
		hits = append(hits, decodeCatalogLeaf(offset, node)...)
	}
	return hits, nil
}

func decodeCatalogLeaf(sectorOffset int64, node []byte) []HFSPlusHit {
	var hits []HFSPlusHit
	pos := 14 // after BTNodeDescriptor

	for pos+2 <= len(node) {
		keyLen := int(binary.BigEndian.Uint16(node[pos:]))
		recStart := pos + 2
		if keyLen < 6 || recStart+keyLen > len(node) {
			break
		}

		// Key: 4-byte parent CNID, then HFSUniStr255 (2-byte length + UTF-16 BE).
		nameLenChars := int(binary.BigEndian.Uint16(node[recStart+4:]))
		nameBytesLen := nameLenChars * 2
		if recStart+6+nameBytesLen > len(node) {
			break
		}
		name := decodeUTF16BE(node[recStart+6 : recStart+6+nameBytesLen])

		recordStart := recStart + keyLen
		if recordStart+2 > len(node) {
			break
		}
		recordType := binary.BigEndian.Uint16(node[recordStart:])

		if recordType == 0x0002 && recordStart+108 <= len(node) {
			logicalSize := int64(binary.BigEndian.Uint64(node[recordStart+88:]))
			startBlock := binary.BigEndian.Uint32(node[recordStart+104:])
			hits = append(hits, HFSPlusHit{
				SectorOffset: sectorOffset,
				Name:         name,
				LogicalSize:  logicalSize,
				DiskOffset:   int64(startBlock) * hfsAllocBlockSize,
			})
		}

		pos = recordStart + 2
	}
	return hits
}

func decodeUTF16BE(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// APFSHit records only the block offset of a plausible directory-record
// leaf node: it carries no filename and no file extent; extent resolution
// is left to the Signature Carver.
type APFSHit struct {
	BlockOffset int64
}

// ScanAPFS sweeps read over [start, end) at 4096-byte alignment,
// recording the presence of plausible directory-record leaf nodes.
// Filenames are not extracted because that requires a B-tree key
// decoder tied to the volume's object map, out of scope for carving.
func ScanAPFS(read func(offset int64, length int) ([]byte, error), start, end int64) ([]APFSHit, error) {
	var hits []APFSHit

	for offset := start; offset < end; offset += apfsBlockSize {
		block, err := read(offset, apfsBlockSize)
		if err != nil || len(block) < 64 {
			continue
		}

		objType := binary.LittleEndian.Uint32(block[24:28]) & 0xFFFF
		if objType != obtBTreeNodeType {
			continue
		}

		nodeFlags := binary.LittleEndian.Uint16(block[32:34])
		level := binary.LittleEndian.Uint16(block[34:36])
		if level != apfsLeafLevel || nodeFlags&apfsLeafFlag == 0 {
			continue
		}

		if containsDirRecordKey(block) {
			hits = append(hits, APFSHit{BlockOffset: offset})
		}
	}
	return hits, nil
}

func containsDirRecordKey(block []byte) bool {
	for i := 64; i+1 < len(block); i++ {
		if block[i]&0x3F == apfsDirRecordKey {
			return true
		}
	}
	return false
}

// AsRecoverableFile converts an HFS+ hit to the generic model; unlike
// most producers this carries a filename with no verified signature, so
// callers should treat it as lower confidence than a header-verified hit.
func (h HFSPlusHit) AsRecoverableFile() model.RecoverableFile {
	return model.RecoverableFile{
		DisplayName:   h.Name,
		EstimatedSize: h.LogicalSize,
		Offset:        h.DiskOffset,
		OriginPhase:   model.PhaseCarver,
	}
}
