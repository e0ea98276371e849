package apfshfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanHFSPlusDecodesCatalogFile(t *testing.T) {
	node := make([]byte, 4096)
	node[8] = btLeafKind
	node[9] = btLeafHeight
	binary.BigEndian.PutUint16(node[10:12], 1) // numRecords
	binary.BigEndian.PutUint16(node[12:14], 0) // reserved

	pos := 14
	name := []rune("recovered.jpg")
	keyLen := 4 + 2 + len(name)*2
	binary.BigEndian.PutUint16(node[pos:], uint16(keyLen))
	recStart := pos + 2
	binary.BigEndian.PutUint32(node[recStart:], 123) // parent CNID
	binary.BigEndian.PutUint16(node[recStart+4:], uint16(len(name)))
	for i, r := range name {
		binary.BigEndian.PutUint16(node[recStart+6+i*2:], uint16(r))
	}

	recordStart := recStart + keyLen
	binary.BigEndian.PutUint16(node[recordStart:], 0x0002) // HFSPlusCatalogFile
	binary.BigEndian.PutUint64(node[recordStart+88:], 54321)
	binary.BigEndian.PutUint32(node[recordStart+104:], 10)

	stream := make([]byte, 512*20)
	copy(stream[512*3:], node)

	read := func(offset int64, length int) ([]byte, error) {
		end := int(offset) + length
		if end > len(stream) {
			end = len(stream)
		}
		return stream[offset:end], nil
	}

	hits, err := ScanHFSPlus(read, 0, int64(len(stream)))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "recovered.jpg", hits[0].Name)
	assert.EqualValues(t, 54321, hits[0].LogicalSize)
	assert.EqualValues(t, 10*hfsAllocBlockSize, hits[0].DiskOffset)
}

func TestScanAPFSFindsLeafWithDirRecordKey(t *testing.T) {
	block := make([]byte, apfsBlockSize)
	binary.LittleEndian.PutUint32(block[24:28], obtBTreeNodeType)
	binary.LittleEndian.PutUint16(block[32:34], apfsLeafFlag)
	binary.LittleEndian.PutUint16(block[34:36], apfsLeafLevel)
	block[100] = apfsDirRecordKey

	stream := make([]byte, apfsBlockSize*5)
	copy(stream[apfsBlockSize*2:], block)

	read := func(offset int64, length int) ([]byte, error) {
		end := int(offset) + length
		if end > len(stream) {
			end = len(stream)
		}
		return stream[offset:end], nil
	}

	hits, err := ScanAPFS(read, 0, int64(len(stream)))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(apfsBlockSize*2), hits[0].BlockOffset)
}
