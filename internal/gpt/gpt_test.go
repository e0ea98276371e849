package gpt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader struct{ data []byte }

func (m *memReader) IsSeekable() bool { return true }
func (m *memReader) Start() error     { return nil }
func (m *memReader) Stop() error      { return nil }
func (m *memReader) Size() int64      { return int64(len(m.data)) }
func (m *memReader) Read(dst []byte, offset int64, length int) (int, error) {
	n := copy(dst[:length], m.data[offset:])
	return n, nil
}

// buildScenario6Image builds the §8 scenario-6 image: protective MBR with
// 0x55AA at 510 and type 0xEE, GPT header at LBA 1 with "EFI PART", 128
// entries of 128 bytes at LBA 2, first entry non-zero Type GUID with
// first_lba=40, last_lba=2000.
func buildScenario6Image() []byte {
	const sectorSize = 512
	totalSize := sectorSize * 2100
	img := make([]byte, totalSize)

	img[450] = 0xEE // protective MBR partition-type byte (offset 446+4)
	img[510] = 0x55
	img[511] = 0xAA

	header := img[sectorSize : sectorSize*2]
	copy(header[0:8], []byte("EFI PART"))
	binary.LittleEndian.PutUint64(header[72:80], 2)   // entries LBA
	binary.LittleEndian.PutUint32(header[80:84], 128) // num entries
	binary.LittleEndian.PutUint32(header[84:88], 128) // entry size

	entryTable := img[sectorSize*2:]
	entry0 := entryTable[0:128]
	copy(entry0[0:16], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	binary.LittleEndian.PutUint64(entry0[32:40], 40)
	binary.LittleEndian.PutUint64(entry0[40:48], 2000)

	return img
}

func TestSearchScenario6(t *testing.T) {
	img := buildScenario6Image()
	targets, err := Search(&memReader{data: img}, "/dev/disk2")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, int64(20480), targets[0].PartitionOffset)
	assert.Equal(t, int64(1004032), targets[0].DeclaredSize) // (2000-40+1) * 512
}

func TestSearchRejectsMissingSignature(t *testing.T) {
	img := make([]byte, 4096)
	_, err := Search(&memReader{data: img}, "/dev/disk2")
	assert.Error(t, err)
}
