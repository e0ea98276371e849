package fat32

import (
	"encoding/binary"
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memReader is a minimal blockreader.Reader over an in-memory image,
// sized for the scenario-1 image from §8.
type memReader struct {
	data []byte
}

func (m *memReader) IsSeekable() bool { return true }
func (m *memReader) Start() error     { return nil }
func (m *memReader) Stop() error      { return nil }
func (m *memReader) Size() int64      { return int64(len(m.data)) }
func (m *memReader) Read(dst []byte, offset int64, length int) (int, error) {
	n := copy(dst[:length], m.data[offset:])
	return n, nil
}

// buildScenario1Image constructs the §8 scenario-1 FAT32 image: BPB with
// bytes/sector 512, sectors/cluster 1, reserved 32, 2 FATs, 256
// sectors/FAT; one root-cluster directory entry marked deleted with
// short name "EST     JPG", starting cluster 5, size 4096; cluster 5
// begins with a JPEG header; FAT[5] == 0.
func buildScenario1Image() []byte {
	const bytesPerSector = 512
	const sectorsPerCluster = 1
	const reserved = 32
	const numFATs = 2
	const sectorsPerFAT = 256
	const rootCluster = 2

	fatStart := reserved * bytesPerSector
	fatSizeBytes := sectorsPerFAT * bytesPerSector
	dataRegion := fatStart + numFATs*fatSizeBytes
	clusterSize := sectorsPerCluster * bytesPerSector

	totalSize := dataRegion + clusterSize*10
	img := make([]byte, totalSize)

	binary.LittleEndian.PutUint16(img[11:13], bytesPerSector)
	img[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(img[14:16], reserved)
	img[16] = numFATs
	binary.LittleEndian.PutUint32(img[32:36], uint32(totalSize/bytesPerSector))
	binary.LittleEndian.PutUint32(img[36:40], sectorsPerFAT)
	binary.LittleEndian.PutUint32(img[44:48], rootCluster)
	img[510] = 0x55
	img[511] = 0xAA

	setFATEntry := func(fatTableStart int, cluster int, value uint32) {
		binary.LittleEndian.PutUint32(img[fatTableStart+cluster*4:], value)
	}
	setFATEntry(fatStart, rootCluster, 0x0FFFFFF8)
	setFATEntry(fatStart+fatSizeBytes, rootCluster, 0x0FFFFFF8)
	setFATEntry(fatStart, 5, 0x00000000)
	setFATEntry(fatStart+fatSizeBytes, 5, 0x00000000)

	rootOffset := dataRegion + (rootCluster-2)*clusterSize
	entry := img[rootOffset : rootOffset+32]
	entry[0] = 0xE5
	copy(entry[1:11], []byte("EST     JPG")[1:])
	binary.LittleEndian.PutUint16(entry[20:22], 0)
	binary.LittleEndian.PutUint16(entry[26:28], 5)
	binary.LittleEndian.PutUint32(entry[28:32], 4096)

	cluster5Offset := dataRegion + (5-2)*clusterSize
	copy(img[cluster5Offset:], []byte{0xFF, 0xD8, 0xFF, 0xE0})

	return img
}

func TestScanScenario1SingleDeletedJPEG(t *testing.T) {
	img := buildScenario1Image()
	reader := &memReader{data: img}

	scanner, err := Open(reader)
	require.NoError(t, err)

	var found []model.RecoverableFile
	err = scanner.Scan(func(f model.RecoverableFile) { found = append(found, f) })
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "jpg", found[0].Extension)
	assert.Equal(t, int64(4096), found[0].EstimatedSize)
	assert.Equal(t, model.PhaseCatalog, found[0].OriginPhase)

	const bytesPerSector, sectorsPerCluster, reserved, numFATs, sectorsPerFAT = 512, 1, 32, 2, 256
	dataRegion := (reserved + numFATs*sectorsPerFAT) * bytesPerSector
	wantOffset := int64(dataRegion + (5-2)*sectorsPerCluster*bytesPerSector)
	assert.Equal(t, wantOffset, found[0].Offset)
}

func TestOpenRejectsBadSignature(t *testing.T) {
	img := make([]byte, 1024)
	_, err := Open(&memReader{data: img})
	assert.Error(t, err)
}

func TestClusterBelow2NeverEmitted(t *testing.T) {
	img := buildScenario1Image()
	// Overwrite the entry's first cluster to 1, an invalid value.
	const bytesPerSector, reserved, numFATs, sectorsPerFAT = 512, 32, 2, 256
	dataRegion := reserved*bytesPerSector + numFATs*sectorsPerFAT*bytesPerSector
	entry := img[dataRegion : dataRegion+32]
	binary.LittleEndian.PutUint16(entry[26:28], 1)

	scanner, err := Open(&memReader{data: img})
	require.NoError(t, err)

	var found []model.RecoverableFile
	err = scanner.Scan(func(f model.RecoverableFile) { found = append(found, f) })
	require.NoError(t, err)
	assert.Empty(t, found)
}
