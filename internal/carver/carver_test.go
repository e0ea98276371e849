package carver

import (
	"context"
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memReader(stream []byte) Reader {
	return func(offset int64, length int) ([]byte, error) {
		if offset >= int64(len(stream)) {
			return nil, nil
		}
		end := int(offset) + length
		if end > len(stream) {
			end = len(stream)
		}
		return stream[offset:end], nil
	}
}

// TestScanSynthesizedImage is scenario 3 from §8: three headers scattered
// across a 1 MiB image, none pre-existing.
func TestScanSynthesizedImage(t *testing.T) {
	stream := make([]byte, 1024*1024)
	copy(stream[0:], []byte{0xFF, 0xD8, 0xFF, 0xE0})
	copy(stream[131072:], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	copy(stream[524288:], []byte{0xFF, 0xD8, 0xFF, 0xE0})

	var found []model.RecoverableFile
	_, err := Scan(context.Background(), memReader(stream), 0, int64(len(stream)), 0, Options{
		OnFile: func(f model.RecoverableFile) { found = append(found, f) },
	})
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, int64(0), found[0].Offset)
	assert.Equal(t, "jpg", found[0].Extension)
	assert.Equal(t, int64(131072), found[1].Offset)
	assert.Equal(t, "png", found[1].Extension)
	assert.Equal(t, int64(524288), found[2].Offset)
	assert.Equal(t, "jpg", found[2].Extension)
}

// TestScanDedupAcrossPhases is scenario 5 from §8.
func TestScanDedupAcrossPhases(t *testing.T) {
	stream := make([]byte, 1024*1024)
	copy(stream[524288:], []byte{0xFF, 0xD8, 0xFF, 0xE0})

	var found []model.RecoverableFile
	_, err := Scan(context.Background(), memReader(stream), 0, int64(len(stream)), 0, Options{
		ExistingOffsets: map[int64]struct{}{524288: {}},
		OnFile:          func(f model.RecoverableFile) { found = append(found, f) },
	})
	require.NoError(t, err)
	assert.Empty(t, found)
}

// TestScanHeaderAtLastSectorBeforeChunkBoundary: a JPEG header placed
// exactly at the last sector before a 128 KiB chunk boundary must still be
// matched exactly once, not again when the next chunk is swept.
func TestScanHeaderAtLastSectorBeforeChunkBoundary(t *testing.T) {
	stream := make([]byte, 3*chunkSize)
	headerOffset := int64(chunkSize) - sectorSize
	copy(stream[headerOffset:], []byte{0xFF, 0xD8, 0xFF, 0xE0})

	var found []model.RecoverableFile
	_, err := Scan(context.Background(), memReader(stream), 0, int64(len(stream)), 0, Options{
		OnFile: func(f model.RecoverableFile) { found = append(found, f) },
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, headerOffset, found[0].Offset)
}

func TestScanCancellation(t *testing.T) {
	stream := make([]byte, 1024*1024)
	copy(stream[524288:], []byte{0xFF, 0xD8, 0xFF, 0xE0})

	called := false
	_, err := Scan(context.Background(), memReader(stream), 0, int64(len(stream)), 0, Options{
		Cancelled: func() bool {
			if called {
				return true
			}
			called = true
			return false
		},
	})
	require.Error(t, err)
}

func TestScanProgressIsNonDecreasing(t *testing.T) {
	stream := make([]byte, 1024*1024)
	var last float64 = -1
	_, err := Scan(context.Background(), memReader(stream), 0, int64(len(stream)), 0, Options{
		OnProgress: func(fraction float64) {
			assert.GreaterOrEqual(t, fraction, last)
			last = fraction
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), last)
}
