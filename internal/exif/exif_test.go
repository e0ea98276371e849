package exif

import (
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedReader(data []byte) Reader {
	return func(offset int64, length int) ([]byte, error) {
		if offset >= int64(len(data)) {
			return nil, nil
		}
		end := int(offset) + length
		if end > len(data) {
			end = len(data)
		}
		return data[offset:end], nil
	}
}

func TestFindDateTimeOriginal(t *testing.T) {
	buf := make([]byte, 200)
	copy(buf[50:], []byte("2024:03:17 08:45:12"))

	dt, ok := FindDateTimeOriginal(fixedReader(buf), 0)
	require.True(t, ok)
	assert.Equal(t, "2024:03:17 08:45:12", dt)
}

func TestFindDateTimeOriginalRejectsMalformed(t *testing.T) {
	buf := make([]byte, 200)
	copy(buf[50:], []byte("2024-03-17 08:45:12")) // wrong separators

	_, ok := FindDateTimeOriginal(fixedReader(buf), 0)
	assert.False(t, ok)
}

func TestPhotoName(t *testing.T) {
	assert.Equal(t, "Photo_2024-03-17_084512_7", PhotoName("2024:03:17 08:45:12", 7))
}

func TestDefaultPrefix(t *testing.T) {
	assert.Equal(t, "GOPR", DefaultPrefix(model.ProfileGoPro))
	assert.Equal(t, "IMG_", DefaultPrefix(model.ProfileCanon))
	assert.Equal(t, "DSC0", DefaultPrefix(model.ProfileSony))
	assert.Equal(t, "DJI_", DefaultPrefix(model.ProfileDJI))
	assert.Equal(t, "recovered_", DefaultPrefix(model.ProfileGeneric))
}

func TestGenerateNameFallsBackToPrefix(t *testing.T) {
	buf := make([]byte, 200)
	name := GenerateName(fixedReader(buf), 0, model.CategoryImage, model.ProfileGoPro, 3)
	assert.Equal(t, "GOPR0003", name)
}

func TestGenerateNamePrefersExifDate(t *testing.T) {
	buf := make([]byte, 200)
	copy(buf[10:], []byte("2023:01:02 03:04:05"))
	name := GenerateName(fixedReader(buf), 0, model.CategoryImage, model.ProfileGoPro, 9)
	assert.Equal(t, "Photo_2023-01-02_030405_9", name)
}

func TestPromoteSignatureCanonAlwaysOn(t *testing.T) {
	tiff, _ := newTIFFSignature(t)
	header := []byte{0x49, 0x49, 0x2A, 0x00, 0, 0, 0, 0, 'C', 'R'}
	got := PromoteSignature(header, model.ProfileGeneric, tiff)
	assert.Equal(t, "cr2", got.Extension)
}

func TestPromoteSignatureSonyAndDJI(t *testing.T) {
	tiff, _ := newTIFFSignature(t)
	header := []byte{0x49, 0x49, 0x2A, 0x00, 0, 0, 0, 0, 0, 0}

	sony := PromoteSignature(header, model.ProfileSony, tiff)
	assert.Equal(t, "arw", sony.Extension)

	dji := PromoteSignature(header, model.ProfileDJI, tiff)
	assert.Equal(t, "dng", dji.Extension)

	generic := PromoteSignature(header, model.ProfileGeneric, tiff)
	assert.Equal(t, "tiff", generic.Extension)
}

func newTIFFSignature(t *testing.T) (model.Signature, bool) {
	t.Helper()
	return model.Signature{Extension: "tiff", Category: model.CategoryImage}, true
}
