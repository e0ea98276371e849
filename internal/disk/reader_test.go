package disk

import (
	"errors"
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	data []byte
}

func (f *fakeReader) IsSeekable() bool { return true }
func (f *fakeReader) Start() error     { return nil }
func (f *fakeReader) Stop() error      { return nil }
func (f *fakeReader) Size() int64      { return int64(len(f.data)) }

func (f *fakeReader) Read(dst []byte, offset int64, length int) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, errors.New("eof")
	}
	n := copy(dst[:length], f.data[offset:])
	return n, nil
}

func probe(size int) []byte { return make([]byte, size) }

func TestDetectFilesystemNTFS(t *testing.T) {
	buf := probe(4096)
	copy(buf[3:], "NTFS    ")
	fs, err := DetectFilesystem(&fakeReader{data: buf})
	require.NoError(t, err)
	assert.Equal(t, model.FSNTFS, fs)
}

func TestDetectFilesystemExFAT(t *testing.T) {
	buf := probe(4096)
	copy(buf[3:], "EXFAT   ")
	fs, err := DetectFilesystem(&fakeReader{data: buf})
	require.NoError(t, err)
	assert.Equal(t, model.FSExFAT, fs)
}

func TestDetectFilesystemFAT32AtOffset82(t *testing.T) {
	buf := probe(4096)
	copy(buf[82:], "FAT32")
	fs, err := DetectFilesystem(&fakeReader{data: buf})
	require.NoError(t, err)
	assert.Equal(t, model.FSFAT32, fs)
}

func TestDetectFilesystemFAT32AtOffset54(t *testing.T) {
	buf := probe(4096)
	copy(buf[54:], "FAT32")
	fs, err := DetectFilesystem(&fakeReader{data: buf})
	require.NoError(t, err)
	assert.Equal(t, model.FSFAT32, fs)
}

func TestDetectFilesystemUnknown(t *testing.T) {
	_, err := DetectFilesystem(&fakeReader{data: probe(4096)})
	assert.ErrorIs(t, err, ErrUnknownFilesystem)
}
