package trashwalk

import (
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrashRootsIncludesHomeTrashOnBootVolume(t *testing.T) {
	roots := TrashRoots("/Volumes/Data", true, "/Users/me/.Trash")
	assert.Contains(t, roots, "/Volumes/Data/.Trashes")
	assert.Contains(t, roots, "/Volumes/Data/.Trash")
	assert.Contains(t, roots, "/Users/me/.Trash")
}

func TestTrashRootsOmitsHomeTrashOnDataVolume(t *testing.T) {
	roots := TrashRoots("/Volumes/Data", false, "/Users/me/.Trash")
	assert.NotContains(t, roots, "/Users/me/.Trash")
}

func TestWalkTrashVerifiesSignatureAndEmits(t *testing.T) {
	fakeIterate := func(root string, visit func(Candidate) bool) error {
		visit(Candidate{RelativePath: "deleted.png", Size: 42, Header: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}})
		visit(Candidate{RelativePath: "not_an_image.txt", Size: 10, Header: []byte("plain text")})
		return nil
	}

	var found []model.RecoverableFile
	err := WalkTrash([]string{"/Volumes/Data/.Trashes"}, fakeIterate, func(f model.RecoverableFile) { found = append(found, f) })
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "png", found[0].Extension)
	assert.Equal(t, "deleted", found[0].DisplayName)
	assert.Equal(t, int64(0), found[0].Offset)
}

func TestWalkAPFSSnapshotsSkipsFilesPresentOnLiveVolume(t *testing.T) {
	list := func(volume string) ([]string, error) { return []string{"snap1", "snap2", "snap3", "snap4"}, nil }
	mount := func(volume, snapshot string) (string, error) { return "/tmp/" + snapshot, nil }
	unmounted := []string{}
	unmount := func(mountPoint string) error { unmounted = append(unmounted, mountPoint); return nil }

	iterate := func(root string, visit func(Candidate) bool) error {
		visit(Candidate{RelativePath: "live.jpg", Size: 1, Header: []byte{0xFF, 0xD8, 0xFF}})
		visit(Candidate{RelativePath: "orphan.jpg", Size: 2, Header: []byte{0xFF, 0xD8, 0xFF}})
		return nil
	}

	live := map[string]bool{"live.jpg": true}

	var found []model.RecoverableFile
	err := WalkAPFSSnapshots("/Volumes/Data", live, list, mount, unmount, iterate, func(f model.RecoverableFile) { found = append(found, f) })
	require.NoError(t, err)

	// Only the most recent 3 snapshots are considered, each surfacing the
	// one orphaned file.
	assert.Len(t, found, 3)
	for _, f := range found {
		assert.Equal(t, "orphan", f.DisplayName)
	}
	assert.Len(t, unmounted, 3)
}
