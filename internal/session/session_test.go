package session

import (
	"testing"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	sess := model.ScanSession{
		ID:                NewID(),
		TimestampUTC:      "2026-07-30T12:00:00Z",
		TargetIdentity:    "/dev/disk2",
		DeclaredCapacity:  1024 * 1024 * 1024,
		LastScannedOffset: 4096,
		DiscoveredFiles: []model.RecoverableFile{
			{DisplayName: "Photo_2026-01-01_000000_1", Extension: "jpg", Category: model.CategoryImage, Offset: 512, OriginPhase: model.PhaseCarver},
		},
	}

	require.NoError(t, store.Save(sess))

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, loaded)
}

func TestSaveIsUpsert(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	id := NewID()
	require.NoError(t, store.Save(model.ScanSession{ID: id, LastScannedOffset: 100}))
	require.NoError(t, store.Save(model.ScanSession{ID: id, LastScannedOffset: 200}))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.EqualValues(t, 200, loaded.LastScannedOffset)
}

func TestLoadUnknownIDFails(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("does-not-exist")
	assert.Error(t, err)
}
