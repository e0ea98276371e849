package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/shubham/salvage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Coordinator) (files []model.RecoverableFile, progress []float64, completedCount int) {
	t.Helper()
	for ev := range c.Events() {
		switch ev.Kind {
		case model.EventFileFound:
			files = append(files, *ev.File)
		case model.EventProgress:
			progress = append(progress, ev.Progress)
		case model.EventCompleted:
			completedCount++
		}
	}
	return
}

func TestRunCatalogAndCarveHappyPath(t *testing.T) {
	c := New()

	catalogProducer := func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		onFile(model.RecoverableFile{DisplayName: "IMG_0001", Extension: "jpg", Offset: 1024, OriginPhase: model.PhaseCatalog})
		return nil
	}

	carve := func(ctx context.Context, existing map[int64]struct{}, start int64, seq int, onFile func(model.RecoverableFile), onProgress func(float64)) (int, error) {
		_, alreadySeen := existing[1024]
		assert.True(t, alreadySeen, "catalog offset should have been folded into existingOffsets before carving")

		onProgress(0.5)
		onFile(model.RecoverableFile{DisplayName: "recovered_0002", Extension: "png", Offset: 2048, OriginPhase: model.PhaseCarver})
		onProgress(1.0)
		return seq + 1, nil
	}

	done := make(chan struct{})
	go func() {
		c.RunCatalogAndCarve(context.Background(), []CatalogProducer{catalogProducer}, 0, 0, carve)
		close(done)
	}()

	files, progress, completedCount := drain(t, c)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCatalogAndCarve did not return")
	}

	require.Len(t, files, 2)
	assert.Equal(t, "IMG_0001", files[0].DisplayName)
	assert.Equal(t, "recovered_0002", files[1].DisplayName)
	assert.Equal(t, 1, completedCount, "Completed must be emitted exactly once")
	require.NotEmpty(t, progress)
	assert.Equal(t, model.PhaseComplete, c.Phase())

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.LessOrEqual(t, progress[len(progress)-1], 1.0)
}

func TestDedupSkipsRepeatedOffsetAndName(t *testing.T) {
	c := New()

	catalogProducer := func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		onFile(model.RecoverableFile{DisplayName: "a", Extension: "jpg", Offset: 100})
		onFile(model.RecoverableFile{DisplayName: "b", Extension: "jpg", Offset: 100}) // dup offset
		onFile(model.RecoverableFile{DisplayName: "a", Extension: "png", Offset: 200}) // dup name
		return nil
	}

	go c.RunCatalogAndCarve(context.Background(), []CatalogProducer{catalogProducer}, 0, 0, nil)

	files, _, completedCount := drain(t, c)

	assert.Len(t, files, 1)
	assert.Equal(t, 1, completedCount)
}

func TestCancelDuringCatalogPhaseStopsBeforeCarver(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	blockingProducer := func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	carveCalled := false
	carve := func(ctx context.Context, existing map[int64]struct{}, start int64, seq int, onFile func(model.RecoverableFile), onProgress func(float64)) (int, error) {
		carveCalled = true
		return seq, nil
	}

	go c.RunCatalogAndCarve(ctx, []CatalogProducer{blockingProducer}, 0, 0, carve)

	_, _, completedCount := drain(t, c)

	assert.Equal(t, 1, completedCount)
	assert.False(t, carveCalled, "carver must not run after cancellation during catalog phase")
	assert.Equal(t, model.PhaseComplete, c.Phase())
}

func TestResumeSeedsResultsAndSkipsCatalogPhase(t *testing.T) {
	c := New()
	seed := model.ScanSession{
		DiscoveredFiles: []model.RecoverableFile{
			{DisplayName: "seeded", Extension: "jpg", Offset: 4096, OriginPhase: model.PhaseCatalog},
		},
	}
	c.Resume(seed)
	assert.Equal(t, model.PhaseCatalogComplete, c.Phase())

	catalogCalled := false
	catalogProducer := func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		catalogCalled = true
		return nil
	}
	carve := func(ctx context.Context, existing map[int64]struct{}, start int64, seq int, onFile func(model.RecoverableFile), onProgress func(float64)) (int, error) {
		_, ok := existing[4096]
		assert.True(t, ok)
		return seq, nil
	}

	go c.RunCatalogAndCarve(context.Background(), []CatalogProducer{catalogProducer}, seed.LastScannedOffset, 0, carve)
	_, _, completedCount := drain(t, c)

	assert.False(t, catalogCalled, "resumed coordinator must skip Phase A producers")
	assert.Equal(t, 1, completedCount)

	results := c.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "seeded", results[0].DisplayName)
}

func TestSnapshotReflectsCurrentResults(t *testing.T) {
	c := New()
	catalogProducer := func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		onFile(model.RecoverableFile{DisplayName: "x", Offset: 10})
		return nil
	}
	go c.RunCatalogAndCarve(context.Background(), []CatalogProducer{catalogProducer}, 0, 0, nil)
	drain(t, c)

	snap := c.Snapshot("sess-1", "2026-07-30T00:00:00Z", "/dev/disk2", 1<<30, 10)
	assert.Equal(t, "sess-1", snap.ID)
	require.Len(t, snap.DiscoveredFiles, 1)
	assert.Equal(t, "x", snap.DiscoveredFiles[0].DisplayName)
}
