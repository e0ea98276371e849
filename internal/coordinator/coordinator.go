// Package coordinator implements the §4.11 Scan Coordinator: the state
// machine and single event stream that drives Phase A (catalog
// scanning) followed by Phase B (signature carving), deduplicating
// results across both.
package coordinator

import (
	"context"
	"sync"

	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salvlog"
)

var log = salvlog.New("coordinator")

// CatalogProducer is a single Phase A source (a mounted-file walk, the
// trash walker, or a raw filesystem catalog scanner). It is run to
// completion, invoking onFile for every candidate it finds.
type CatalogProducer func(ctx context.Context, onFile func(model.RecoverableFile)) error

// CarverFunc runs the Signature Carver over [startOffset, end) skipping
// existingOffsets, reporting hits via onFile and granular progress via
// onProgress. It returns the next unused naming sequence number.
type CarverFunc func(ctx context.Context, existingOffsets map[int64]struct{}, startOffset int64, seq int, onFile func(model.RecoverableFile), onProgress func(fraction float64)) (nextSeq int, err error)

// Coordinator owns the single cancellation token, the append-only
// result set, and the single event channel to the UI collaborator.
type Coordinator struct {
	mu      sync.Mutex
	phase   model.ScanPhase
	results []model.RecoverableFile
	offsets map[int64]bool
	names   map[string]bool

	events    chan model.ScanEvent
	cancel    context.CancelFunc
	completed bool
}

// New constructs an idle Coordinator. Events is a buffered channel; the
// caller must drain it until it closes after Completed.
func New() *Coordinator {
	return &Coordinator{
		phase:   model.PhaseIdle,
		offsets: make(map[int64]bool),
		names:   make(map[string]bool),
		events:  make(chan model.ScanEvent, 64),
	}
}

// Events returns the single event stream. Completed is emitted exactly
// once, after which the channel is closed.
func (c *Coordinator) Events() <-chan model.ScanEvent {
	return c.events
}

// Phase returns the current state-machine phase.
func (c *Coordinator) Phase() model.ScanPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Results returns a snapshot of the append-only result set, for preview
// or selection UI.
func (c *Coordinator) Results() []model.RecoverableFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.RecoverableFile, len(c.results))
	copy(out, c.results)
	return out
}

// Resume seeds the result set from a persisted session and transitions
// directly to CatalogComplete, per §4.14.
func (c *Coordinator) Resume(sess model.ScanSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range sess.DiscoveredFiles {
		c.foldLocked(f)
	}
	c.phase = model.PhaseCatalogComplete
}

// RunCatalogAndCarve drives the full Idle -> CatalogScanning ->
// CatalogComplete -> CarverScanning -> Complete state machine. producers
// run strictly in the order given (mounted-file walk, then raw catalog
// scanner, per §5). carverStart is 0 for a fresh scan or
// session.LastScannedOffset on resume; if the Coordinator is already in
// CatalogComplete (via Resume), Phase A is skipped.
func (c *Coordinator) RunCatalogAndCarve(ctx context.Context, producers []CatalogProducer, carverStart, carverEnd int64, carve CarverFunc) {
	ctx, cancelFn := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancelFn
	alreadyResumed := c.phase == model.PhaseCatalogComplete
	c.mu.Unlock()

	if !alreadyResumed {
		c.runCatalogPhase(ctx, producers)
		if c.terminalIfCancelled(ctx) {
			return
		}
	}

	c.runCarverPhase(ctx, carverStart, carverEnd, carve)
	c.terminalIfCancelled(ctx)
	c.finish()
}

// Cancel requests cooperative cancellation. The running phase observes
// it at its next yield point and the coordinator transitions to
// Complete.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) runCatalogPhase(ctx context.Context, producers []CatalogProducer) {
	c.mu.Lock()
	c.results = nil
	c.offsets = make(map[int64]bool)
	c.names = make(map[string]bool)
	c.phase = model.PhaseCatalogScanning
	c.mu.Unlock()

	for _, produce := range producers {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := produce(ctx, func(f model.RecoverableFile) {
			c.mu.Lock()
			appended := c.foldLocked(f)
			c.mu.Unlock()
			if appended {
				c.emitFile(f)
			}
		})
		if err != nil {
			log.Errorf("catalog producer failed: %v", salvlog.Wrap(err))
			// §7: catalog-scanner failures are logged and downgraded;
			// the remaining producers and the carver still run.
		}
	}

	c.emitProgress(0.5)

	c.mu.Lock()
	if c.phase == model.PhaseCatalogScanning {
		c.phase = model.PhaseCatalogComplete
	}
	c.mu.Unlock()
}

func (c *Coordinator) runCarverPhase(ctx context.Context, start, end int64, carve CarverFunc) {
	if carve == nil {
		return
	}

	c.mu.Lock()
	c.phase = model.PhaseCarverScanning
	existing := make(map[int64]struct{}, len(c.offsets))
	for off, present := range c.offsets {
		if present && off > 0 {
			existing[off] = struct{}{}
		}
	}
	nextSeq := len(c.results) + 1
	c.mu.Unlock()

	_, err := carve(ctx, existing, start, nextSeq, func(f model.RecoverableFile) {
		c.mu.Lock()
		appended := c.foldLocked(f)
		c.mu.Unlock()
		if appended {
			c.emitFile(f)
		}
	}, func(fraction float64) {
		c.emitProgress(0.5 + fraction*0.5)
	})
	if err != nil {
		log.Errorf("carver failed: %v", salvlog.Wrap(err))
		// The error is only logged: the scan still ends with Completed,
		// and the error itself is not passed to the caller.
	}
}

func (c *Coordinator) terminalIfCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		c.finish()
		return true
	default:
		return false
	}
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	c.phase = model.PhaseComplete
	c.mu.Unlock()

	c.events <- model.ScanEvent{Kind: model.EventCompleted}
	close(c.events)
}

// foldLocked applies the §4.11 dedup rule. Caller must hold c.mu.
func (c *Coordinator) foldLocked(f model.RecoverableFile) bool {
	if f.Offset > 0 && c.offsets[f.Offset] {
		return false
	}
	if f.DisplayName != "" && c.names[f.DisplayName] {
		return false
	}
	if f.Offset > 0 {
		c.offsets[f.Offset] = true
	}
	if f.DisplayName != "" {
		c.names[f.DisplayName] = true
	}
	c.results = append(c.results, f)
	return true
}

func (c *Coordinator) emitFile(f model.RecoverableFile) {
	fc := f
	c.events <- model.ScanEvent{Kind: model.EventFileFound, File: &fc}
}

func (c *Coordinator) emitProgress(fraction float64) {
	c.events <- model.ScanEvent{Kind: model.EventProgress, Progress: fraction}
}

// Snapshot materializes a persistable ScanSession for checkpointing, per
// §4.14. lastScannedOffset is the offset the carver had reached; for a
// catalog-only or not-yet-started scan it should be 0.
func (c *Coordinator) Snapshot(id, timestampUTC, targetIdentity string, declaredCapacity, lastScannedOffset int64) model.ScanSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	files := make([]model.RecoverableFile, len(c.results))
	copy(files, c.results)
	return model.ScanSession{
		ID:                id,
		TimestampUTC:      timestampUTC,
		TargetIdentity:    targetIdentity,
		DeclaredCapacity:  declaredCapacity,
		LastScannedOffset: lastScannedOffset,
		DiscoveredFiles:   files,
	}
}
