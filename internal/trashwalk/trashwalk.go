// Package trashwalk implements the §4.13 Trash/Snapshot Walker: a
// mounted-volume-side Phase A producer. The core never touches the OS
// filesystem directly — callers inject a path iterator (and, for APFS
// targets, a snapshot-lifecycle capability) so the walker stays testable
// with fakes, per §9's "Ad-hoc inheritance of services" redesign note.
package trashwalk

import (
	"strings"

	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/sigreg"
)

// Candidate is one entry yielded by a PathIterator: a relative path, its
// size, and enough leading bytes to verify a signature.
type Candidate struct {
	RelativePath string
	Size         int64
	Header       []byte
}

// PathIterator enumerates candidates under a root the caller already
// resolved (a .Trashes/.Trash directory, or a snapshot mount point). The
// core never calls os.ReadDir or similar directly.
type PathIterator func(root string, visit func(Candidate) bool) error

// SnapshotLister, SnapshotMounter and SnapshotUnmounter are the
// injectable OS primitives named in §6 for APFS snapshot enumeration.
type SnapshotLister func(volume string) ([]string, error)
type SnapshotMounter func(volume, snapshot string) (mountPoint string, err error)
type SnapshotUnmounter func(mountPoint string) error

const maxSnapshotsConsidered = 3

// TrashRoots returns the standard trash directories to walk for volume,
// plus (for the boot volume) the current user's home trash.
func TrashRoots(volumeRoot string, isBootVolume bool, homeTrash string) []string {
	roots := []string{
		join(volumeRoot, ".Trashes"),
		join(volumeRoot, ".Trash"),
	}
	if isBootVolume && homeTrash != "" {
		roots = append(roots, homeTrash)
	}
	return roots
}

func join(a, b string) string {
	if strings.HasSuffix(a, "/") {
		return a + b
	}
	return a + "/" + b
}

// WalkTrash iterates every root with iterate, verifying each candidate's
// header against the Signature Registry for its declared extension and
// emitting a RecoverableFile with offset 0 (path-located) for every hit.
func WalkTrash(roots []string, iterate PathIterator, onFile func(model.RecoverableFile)) error {
	for _, root := range roots {
		err := iterate(root, func(c Candidate) bool {
			if sig, ok := verifyExtension(c.RelativePath, c.Header); ok {
				onFile(model.RecoverableFile{
					DisplayName:   baseName(c.RelativePath),
					Extension:     sig.Extension,
					Category:      sig.Category,
					EstimatedSize: c.Size,
					Offset:        0,
					Signature:     sig,
					OriginPhase:   model.PhaseCatalog,
					OriginalPath:  join(root, c.RelativePath),
				})
			}
			return true
		})
		if err != nil {
			continue // per-root failures never abort the phase
		}
	}
	return nil
}

// WalkAPFSSnapshots mounts up to the most recent 3 local snapshots of
// volume read-only, enumerates media files present in the snapshot but
// absent from the live volume (by relative path, determined by
// liveRelativePaths), then unmounts. Every OS interaction is injected.
func WalkAPFSSnapshots(
	volume string,
	liveRelativePaths map[string]bool,
	list SnapshotLister,
	mount SnapshotMounter,
	unmount SnapshotUnmounter,
	iterate PathIterator,
	onFile func(model.RecoverableFile),
) error {
	snapshots, err := list(volume)
	if err != nil {
		return nil // downgraded to "produced no results", per §7
	}
	if len(snapshots) > maxSnapshotsConsidered {
		snapshots = snapshots[:maxSnapshotsConsidered]
	}

	for _, snap := range snapshots {
		mountPoint, err := mount(volume, snap)
		if err != nil {
			continue
		}

		_ = iterate(mountPoint, func(c Candidate) bool {
			if liveRelativePaths[c.RelativePath] {
				return true // exists on the live volume, not an orphan
			}
			if sig, ok := verifyExtension(c.RelativePath, c.Header); ok {
				onFile(model.RecoverableFile{
					DisplayName:   baseName(c.RelativePath),
					Extension:     sig.Extension,
					Category:      sig.Category,
					EstimatedSize: c.Size,
					Offset:        0,
					Signature:     sig,
					OriginPhase:   model.PhaseCatalog,
					OriginalPath:  join(mountPoint, c.RelativePath),
				})
			}
			return true
		})

		_ = unmount(mountPoint)
	}
	return nil
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		path = path[idx+1:]
	}
	if dot := strings.LastIndexByte(path, '.'); dot >= 0 {
		return path[:dot]
	}
	return path
}

func verifyExtension(path string, header []byte) (model.Signature, bool) {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return model.Signature{}, false
	}
	ext := strings.ToLower(path[dot+1:])
	sig, ok := sigreg.Lookup(ext)
	if !ok {
		return model.Signature{}, false
	}
	if len(sig.Prefix) == 0 {
		matched, ok := sigreg.Match(header)
		return matched, ok && matched.Extension == sig.Extension
	}
	if len(header) < len(sig.Prefix) {
		return model.Signature{}, false
	}
	for i, b := range sig.Prefix {
		if header[i] != b {
			return model.Signature{}, false
		}
	}
	return sig, true
}
