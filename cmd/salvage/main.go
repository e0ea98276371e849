package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/shubham/salvage/internal/apfshfs"
	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/carver"
	"github.com/shubham/salvage/internal/coordinator"
	"github.com/shubham/salvage/internal/disk"
	"github.com/shubham/salvage/internal/exfat"
	"github.com/shubham/salvage/internal/fat32"
	"github.com/shubham/salvage/internal/gpt"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/ntfs"
	"github.com/shubham/salvage/internal/profile"
	"github.com/shubham/salvage/internal/session"
	"github.com/shubham/salvage/internal/sigreg"
	"github.com/shubham/salvage/internal/trashwalk"
)

func main() {
	var (
		device      = flag.String("device", "", "Path to device or image file (e.g., /dev/sdb1, disk.img)")
		outputDir   = flag.String("output", "./recovered", "Output directory for extracted files")
		fsType      = flag.String("fs", "auto", "Filesystem type: auto, ntfs, fat32, exfat")
		scanOnly    = flag.Bool("scan", false, "Scan only, don't extract files")
		carveMode   = flag.Bool("carve", true, "Also run the signature carver over the whole target (Phase B)")
		profileFlag = flag.String("profile", "generic", "Camera profile: generic, goPro, canon, sony, dji")
		profileFile = flag.String("profile-file", "", "Optional YAML camera-profile override file (see internal/profile)")
		resumeID    = flag.String("resume", "", "Resume a previously saved scan session by id")
		sessionDir  = flag.String("session-dir", ".", "Directory holding the session store (sessions.db)")
		mountPath   = flag.String("mount", "", "Mounted volume root to also walk .Trashes/.Trash from (§4.13); optional")
	)
	flag.Parse()

	if *device == "" {
		fmt.Println("Usage: salvage -device <path> [-output <dir>] [-fs <type>] [-profile <name>]")
		fmt.Println("\nExamples:")
		fmt.Println("  salvage -device /dev/sdb1 -output ./recovered")
		fmt.Println("  salvage -device disk.img -fs ntfs -scan")
		fmt.Println("  salvage -device /dev/sdb1 -profile goPro")
		os.Exit(1)
	}

	if err := run(*device, *outputDir, *fsType, *scanOnly, *carveMode, *profileFlag, *profileFile, *resumeID, *sessionDir, *mountPath); err != nil {
		fmt.Fprintf(os.Stderr, "salvage: %v\n", err)
		os.Exit(1)
	}
}

func run(device, outputDir, fsType string, scanOnly, carveMode bool, profileFlag, profileFile, resumeID, sessionDir, mountPath string) error {
	reader := blockreader.NewDirect(device)
	if err := reader.Start(); err != nil {
		return fmt.Errorf("open %q: %w", device, err)
	}
	defer reader.Stop()

	camProfile, err := resolveProfile(profileFlag, profileFile, device)
	if err != nil {
		return err
	}

	store, err := session.Open(filepath.Join(sessionDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	coord := coordinator.New()
	sessID := resumeID
	var carverStart int64

	if resumeID != "" {
		sess, err := store.Load(resumeID)
		if err != nil {
			return fmt.Errorf("load session %q: %w", resumeID, err)
		}
		coord.Resume(sess)
		carverStart = sess.LastScannedOffset
		fmt.Printf("Resuming session %s (%d files already discovered)\n", resumeID, len(sess.DiscoveredFiles))
	} else {
		sessID = session.NewID()
	}

	hint, hintErr := resolveFilesystemHint(fsType, reader)
	declaredSize := reader.Size()

	if hintErr != nil && strings.ToLower(fsType) == "auto" {
		if targets, gerr := gpt.Search(reader, device); gerr == nil && len(targets) > 0 {
			fmt.Printf("No recognized filesystem on %s; GPT reports %d partitions — scanning each.\n", device, len(targets))
			return runPartitions(reader, device, targets, camProfile, carveMode, scanOnly, outputDir)
		}
		fmt.Fprintf(os.Stderr, "Could not detect filesystem, falling back to whole-device carving only: %v\n", hintErr)
	} else if hintErr != nil {
		fmt.Fprintf(os.Stderr, "Could not detect filesystem, falling back to carving only: %v\n", hintErr)
	} else {
		fmt.Printf("Filesystem: %s\n", hint)
	}

	var producers []coordinator.CatalogProducer
	if !carveModeOnly(hint) {
		producers = append(producers, catalogProducerFor(hint, reader))
	}
	if mountPath != "" {
		producers = append(producers, trashWalkProducer(mountPath))
	}

	carve := carverAdapter(reader, declaredSize, camProfile, carveMode, hint)

	if scanOnly {
		outputDir = ""
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		fmt.Println("\nCancelling...")
		coord.Cancel()
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		coord.RunCatalogAndCarve(ctx, producers, carverStart, declaredSize, carve)
		close(done)
	}()

	count, lastOffset := consumeEvents(coord, reader, outputDir)
	<-done

	sess := coord.Snapshot(sessID, session.NowUTC(), device, declaredSize, lastOffset)
	if err := store.Save(sess); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not save session %s: %v\n", sessID, err)
	} else {
		fmt.Printf("Session saved as %s (resume with -resume %s)\n", sessID, sessID)
	}

	fmt.Printf("\nRecovery complete. Found %d deleted files (%s scanned).\n", count, humanize.Bytes(uint64(declaredSize)))
	return nil
}

// offsetReader adapts a whole-disk blockreader.Reader into a view scoped to
// one GPT partition: reads are rebased onto the partition's first byte, and
// Size reports the partition's declared size rather than the disk's.
type offsetReader struct {
	blockreader.Reader
	base int64
	size int64
}

func (o offsetReader) Read(dst []byte, offset int64, length int) (int, error) {
	return o.Reader.Read(dst, o.base+offset, length)
}

func (o offsetReader) Size() int64 { return o.size }

// runPartitions scans every partition gpt.Search found on a whole disk
// whose own boot sector didn't match a recognized filesystem. Each
// partition gets its own coordinator and filesystem-hint probe. No session
// is saved for a run that goes through this path.
func runPartitions(reader blockreader.Reader, device string, targets []model.Target, camProfile model.CameraProfile, carveMode, scanOnly bool, outputDir string) error {
	total := 0
	for i, t := range targets {
		sub := offsetReader{Reader: reader, base: t.PartitionOffset, size: t.DeclaredSize}
		hint, err := disk.DetectFilesystem(sub)
		if err != nil {
			hint = t.FilesystemHint
		}
		fmt.Printf("Partition %d at %d (%s): filesystem %s\n", i, t.PartitionOffset, humanize.Bytes(uint64(t.DeclaredSize)), hint)

		partOutputDir := outputDir
		if outputDir != "" && !scanOnly {
			partOutputDir = filepath.Join(outputDir, fmt.Sprintf("partition%d", i))
		}

		coord := coordinator.New()
		var producers []coordinator.CatalogProducer
		if !carveModeOnly(hint) {
			producers = append(producers, catalogProducerFor(hint, sub))
		}
		carve := carverAdapter(sub, t.DeclaredSize, camProfile, carveMode, hint)
		if scanOnly {
			partOutputDir = ""
		}

		ctx := context.Background()
		done := make(chan struct{})
		go func() {
			coord.RunCatalogAndCarve(ctx, producers, 0, t.DeclaredSize, carve)
			close(done)
		}()
		count, _ := consumeEvents(coord, sub, partOutputDir)
		<-done
		total += count
	}

	fmt.Printf("\nRecovery complete across %d partitions. Found %d deleted files total.\n", len(targets), total)
	return nil
}

// trashWalkProducer adapts the §4.13 Trash/Snapshot Walker to the
// coordinator's uniform CatalogProducer shape, using a real filepath.WalkDir-based
// PathIterator — the core package itself never touches the filesystem, but
// the CLI collaborator it's injected into may.
func trashWalkProducer(mountPath string) coordinator.CatalogProducer {
	home, _ := os.UserHomeDir()
	homeTrash := ""
	if home != "" {
		homeTrash = filepath.Join(home, ".Trash")
	}
	roots := trashwalk.TrashRoots(mountPath, true, homeTrash)

	return func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		return trashwalk.WalkTrash(roots, osPathIterator, onFile)
	}
}

// osPathIterator walks root on the local filesystem, handing each regular
// file's relative path, size, and leading header bytes to visit.
func osPathIterator(root string, visit func(trashwalk.Candidate) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		header := make([]byte, sigreg.HeaderWindow)
		n, _ := f.Read(header)
		if !visit(trashwalk.Candidate{RelativePath: rel, Size: info.Size(), Header: header[:n]}) {
			return fs.SkipAll
		}
		return nil
	})
}

func resolveProfile(flagValue, overrideFile, device string) (model.CameraProfile, error) {
	if overrideFile != "" {
		overrides, err := profile.Load(overrideFile)
		if err != nil {
			return "", fmt.Errorf("load profile overrides: %w", err)
		}
		return overrides.Resolve(device), nil
	}

	switch strings.ToLower(flagValue) {
	case "gopro":
		return model.ProfileGoPro, nil
	case "canon":
		return model.ProfileCanon, nil
	case "sony":
		return model.ProfileSony, nil
	case "dji":
		return model.ProfileDJI, nil
	default:
		return model.ProfileGeneric, nil
	}
}

func resolveFilesystemHint(fsType string, reader blockreader.Reader) (model.FilesystemHint, error) {
	switch strings.ToLower(fsType) {
	case "ntfs":
		return model.FSNTFS, nil
	case "fat32":
		return model.FSFAT32, nil
	case "exfat":
		return model.FSExFAT, nil
	case "apfs":
		return model.FSAPFS, nil
	case "hfsplus":
		return model.FSHFSPlus, nil
	default:
		return disk.DetectFilesystem(reader)
	}
}

func carveModeOnly(hint model.FilesystemHint) bool {
	return hint == "" || hint == model.FSOther || hint == model.FSAPFS || hint == model.FSHFSPlus
}

// catalogProducerFor adapts the filesystem-specific catalog scanners
// (§4.6-§4.8) to the coordinator's uniform CatalogProducer shape.
func catalogProducerFor(hint model.FilesystemHint, reader blockreader.Reader) coordinator.CatalogProducer {
	return func(ctx context.Context, onFile func(model.RecoverableFile)) error {
		switch hint {
		case model.FSFAT32:
			s, err := fat32.Open(reader)
			if err != nil {
				return err
			}
			return s.Scan(onFile)
		case model.FSExFAT:
			s, err := exfat.Open(reader)
			if err != nil {
				return err
			}
			return s.Scan(onFile)
		case model.FSNTFS:
			s, err := ntfs.Open(reader)
			if err != nil {
				return err
			}
			return s.Scan(onFile)
		default:
			return nil
		}
	}
}

// carverAdapter closes over the declared size and produces the
// coordinator.CarverFunc signature from carver.Scan. For APFS/HFS+ hints it
// also runs the §4.9 heuristic B-tree-leaf carvers alongside the signature
// carver, since those filesystems have no catalog scanner of their own.
func carverAdapter(reader blockreader.Reader, declaredSize int64, camProfile model.CameraProfile, enabled bool, hint model.FilesystemHint) coordinator.CarverFunc {
	read := func(offset int64, length int) ([]byte, error) {
		buf := make([]byte, length)
		n, err := reader.Read(buf, offset, length)
		if err != nil && n == 0 {
			return nil, err
		}
		return buf[:n], nil
	}

	return func(ctx context.Context, existing map[int64]struct{}, start int64, seq int, onFile func(model.RecoverableFile), onProgress func(float64)) (int, error) {
		if !enabled {
			return seq, nil
		}

		switch hint {
		case model.FSHFSPlus:
			hits, _ := apfshfs.ScanHFSPlus(read, start, declaredSize)
			for _, h := range hits {
				if _, skip := existing[h.DiskOffset]; skip {
					continue
				}
				onFile(h.AsRecoverableFile())
			}
		case model.FSAPFS:
			hits, _ := apfshfs.ScanAPFS(read, start, declaredSize)
			for _, h := range hits {
				if _, skip := existing[h.BlockOffset]; skip {
					continue
				}
				onFile(model.RecoverableFile{
					Offset:      h.BlockOffset,
					OriginPhase: model.PhaseCarver,
				})
			}
		}

		return carver.Scan(ctx, read, start, declaredSize, seq, carver.Options{
			ExistingOffsets: existing,
			Profile:         camProfile,
			OnFile:          onFile,
			OnProgress:      onProgress,
		})
	}
}

// consumeEvents drains the coordinator's event stream, printing progress
// and optionally extracting each discovered file's byte range to
// outputDir (empty outputDir means scan-only).
func consumeEvents(coord *coordinator.Coordinator, reader blockreader.Reader, outputDir string) (count int, lastOffset int64) {
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create output dir %q: %v\n", outputDir, err)
			outputDir = ""
		}
	}

	for ev := range coord.Events() {
		switch ev.Kind {
		case model.EventFileFound:
			count++
			f := ev.File
			fmt.Printf("  [%s] %s.%s at %d (%s)\n", f.OriginPhase, f.DisplayName, f.Extension, f.Offset, f.Category)
			if f.Offset > lastOffset {
				lastOffset = f.Offset
			}
			if outputDir != "" {
				if err := extract(reader, *f, outputDir); err != nil {
					fmt.Fprintf(os.Stderr, "  warning: extract %s: %v\n", f.DisplayName, err)
				}
			}
		case model.EventProgress:
			fmt.Printf("\rProgress: %5.1f%%", ev.Progress*100)
		case model.EventCompleted:
			fmt.Println()
		}
	}
	return count, lastOffset
}

// extract performs the one byte-for-byte copy the core's spec explicitly
// defers to an external collaborator: a fixed-size read at the
// descriptor's offset, written out under its generated display name.
func extract(reader blockreader.Reader, f model.RecoverableFile, outputDir string) error {
	if f.Offset == 0 && f.OriginalPath == "" {
		return nil
	}

	name := f.DisplayName
	if name == "" {
		name = fmt.Sprintf("recovered_%d", f.Offset)
	}
	if f.Extension != "" {
		name += "." + f.Extension
	}

	out, err := os.Create(filepath.Join(outputDir, name))
	if err != nil {
		return err
	}
	defer out.Close()

	const chunk = 4 * 1024 * 1024
	size := f.EstimatedSize
	if size <= 0 {
		size = chunk
	}

	buf := make([]byte, chunk)
	remaining := size
	offset := f.Offset
	for remaining > 0 {
		toRead := int64(chunk)
		if remaining < toRead {
			toRead = remaining
		}
		n, err := reader.Read(buf, offset, int(toRead))
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			break
		}
		offset += int64(n)
		remaining -= int64(n)
	}
	return nil
}
