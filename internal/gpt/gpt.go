// Package gpt implements the §4.12 Partition Search: validates the GPT
// header on a whole-disk reader and synthesizes a Target for every
// populated partition entry.
package gpt

import (
	"encoding/binary"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/salverr"
	"github.com/shubham/salvage/internal/salvlog"
)

var log = salvlog.New("gpt")

const (
	sectorSize     = 512
	gptHeaderLBA   = 1
	defaultEntrySz = 128
)

// Search validates the GPT header at LBA 1 and returns one synthesized
// Target per populated entry. sourcePath is carried into each Target
// unchanged; partition offset/size are computed per §4.12.
func Search(read blockreader.Reader, sourcePath string) ([]model.Target, error) {
	header := make([]byte, sectorSize)
	if _, err := read.Read(header, gptHeaderLBA*sectorSize, sectorSize); err != nil {
		return nil, log.Wrapf(salverr.Io(err), "read GPT header")
	}
	if string(header[0:8]) != "EFI PART" {
		return nil, log.Wrap(salverr.ErrUnsupported)
	}

	entriesLBA := binary.LittleEndian.Uint64(header[72:80])
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	if entrySize == 0 {
		entrySize = defaultEntrySz
	}

	tableSize := int(numEntries) * int(entrySize)
	table := make([]byte, tableSize)
	if _, err := read.Read(table, int64(entriesLBA)*sectorSize, tableSize); err != nil {
		return nil, log.Wrapf(salverr.Io(err), "read partition entry array")
	}

	var targets []model.Target
	for i := 0; i < int(numEntries); i++ {
		entry := table[i*int(entrySize) : (i+1)*int(entrySize)]
		typeGUID := entry[0:16]
		if isAllZero(typeGUID) {
			continue
		}

		firstLBA := binary.LittleEndian.Uint64(entry[32:40])
		lastLBA := binary.LittleEndian.Uint64(entry[40:48])
		if lastLBA < firstLBA {
			continue
		}

		targets = append(targets, model.Target{
			SourcePath:           sourcePath,
			PartitionOffset:      int64(firstLBA) * sectorSize,
			DeclaredSize:         int64(lastLBA-firstLBA+1) * sectorSize,
			FilesystemHint:       model.FSOther,
			SupportsRandomAccess: true,
		})
	}
	return targets, nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
