package pak

import (
	"fmt"
	"path"

	"github.com/pakrat/pakrat/cursor"
)

// SkippedEntry records one index entry that could not be parsed. The
// rest of the archive stays usable.
type SkippedEntry struct {
	Ordinal int
	Path    string // empty when the path itself was unreadable
	Detail  string
}

type parsedIndex struct {
	mountPoint string
	entries    []Entry
	skipped    []SkippedEntry
}

// parseIndex decodes the plaintext index region into an ordered entry
// list. dataSize bounds the payload area entries may reference.
// Malformed entries are skipped and recorded; only damage that makes
// the remaining index unlocatable is fatal.
func parseIndex(raw []byte, version uint32, dataSize uint64) (parsedIndex, error) {
	if version >= VersionDirectory {
		return parseDirectoryIndex(raw, version, dataSize)
	}
	return parseLegacyIndex(raw, version, dataSize)
}

// parseLegacyIndex reads the v1 inline table: mount point, count,
// then count frames of `frameSize u32 | path string | record`. The
// frame size lets the parser skip a corrupt entry and land on the
// next one.
func parseLegacyIndex(raw []byte, version uint32, dataSize uint64) (parsedIndex, error) {
	var out parsedIndex
	c := cursor.New(raw)
	var err error
	if out.mountPoint, err = c.String(); err != nil {
		return out, fmt.Errorf("%w: reading mount point: %v", ErrFormat, err)
	}
	count, err := c.U32()
	if err != nil {
		return out, fmt.Errorf("%w: reading entry count: %v", ErrFormat, err)
	}
	kind := digestKind(version)
	for i := 0; i < int(count); i++ {
		frameSize, err := c.U32()
		if err != nil {
			out.skipped = append(out.skipped, SkippedEntry{Ordinal: i, Detail: "index truncated before entry frame"})
			break
		}
		frameStart := c.Pos()
		next := frameStart + int(frameSize)
		if next > c.Len() {
			// The frame claims to run past the index; the remaining
			// frames cannot be located.
			out.skipped = append(out.skipped, SkippedEntry{Ordinal: i, Detail: "entry frame runs past index end"})
			break
		}
		entryPath, err := c.String()
		if err != nil {
			out.skipped = append(out.skipped, SkippedEntry{Ordinal: i, Detail: fmt.Sprintf("unreadable path: %v", err)})
			_ = c.Seek(next)
			continue
		}
		e, err := decodeRecord(c, kind)
		if err == nil {
			err = e.validate(dataSize)
		}
		if err != nil {
			out.skipped = append(out.skipped, SkippedEntry{Ordinal: i, Path: entryPath, Detail: err.Error()})
			_ = c.Seek(next)
			continue
		}
		e.Path = normalizePath(entryPath)
		out.entries = append(out.entries, e)
		_ = c.Seek(next)
	}
	return out, nil
}

// parseDirectoryIndex reads the v2/v3 encoding: mount point, record
// count, a packed area of pathless record frames, then a directory
// tree naming each record by ordinal.
func parseDirectoryIndex(raw []byte, version uint32, dataSize uint64) (parsedIndex, error) {
	var out parsedIndex
	c := cursor.New(raw)
	var err error
	if out.mountPoint, err = c.String(); err != nil {
		return out, fmt.Errorf("%w: reading mount point: %v", ErrFormat, err)
	}
	recordCount, err := c.U32()
	if err != nil {
		return out, fmt.Errorf("%w: reading record count: %v", ErrFormat, err)
	}
	recordsSize, err := c.U64()
	if err != nil {
		return out, fmt.Errorf("%w: reading record area size: %v", ErrFormat, err)
	}
	recordsStart := c.Pos()
	recordsEnd := recordsStart + int(recordsSize)
	if recordsSize > uint64(c.Len()-recordsStart) {
		return out, fmt.Errorf("%w: record area runs past index end", ErrFormat)
	}

	type slot struct {
		entry Entry
		err   error
	}
	kind := digestKind(version)
	slots := make([]slot, 0, recordCount)
	for i := 0; i < int(recordCount); i++ {
		frameSize, err := c.U32()
		if err != nil {
			slots = append(slots, slot{err: fmt.Errorf("record area truncated")})
			break
		}
		frameStart := c.Pos()
		next := frameStart + int(frameSize)
		if next > recordsEnd {
			slots = append(slots, slot{err: fmt.Errorf("record frame runs past record area")})
			break
		}
		e, err := decodeRecord(c, kind)
		if err == nil {
			err = e.validate(dataSize)
		}
		slots = append(slots, slot{entry: e, err: err})
		_ = c.Seek(next)
	}
	if err := c.Seek(recordsEnd); err != nil {
		return out, fmt.Errorf("%w: record area overruns index", ErrFormat)
	}

	dirCount, err := c.U32()
	if err != nil {
		return out, fmt.Errorf("%w: reading directory count: %v", ErrFormat, err)
	}
	ordinal := 0
	for d := 0; d < int(dirCount); d++ {
		dirName, err := c.String()
		if err != nil {
			return out, fmt.Errorf("%w: reading directory %d name: %v", ErrFormat, d, err)
		}
		fileCount, err := c.U32()
		if err != nil {
			return out, fmt.Errorf("%w: reading directory %q file count: %v", ErrFormat, dirName, err)
		}
		for f := 0; f < int(fileCount); f++ {
			fileName, err := c.String()
			if err != nil {
				return out, fmt.Errorf("%w: reading file name in %q: %v", ErrFormat, dirName, err)
			}
			recordIndex, err := c.U32()
			if err != nil {
				return out, fmt.Errorf("%w: reading record ordinal for %q: %v", ErrFormat, fileName, err)
			}
			entryPath := normalizePath(path.Join(dirName, fileName))
			if int(recordIndex) >= len(slots) {
				out.skipped = append(out.skipped, SkippedEntry{
					Ordinal: ordinal, Path: entryPath,
					Detail: fmt.Sprintf("record ordinal %d out of range", recordIndex),
				})
				ordinal++
				continue
			}
			s := slots[recordIndex]
			if s.err != nil {
				out.skipped = append(out.skipped, SkippedEntry{Ordinal: ordinal, Path: entryPath, Detail: s.err.Error()})
				ordinal++
				continue
			}
			e := s.entry
			e.Path = entryPath
			out.entries = append(out.entries, e)
			ordinal++
		}
	}
	return out, nil
}
