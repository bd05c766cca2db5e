package pak

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/keys"
	"github.com/pakrat/pakrat/source"
)

// Options configures Open.
type Options struct {
	// Keys supplies decryption keys for encrypted indexes and
	// entries. May be nil for unencrypted archives.
	Keys *keys.Registry
}

// Archive is an opened container. All methods except Close are safe
// for concurrent use; each read operation creates its own cursors
// over the shared byte source.
type Archive struct {
	src        source.ByteSource
	reg        *keys.Registry
	version    uint32
	mountPoint string

	// order holds lowercase paths in first-seen index order; byPath
	// maps them to entries. Duplicate paths follow a last-entry-wins
	// policy: the entry content comes from the final occurrence, the
	// list position from the first.
	order    []string
	byPath   map[string]Entry
	skipped  []SkippedEntry
	shadowed int

	encryptedIndex bool
}

// Open parses the container in src and builds its in-memory index.
// The archive owns src and releases it on Close. Footer or index
// damage is fatal (ErrFormat); individual malformed entries are
// skipped and reported by Skipped.
func Open(src source.ByteSource, opts *Options) (*Archive, error) {
	var reg *keys.Registry
	if opts != nil {
		reg = opts.Keys
	}
	f, err := readFooter(src)
	if err != nil {
		return nil, err
	}

	raw, err := source.ReadRange(src, int64(f.indexOffset), int64(f.indexSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading index: %v", ErrFormat, err)
	}
	if f.encryptedIndex {
		if reg == nil {
			return nil, &chunk.MissingKeyError{Path: "<index>", GUID: f.keyGUID}
		}
		key, err := reg.Lookup(f.keyGUID)
		if err != nil {
			return nil, &chunk.MissingKeyError{Path: "<index>", GUID: f.keyGUID}
		}
		raw, err = chunk.DecryptRegion(key, f.indexOffset, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypting index: %v", ErrFormat, err)
		}
	}
	sum, err := chunk.Sum(f.digestKind(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !bytes.Equal(sum, f.indexDigest) {
		return nil, fmt.Errorf("%w: index %s digest mismatch", ErrFormat, f.digestKind())
	}

	parsed, err := parseIndex(raw, f.version, f.indexOffset)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		src:            src,
		reg:            reg,
		version:        f.version,
		mountPoint:     parsed.mountPoint,
		byPath:         make(map[string]Entry, len(parsed.entries)),
		skipped:        parsed.skipped,
		encryptedIndex: f.encryptedIndex,
	}
	for _, e := range parsed.entries {
		lower := strings.ToLower(e.Path)
		if _, seen := a.byPath[lower]; seen {
			a.shadowed++
		} else {
			a.order = append(a.order, lower)
		}
		a.byPath[lower] = e
	}
	return a, nil
}

// MountPoint returns the path prefix logically prepended to every
// entry path. Entry paths exposed by the archive are relative to it.
func (a *Archive) MountPoint() string { return a.mountPoint }

func (a *Archive) Version() uint32 { return a.version }

// IsEncrypted reports whether the index or any entry is encrypted.
func (a *Archive) IsEncrypted() bool {
	if a.encryptedIndex {
		return true
	}
	for _, e := range a.byPath {
		if e.Encrypted {
			return true
		}
	}
	return false
}

func (a *Archive) EntryCount() int { return len(a.order) }

// Skipped returns the malformed index entries that were dropped
// during Open.
func (a *Archive) Skipped() []SkippedEntry { return a.skipped }

// Shadowed returns how many duplicate paths were overwritten by later
// index entries.
func (a *Archive) Shadowed() int { return a.shadowed }

// HasEntry reports whether path names an entry. Matching is
// case-insensitive.
func (a *Archive) HasEntry(p string) bool {
	_, ok := a.byPath[strings.ToLower(normalizePath(p))]
	return ok
}

// Entry returns the index entry for path.
func (a *Archive) Entry(p string) (Entry, bool) {
	e, ok := a.byPath[strings.ToLower(normalizePath(p))]
	return e, ok
}

// ListEntries returns entries in index order. A non-empty glob
// filters by path.Match against the mount-relative path; note that
// "*" does not cross path separators.
func (a *Archive) ListEntries(glob string) ([]Entry, error) {
	if glob != "" {
		// Surface pattern syntax errors before filtering.
		if _, err := path.Match(glob, ""); err != nil {
			return nil, fmt.Errorf("pak: bad glob %q: %w", glob, err)
		}
	}
	out := make([]Entry, 0, len(a.order))
	for _, lower := range a.order {
		e := a.byPath[lower]
		if glob != "" {
			ok, _ := path.Match(strings.ToLower(glob), lower)
			if !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadEntry decodes the payload of the named entry through the chunk
// pipeline. Unknown paths return ErrEntryNotFound; decode failures
// carry the entry path and do not affect other entries.
func (a *Archive) ReadEntry(p string) ([]byte, error) {
	e, ok := a.Entry(p)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, p)
	}
	return chunk.Read(a.src, a.reg, e.Request(a.version))
}

// Close releases the underlying byte source.
func (a *Archive) Close() error { return a.src.Close() }

// normalizePath converts p to the canonical entry form: forward
// slashes, no leading slash, cleaned.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// KeyGUIDFor returns the encryption GUID an entry would be decrypted
// with, accounting for the default-key convention.
func (e Entry) KeyGUIDFor() uuid.UUID {
	if e.HasKeyGUID {
		return e.KeyGUID
	}
	return uuid.UUID{}
}
