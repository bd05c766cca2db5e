package pak

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/cursor"
	"github.com/pakrat/pakrat/keys"
)

// Builder assembles a container image in memory. It backs the CLI
// create mode and the package tests. Layout: entry payloads from
// offset 0, then the index, then the footer.
type Builder struct {
	version    uint32
	mountPoint string

	key     []byte
	keyGUID uuid.UUID

	encryptIndex bool

	entries []builderEntry
}

type builderEntry struct {
	path      string
	data      []byte
	method    chunk.Method
	encrypted bool
}

// NewBuilder creates a builder for the given container version.
func NewBuilder(version uint32, mountPoint string) (*Builder, error) {
	if !versionSupported(version) {
		return nil, fmt.Errorf("pak: unsupported container version %d", version)
	}
	return &Builder{version: version, mountPoint: mountPoint}, nil
}

// SetKey installs the AES-256 key used for encrypted entries and, if
// EncryptIndex is set, the index. The GUID is recorded in entry
// records and the footer; a zero GUID means the default key.
func (b *Builder) SetKey(guid uuid.UUID, key []byte) error {
	if len(key) != keys.KeySize {
		return fmt.Errorf("pak: key is %d bytes, want %d", len(key), keys.KeySize)
	}
	b.keyGUID = guid
	b.key = append([]byte(nil), key...)
	return nil
}

// EncryptIndex marks the index region for encryption. SetKey must be
// called before Bytes.
func (b *Builder) EncryptIndex() { b.encryptIndex = true }

// Add schedules one entry. Paths are stored mount-relative.
func (b *Builder) Add(path string, data []byte, m chunk.Method, encrypted bool) error {
	if encrypted && b.key == nil {
		return fmt.Errorf("pak: entry %q marked encrypted before SetKey", path)
	}
	if m == chunk.MethodOodle {
		return fmt.Errorf("pak: %w: %s", chunk.ErrUnsupportedCodec, m)
	}
	b.entries = append(b.entries, builderEntry{
		path:      normalizePath(path),
		data:      append([]byte(nil), data...),
		method:    m,
		encrypted: encrypted,
	})
	return nil
}

// Bytes assembles and returns the container image.
func (b *Builder) Bytes() ([]byte, error) {
	if b.encryptIndex && b.key == nil {
		return nil, fmt.Errorf("pak: EncryptIndex set without SetKey")
	}
	kind := digestKind(b.version)

	data := cursor.NewWriter()
	records := make([]Entry, 0, len(b.entries))
	for _, be := range b.entries {
		packed, err := chunk.Compress(be.data, be.method)
		if err != nil {
			return nil, fmt.Errorf("pak: entry %q: %w", be.path, err)
		}
		digest, err := chunk.Sum(kind, packed)
		if err != nil {
			return nil, fmt.Errorf("pak: entry %q: %w", be.path, err)
		}
		offset := uint64(data.Len())
		stored := packed
		if be.encrypted {
			stored, err = chunk.EncryptRegion(b.key, offset, packed)
			if err != nil {
				return nil, fmt.Errorf("pak: entry %q: %w", be.path, err)
			}
		}
		data.Raw(stored)
		records = append(records, Entry{
			Path:             be.path,
			Offset:           offset,
			CompressedSize:   uint64(len(stored)),
			UncompressedSize: uint64(len(be.data)),
			Method:           be.method,
			Encrypted:        be.encrypted,
			HasKeyGUID:       be.encrypted && b.keyGUID != uuid.UUID{},
			KeyGUID:          b.keyGUID,
			Digest:           digest,
		})
	}

	var index []byte
	if b.version >= VersionDirectory {
		index = encodeDirectoryIndex(b.mountPoint, records)
	} else {
		index = encodeLegacyIndex(b.mountPoint, records)
	}
	indexOffset := uint64(data.Len())
	indexDigest, err := chunk.Sum(kind, index)
	if err != nil {
		return nil, fmt.Errorf("pak: %w", err)
	}
	if b.encryptIndex {
		index, err = chunk.EncryptRegion(b.key, indexOffset, index)
		if err != nil {
			return nil, fmt.Errorf("pak: encrypting index: %w", err)
		}
	}

	out := cursor.NewWriter()
	out.Raw(data.Bytes())
	out.Raw(index)
	f := footer{
		encryptedIndex: b.encryptIndex,
		keyGUID:        b.keyGUID,
		indexOffset:    indexOffset,
		indexSize:      uint64(len(index)),
		indexDigest:    indexDigest,
		version:        b.version,
	}
	f.encode(out)
	return out.Bytes(), nil
}

func encodeLegacyIndex(mountPoint string, records []Entry) []byte {
	w := cursor.NewWriter()
	w.String(mountPoint)
	w.U32(uint32(len(records)))
	for _, e := range records {
		frame := cursor.NewWriter()
		frame.String(e.Path)
		encodeRecord(frame, e)
		w.U32(uint32(frame.Len()))
		w.Raw(frame.Bytes())
	}
	return w.Bytes()
}

func encodeDirectoryIndex(mountPoint string, records []Entry) []byte {
	w := cursor.NewWriter()
	w.String(mountPoint)
	w.U32(uint32(len(records)))

	packed := cursor.NewWriter()
	for _, e := range records {
		frame := cursor.NewWriter()
		encodeRecord(frame, e)
		packed.U32(uint32(frame.Len()))
		packed.Raw(frame.Bytes())
	}
	w.U64(uint64(packed.Len()))
	w.Raw(packed.Bytes())

	// Group files by directory, preserving first-seen order.
	type dirFiles struct {
		name  string
		files []int
	}
	var dirs []dirFiles
	byName := make(map[string]int)
	for i, e := range records {
		dir, _ := splitEntryPath(e.Path)
		di, ok := byName[dir]
		if !ok {
			di = len(dirs)
			byName[dir] = di
			dirs = append(dirs, dirFiles{name: dir})
		}
		dirs[di].files = append(dirs[di].files, i)
	}
	w.U32(uint32(len(dirs)))
	for _, d := range dirs {
		w.String(d.name)
		w.U32(uint32(len(d.files)))
		for _, ri := range d.files {
			_, file := splitEntryPath(records[ri].Path)
			w.String(file)
			w.U32(uint32(ri))
		}
	}
	return w.Bytes()
}

func splitEntryPath(p string) (dir, file string) {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}
