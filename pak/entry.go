package pak

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/cursor"
)

// Entry is one logical file in the container index. Paths are
// mount-point-relative, slash-separated, and compared
// case-insensitively.
type Entry struct {
	Path             string
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Method           chunk.Method
	Encrypted        bool
	// HasKeyGUID reports whether the entry names its own encryption
	// domain; without it, encrypted entries use the default key.
	HasKeyGUID bool
	KeyGUID    uuid.UUID
	// Digest of the compressed payload, nil when the entry carries
	// none. The algorithm is pinned by the container version.
	Digest []byte
}

// Request converts an entry into a chunk pipeline request.
func (e Entry) Request(version uint32) chunk.Request {
	return chunk.Request{
		Path:             e.Path,
		Offset:           e.Offset,
		CompressedSize:   e.CompressedSize,
		UncompressedSize: e.UncompressedSize,
		Method:           e.Method,
		Encrypted:        e.Encrypted,
		KeyGUID:          e.KeyGUID,
		Digest:           e.Digest,
		DigestKind:       digestKind(version),
	}
}

// decodeRecord parses the pathless part of an entry record. The
// caller has already framed the record, so c covers exactly one
// record (plus, for legacy containers, the already-consumed path).
func decodeRecord(c *cursor.Cursor, kind chunk.DigestKind) (Entry, error) {
	var e Entry
	var err error
	if e.Offset, err = c.U64(); err != nil {
		return e, err
	}
	if e.CompressedSize, err = c.U64(); err != nil {
		return e, err
	}
	if e.UncompressedSize, err = c.U64(); err != nil {
		return e, err
	}
	method, err := c.U8()
	if err != nil {
		return e, err
	}
	e.Method = chunk.Method(method)
	if e.Method > chunk.MethodBzip2 {
		return e, fmt.Errorf("unknown compression method %d", method)
	}
	flags, err := c.U8()
	if err != nil {
		return e, err
	}
	e.Encrypted = flags&flagEncrypted != 0
	if flags&flagHasGUID != 0 {
		e.HasKeyGUID = true
		if e.KeyGUID, err = c.GUID(); err != nil {
			return e, err
		}
	}
	if flags&flagHasDigest != 0 {
		digest, err := c.Bytes(kind.Size())
		if err != nil {
			return e, err
		}
		e.Digest = append([]byte(nil), digest...)
	}
	return e, nil
}

func encodeRecord(w *cursor.Writer, e Entry) {
	w.U64(e.Offset)
	w.U64(e.CompressedSize)
	w.U64(e.UncompressedSize)
	w.U8(uint8(e.Method))
	var flags uint8
	if e.Encrypted {
		flags |= flagEncrypted
	}
	if e.HasKeyGUID {
		flags |= flagHasGUID
	}
	if len(e.Digest) > 0 {
		flags |= flagHasDigest
	}
	w.U8(flags)
	if e.HasKeyGUID {
		w.GUID(e.KeyGUID)
	}
	if len(e.Digest) > 0 {
		w.Raw(e.Digest)
	}
}

// validate checks that the entry's payload region lies inside the
// container's data area.
func (e Entry) validate(dataSize uint64) error {
	if e.Offset > dataSize || e.CompressedSize > dataSize-e.Offset {
		return fmt.Errorf("payload [%d, %d) outside container data of %d bytes",
			e.Offset, e.Offset+e.CompressedSize, dataSize)
	}
	return nil
}
