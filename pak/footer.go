package pak

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/chunk"
	"github.com/pakrat/pakrat/cursor"
	"github.com/pakrat/pakrat/source"
)

// footer is the fixed-position trailer at the physical end of a
// container:
//
//	encryptedIndex u8 | keyGUID [16] | indexOffset u64 | indexSize u64 |
//	indexDigest [20 or 32] | version u32 | magic u32
//
// The version and magic sit last so a reader can identify the
// container and compute the footer size before parsing the rest.
type footer struct {
	encryptedIndex bool
	keyGUID        uuid.UUID
	indexOffset    uint64
	indexSize      uint64
	indexDigest    []byte
	version        uint32
}

// footerTailSize covers the trailing version + magic pair.
const footerTailSize = 8

func footerSize(version uint32) int64 {
	return int64(1 + 16 + 8 + 8 + digestKind(version).Size() + footerTailSize)
}

// readFooter locates and validates the footer of src.
func readFooter(src source.ByteSource) (footer, error) {
	var f footer
	if src.Size() < footerTailSize {
		return f, fmt.Errorf("%w: %d bytes is too small for a footer", ErrFormat, src.Size())
	}
	tail, err := source.ReadRange(src, src.Size()-footerTailSize, footerTailSize)
	if err != nil {
		return f, fmt.Errorf("%w: reading footer tail: %v", ErrFormat, err)
	}
	tc := cursor.New(tail)
	version, _ := tc.U32()
	magic, _ := tc.U32()
	if magic != Magic {
		return f, fmt.Errorf("%w: bad magic %#08x", ErrFormat, magic)
	}
	if !versionSupported(version) {
		return f, fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}
	f.version = version

	size := footerSize(version)
	if src.Size() < size {
		return f, fmt.Errorf("%w: %d bytes is too small for a v%d footer", ErrFormat, src.Size(), version)
	}
	raw, err := source.ReadRange(src, src.Size()-size, size)
	if err != nil {
		return f, fmt.Errorf("%w: reading footer: %v", ErrFormat, err)
	}
	c := cursor.New(raw)
	if f.encryptedIndex, err = c.Bool(); err != nil {
		return f, fmt.Errorf("%w: truncated footer", ErrFormat)
	}
	if f.keyGUID, err = c.GUID(); err != nil {
		return f, fmt.Errorf("%w: truncated footer", ErrFormat)
	}
	if f.indexOffset, err = c.U64(); err != nil {
		return f, fmt.Errorf("%w: truncated footer", ErrFormat)
	}
	if f.indexSize, err = c.U64(); err != nil {
		return f, fmt.Errorf("%w: truncated footer", ErrFormat)
	}
	digest, err := c.Bytes(digestKind(version).Size())
	if err != nil {
		return f, fmt.Errorf("%w: truncated footer", ErrFormat)
	}
	f.indexDigest = append([]byte(nil), digest...)

	indexEnd := f.indexOffset + f.indexSize
	if indexEnd < f.indexOffset || indexEnd > uint64(src.Size()-size) {
		return f, fmt.Errorf("%w: index region [%d, %d) outside container", ErrFormat, f.indexOffset, indexEnd)
	}
	return f, nil
}

func (f footer) encode(w *cursor.Writer) {
	w.Bool(f.encryptedIndex)
	w.GUID(f.keyGUID)
	w.U64(f.indexOffset)
	w.U64(f.indexSize)
	w.Raw(f.indexDigest)
	w.U32(f.version)
	w.U32(Magic)
}

func (f footer) digestKind() chunk.DigestKind {
	return digestKind(f.version)
}
