package chunk

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/keys"
	"github.com/pakrat/pakrat/source"
)

// Request describes one entry payload to decode. The container parser
// fills it from its index; Read performs the raw read, decrypt,
// decompress and verify steps.
type Request struct {
	Path             string
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Method           Method
	Encrypted        bool
	// KeyGUID selects the decryption key. The zero GUID addresses the
	// registry's default key.
	KeyGUID uuid.UUID
	// Digest is the expected digest of the compressed payload, or nil
	// to skip verification. DigestKind must be set when Digest is.
	Digest     []byte
	DigestKind DigestKind
}

// MissingKeyError reports an encrypted entry whose key GUID has no
// registered key. Only that entry is unreadable; the archive stays
// usable.
type MissingKeyError struct {
	Path string
	GUID uuid.UUID
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("chunk: entry %q: no key registered for guid %s", e.Path, e.GUID)
}

func (e *MissingKeyError) Unwrap() error { return keys.ErrNotFound }

// IntegrityError reports a digest or size mismatch for one entry.
type IntegrityError struct {
	Path   string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chunk: entry %q: %s", e.Path, e.Detail)
}

// Read decodes one entry: it reads [Offset, Offset+CompressedSize)
// from src, decrypts when Encrypted, verifies the stored digest
// against the compressed plaintext, and decompresses to exactly
// UncompressedSize bytes.
func Read(src source.ByteSource, reg *keys.Registry, req Request) ([]byte, error) {
	raw, err := source.ReadRange(src, int64(req.Offset), int64(req.CompressedSize))
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", req.Path, err)
	}

	if req.Encrypted {
		if reg == nil {
			return nil, &MissingKeyError{Path: req.Path, GUID: req.KeyGUID}
		}
		key, err := reg.Lookup(req.KeyGUID)
		if err != nil {
			if errors.Is(err, keys.ErrNotFound) {
				return nil, &MissingKeyError{Path: req.Path, GUID: req.KeyGUID}
			}
			return nil, fmt.Errorf("entry %q: %w", req.Path, err)
		}
		raw, err = DecryptRegion(key, req.Offset, raw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", req.Path, err)
		}
	}

	if len(req.Digest) > 0 {
		sum, err := Sum(req.DigestKind, raw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", req.Path, err)
		}
		if !bytes.Equal(sum, req.Digest) {
			return nil, &IntegrityError{Path: req.Path, Detail: fmt.Sprintf("%s digest mismatch", req.DigestKind)}
		}
	}

	out, err := Decompress(raw, req.Method, int(req.UncompressedSize))
	if err != nil {
		if errors.Is(err, ErrUnsupportedCodec) {
			return nil, fmt.Errorf("entry %q: %w", req.Path, err)
		}
		return nil, &IntegrityError{Path: req.Path, Detail: err.Error()}
	}
	return out, nil
}
