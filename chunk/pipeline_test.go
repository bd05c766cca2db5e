package chunk

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pakrat/pakrat/keys"
	"github.com/pakrat/pakrat/source"
)

// layoutEntry compresses, optionally encrypts, and places payload at
// offset inside a synthetic container, returning the container bytes
// and a ready Request.
func layoutEntry(t *testing.T, payload []byte, m Method, offset uint64, key []byte, guid uuid.UUID) ([]byte, Request) {
	t.Helper()
	packed, err := Compress(payload, m)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	digest, err := Sum(DigestSHA1, packed)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	stored := packed
	if key != nil {
		stored, err = EncryptRegion(key, offset, packed)
		if err != nil {
			t.Fatalf("EncryptRegion() error = %v", err)
		}
	}
	container := make([]byte, int(offset)+len(stored))
	copy(container[offset:], stored)
	return container, Request{
		Path:             "game/data.bin",
		Offset:           offset,
		CompressedSize:   uint64(len(stored)),
		UncompressedSize: uint64(len(payload)),
		Method:           m,
		Encrypted:        key != nil,
		KeyGUID:          guid,
		Digest:           digest,
		DigestKind:       DigestSHA1,
	}
}

func TestReadPlain(t *testing.T) {
	payload := []byte(strings.Repeat("plain-entry-", 100))
	container, req := layoutEntry(t, payload, MethodZstd, 64, nil, uuid.UUID{})
	got, err := Read(source.FromBytes(container), nil, req)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read() payload mismatch")
	}
}

func TestReadEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{9}, keys.KeySize)
	guid := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	payload := []byte(strings.Repeat("secret-entry-", 100))
	container, req := layoutEntry(t, payload, MethodZlib, 128, key, guid)

	reg := keys.NewRegistry()
	if err := reg.Register(guid, key); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	got, err := Read(source.FromBytes(container), reg, req)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read() payload mismatch")
	}
}

func TestReadMissingKey(t *testing.T) {
	key := bytes.Repeat([]byte{9}, keys.KeySize)
	guid := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	container, req := layoutEntry(t, []byte("secret"), MethodNone, 0, key, guid)

	_, err := Read(source.FromBytes(container), keys.NewRegistry(), req)
	var missing *MissingKeyError
	if !errors.As(err, &missing) {
		t.Fatalf("Read() error = %v, want MissingKeyError", err)
	}
	if missing.GUID != guid {
		t.Fatalf("MissingKeyError guid = %s, want %s", missing.GUID, guid)
	}
	if !errors.Is(err, keys.ErrNotFound) {
		t.Fatalf("MissingKeyError should unwrap to keys.ErrNotFound")
	}
}

func TestReadDigestMismatch(t *testing.T) {
	payload := []byte(strings.Repeat("tamper-", 64))
	container, req := layoutEntry(t, payload, MethodLZ4, 32, nil, uuid.UUID{})
	container[40] ^= 0xff

	_, err := Read(source.FromBytes(container), nil, req)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("Read() error = %v, want IntegrityError", err)
	}
	if integrity.Path != "game/data.bin" {
		t.Fatalf("IntegrityError path = %q", integrity.Path)
	}
}

func TestReadSizeMismatch(t *testing.T) {
	payload := []byte(strings.Repeat("short-", 64))
	container, req := layoutEntry(t, payload, MethodZstd, 0, nil, uuid.UUID{})
	req.UncompressedSize++

	_, err := Read(source.FromBytes(container), nil, req)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("Read() error = %v, want IntegrityError", err)
	}
}

func TestReadRangeOutsideContainer(t *testing.T) {
	req := Request{Path: "x", Offset: 100, CompressedSize: 50, UncompressedSize: 50, Method: MethodNone}
	if _, err := Read(source.FromBytes(make([]byte, 80)), nil, req); err == nil {
		t.Fatalf("Read() past container end should fail")
	}
}
