package chunk

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Region encryption is AES-256-CTR. The IV is derived from the
// region's absolute container offset, so random access into an
// encrypted container needs no stored per-region IVs: the footer, the
// index, and every entry payload each form one region keyed by its
// own offset.

// DecryptRegion decrypts data that was encrypted as a region starting
// at the given container offset. CTR mode makes this its own inverse;
// EncryptRegion is an alias used by the builder for clarity.
func DecryptRegion(key []byte, offset uint64, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("chunk: cipher init: %w", err)
	}
	iv := regionIV(offset)
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

// EncryptRegion encrypts data as a region starting at offset.
func EncryptRegion(key []byte, offset uint64, data []byte) ([]byte, error) {
	return DecryptRegion(key, offset, data)
}

func regionIV(offset uint64) [aes.BlockSize]byte {
	var iv [aes.BlockSize]byte
	binary.LittleEndian.PutUint64(iv[:8], offset)
	return iv
}
