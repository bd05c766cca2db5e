package chunk

import (
	"crypto/sha1"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestKind selects the hash algorithm used for entry and index
// digests. The container version pins the kind: v1/v2 containers use
// SHA-1, v3 uses BLAKE3-256.
type DigestKind uint8

const (
	DigestSHA1   DigestKind = 1
	DigestBLAKE3 DigestKind = 2
)

func (k DigestKind) String() string {
	switch k {
	case DigestSHA1:
		return "sha1"
	case DigestBLAKE3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Size returns the digest length in bytes.
func (k DigestKind) Size() int {
	switch k {
	case DigestSHA1:
		return sha1.Size
	case DigestBLAKE3:
		return 32
	default:
		return 0
	}
}

// Sum computes the digest of data.
func Sum(k DigestKind, data []byte) ([]byte, error) {
	switch k {
	case DigestSHA1:
		s := sha1.Sum(data)
		return s[:], nil
	case DigestBLAKE3:
		s := blake3.Sum256(data)
		return s[:], nil
	default:
		return nil, fmt.Errorf("chunk: unknown digest kind %d", uint8(k))
	}
}
