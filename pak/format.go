// Package pak parses pakrat archive containers: a footer at the
// physical end of the file locates an entry index, which maps
// mount-relative paths to compressed (and optionally encrypted)
// payload regions. A bad footer is fatal for the archive; a bad entry
// inside an otherwise valid index is skipped and recorded, leaving
// the archive partially usable.
package pak

import (
	"errors"

	"github.com/pakrat/pakrat/chunk"
)

// Magic is the container magic, stored in the last 4 bytes of the
// footer ("PKAR" in little-endian byte order).
const Magic uint32 = 0x52414b50

// Container versions. The version selects the index encoding and the
// digest algorithm.
const (
	// VersionLegacy uses an inline per-file index: each frame carries
	// the entry path followed by its record. Digests are SHA-1.
	VersionLegacy uint32 = 1
	// VersionDirectory stores pathless entry records and a separate
	// directory-of-directories mapping names to record ordinals.
	// Digests are SHA-1.
	VersionDirectory uint32 = 2
	// VersionDirectoryB3 is the directory encoding with BLAKE3-256
	// digests and is the version new containers are written as.
	VersionDirectoryB3 uint32 = 3
)

// Entry record flags.
const (
	flagEncrypted uint8 = 1 << 0
	flagHasGUID   uint8 = 1 << 1
	flagHasDigest uint8 = 1 << 2
)

// ErrFormat marks archive-fatal container damage: bad magic, an
// unsupported version, a truncated footer, or an index that fails its
// digest. Per-entry damage is never ErrFormat.
var ErrFormat = errors.New("pak: invalid container")

// ErrEntryNotFound is returned by ReadEntry for unknown paths.
var ErrEntryNotFound = errors.New("pak: entry not found")

// digestKind returns the digest algorithm pinned by a container
// version.
func digestKind(version uint32) chunk.DigestKind {
	if version >= VersionDirectoryB3 {
		return chunk.DigestBLAKE3
	}
	return chunk.DigestSHA1
}

func versionSupported(v uint32) bool {
	return v >= VersionLegacy && v <= VersionDirectoryB3
}
