// Package keys holds the process-wide registry of symmetric archive
// keys, mapped by encryption-domain GUID. The registry is populated by
// the CLI (or any embedding program) before encrypted archives are
// opened, and consulted by the chunk pipeline during reads.
package keys

import (
	"bufio"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// KeySize is the length in bytes of every archive key (AES-256).
const KeySize = 32

// ErrNotFound is returned by Lookup for a GUID with no registered key.
// Callers use it to distinguish "key missing" from "no key needed".
var ErrNotFound = fmt.Errorf("keys: no key registered for guid")

// ConflictError is returned when a GUID is re-registered with
// different key material. Re-registering the same key is a no-op;
// the first registration always wins.
type ConflictError struct {
	GUID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("keys: guid %s already registered with different key material", e.GUID)
}

// Registry maps encryption-domain GUIDs to AES-256 keys. A zero GUID
// addresses the default key used by entries that carry no explicit
// GUID. Registration is first-writer-wins; keys are immutable once
// registered. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[uuid.UUID][]byte
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[uuid.UUID][]byte)}
}

// Register stores key material for guid. Registering an identical key
// for an already-known guid is idempotent; differing material returns
// a ConflictError and leaves the original key in place.
func (r *Registry) Register(guid uuid.UUID, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("keys: key for %s is %d bytes, want %d", guid, len(key), KeySize)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[guid]; ok {
		if subtle.ConstantTimeCompare(existing, key) == 1 {
			return nil
		}
		return &ConflictError{GUID: guid}
	}
	stored := make([]byte, KeySize)
	copy(stored, key)
	r.byID[guid] = stored
	return nil
}

// RegisterDefault stores the key used when an entry carries no
// explicit encryption GUID.
func (r *Registry) RegisterDefault(key []byte) error {
	return r.Register(uuid.UUID{}, key)
}

// Lookup returns the key for guid, or ErrNotFound. The returned slice
// is a copy; callers may not mutate registry state through it.
func (r *Registry) Lookup(guid uuid.UUID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byID[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, guid)
	}
	out := make([]byte, KeySize)
	copy(out, key)
	return out, nil
}

func (r *Registry) Has(guid uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[guid]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ParseSpec parses a "GUID=hex" key specification as accepted by the
// CLI. The GUID part "default" (or an all-zero GUID) addresses the
// default key.
func ParseSpec(spec string) (uuid.UUID, []byte, error) {
	name, value, ok := strings.Cut(spec, "=")
	if !ok {
		return uuid.UUID{}, nil, fmt.Errorf("keys: spec %q is not GUID=hex", spec)
	}
	var guid uuid.UUID
	if !strings.EqualFold(strings.TrimSpace(name), "default") {
		var err error
		guid, err = uuid.Parse(strings.TrimSpace(name))
		if err != nil {
			return uuid.UUID{}, nil, fmt.Errorf("keys: invalid guid in spec %q: %w", spec, err)
		}
	}
	raw := strings.TrimSpace(value)
	raw = strings.TrimPrefix(raw, "0x")
	key, err := hex.DecodeString(raw)
	if err != nil {
		return uuid.UUID{}, nil, fmt.Errorf("keys: invalid hex key in spec %q: %w", spec, err)
	}
	if len(key) != KeySize {
		return uuid.UUID{}, nil, fmt.Errorf("keys: key in spec %q is %d bytes, want %d", spec, len(key), KeySize)
	}
	return guid, key, nil
}

// LoadFile registers keys from a reader holding one GUID=hex spec per
// line. Blank lines and lines starting with # are ignored.
func (r *Registry) LoadFile(src io.Reader) error {
	scanner := bufio.NewScanner(src)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		guid, key, err := ParseSpec(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := r.Register(guid, key); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}
