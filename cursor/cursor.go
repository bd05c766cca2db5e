// Package cursor provides a bounds-checked binary reader over an
// in-memory byte buffer. All multi-byte reads are little-endian, which
// is the byte order used throughout the container and asset formats.
package cursor

import (
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/google/uuid"
)

// BoundsError reports a read or seek past the end of the buffer. The
// cursor position is unchanged when a BoundsError is returned.
type BoundsError struct {
	Pos  int
	Need int
	Size int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("cursor: need %d bytes at offset %d, buffer has %d", e.Need, e.Pos, e.Size)
}

// Cursor reads from a fixed byte buffer, tracking its position. A
// failed read leaves the position untouched. Cursors are not safe for
// concurrent use, but the backing buffer is never written, so clones
// may be read from independently.
type Cursor struct {
	buf []byte
	pos int
}

func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Clone returns an independent cursor over the same backing buffer at
// the same position. The buffer is shared, not copied.
func (c *Cursor) Clone() *Cursor {
	return &Cursor{buf: c.buf, pos: c.pos}
}

func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Pos() int       { return c.pos }
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Seek moves the position to pos. Seeking to Len() is legal; anything
// past it is not.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return &BoundsError{Pos: pos, Size: len(c.buf)}
	}
	c.pos = pos
	return nil
}

func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, &BoundsError{Pos: c.pos, Need: n, Size: len(c.buf)}
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Bytes returns the next n bytes as a sub-slice of the backing buffer.
// The caller must not modify the result.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	return c.take(n)
}

func (c *Cursor) U8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) I8() (int8, error) {
	v, err := c.U8()
	return int8(v), err
}

func (c *Cursor) Bool() (bool, error) {
	v, err := c.U8()
	return v != 0, err
}

func (c *Cursor) U16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (c *Cursor) I16() (int16, error) {
	v, err := c.U16()
	return int16(v), err
}

func (c *Cursor) U32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

func (c *Cursor) U64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56, nil
}

func (c *Cursor) I64() (int64, error) {
	v, err := c.U64()
	return int64(v), err
}

func (c *Cursor) F32() (float32, error) {
	v, err := c.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (c *Cursor) F64() (float64, error) {
	v, err := c.U64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// GUID reads 16 bytes and returns them as a canonical hyphenated GUID.
func (c *Cursor) GUID() (uuid.UUID, error) {
	b, err := c.take(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// String reads a length-prefixed string in the archive convention: an
// int32 length including the terminating NUL; a negative length means
// UTF-16LE with -length code units. A zero length is the empty string.
// On any failure the position is left where the string started.
func (c *Cursor) String() (string, error) {
	start := c.pos
	n, err := c.I32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 {
		units := int(-n)
		raw, err := c.take(units * 2)
		if err != nil {
			c.pos = start
			return "", err
		}
		u16 := make([]uint16, units)
		for i := range u16 {
			u16[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
		}
		// Drop the NUL terminator.
		if u16[units-1] != 0 {
			c.pos = start
			return "", fmt.Errorf("cursor: utf-16 string at offset %d is not NUL-terminated", start)
		}
		return string(utf16.Decode(u16[:units-1])), nil
	}
	raw, err := c.take(int(n))
	if err != nil {
		c.pos = start
		return "", err
	}
	if raw[n-1] != 0 {
		c.pos = start
		return "", fmt.Errorf("cursor: string at offset %d is not NUL-terminated", start)
	}
	return string(raw[:n-1]), nil
}

// CString reads bytes until a NUL terminator and consumes it.
func (c *Cursor) CString() (string, error) {
	for i := c.pos; i < len(c.buf); i++ {
		if c.buf[i] == 0 {
			s := string(c.buf[c.pos:i])
			c.pos = i + 1
			return s, nil
		}
	}
	return "", &BoundsError{Pos: c.pos, Need: len(c.buf) - c.pos + 1, Size: len(c.buf)}
}

// FixedString reads exactly n bytes and trims any trailing NUL padding.
func (c *Cursor) FixedString(n int) (string, error) {
	raw, err := c.take(n)
	if err != nil {
		return "", err
	}
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end]), nil
}
