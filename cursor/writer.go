package cursor

import (
	"math"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Writer is the encoding counterpart of Cursor, used by the container
// builder and by round-trip tests. It appends little-endian values to
// a growing buffer and never fails.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

// Bytes returns the written buffer. The Writer retains ownership; the
// caller should copy if it keeps writing afterwards.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Raw(p []byte) { w.buf = append(w.buf, p...) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

func (w *Writer) U32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) U64(v uint64) {
	w.buf = append(w.buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

func (w *Writer) GUID(id uuid.UUID) { w.Raw(id[:]) }

// String writes s in the signed-length convention read by
// Cursor.String. ASCII-only strings are written as single bytes; any
// string containing non-ASCII runes is written as UTF-16LE with a
// negative length.
func (w *Writer) String(s string) {
	if s == "" {
		w.I32(0)
		return
	}
	ascii := true
	for _, r := range s {
		if r >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		w.I32(int32(len(s) + 1))
		w.Raw([]byte(s))
		w.U8(0)
		return
	}
	units := utf16.Encode([]rune(s))
	w.I32(int32(-(len(units) + 1)))
	for _, u := range units {
		w.U16(u)
	}
	w.U16(0)
}
