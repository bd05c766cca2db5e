// Package source defines the byte-source contract consumed by the
// container parser: a finite, randomly addressable sequence of bytes
// with a known length. Backends exist for in-memory buffers, local
// files, and S3 objects.
package source

import (
	"fmt"
	"io"
	"os"
)

// ByteSource is a finite random-access byte sequence. ReadAt follows
// the io.ReaderAt contract; Size is fixed for the lifetime of the
// source. Implementations must support concurrent ReadAt calls.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// ReadRange reads exactly n bytes at off, failing when the range runs
// past the end of the source.
func ReadRange(src ByteSource, off int64, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > src.Size() {
		return nil, fmt.Errorf("source: range [%d, %d) outside [0, %d)", off, off+n, src.Size())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(src, off, n), buf); err != nil {
		return nil, fmt.Errorf("source: reading %d bytes at %d: %w", n, off, err)
	}
	return buf, nil
}

// Bytes is an in-memory ByteSource.
type Bytes struct {
	buf []byte
}

func FromBytes(buf []byte) *Bytes { return &Bytes{buf: buf} }

func (b *Bytes) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.buf)) {
		return 0, fmt.Errorf("source: offset %d outside buffer of %d bytes", off, len(b.buf))
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Bytes) Size() int64 { return int64(len(b.buf)) }

func (b *Bytes) Close() error { return nil }

// File is a ByteSource over a local file.
type File struct {
	f    *os.File
	size int64
}

func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{f: f, size: st.Size()}, nil
}

func (s *File) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *File) Size() int64 { return s.size }

func (s *File) Close() error { return s.f.Close() }
