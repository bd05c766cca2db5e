// Package chunk decodes one archive entry's payload: raw bytes are
// read from the container, decrypted when flagged, decompressed per
// the entry's declared method, and verified against the stored digest.
// Every failure names the entry it belongs to, so bulk operations can
// skip the bad entry and keep going.
package chunk

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Method identifies an entry's compression algorithm. Values are
// stored in entry records on disk and must not be renumbered.
type Method uint8

const (
	MethodNone  Method = 0
	MethodZlib  Method = 1
	MethodGzip  Method = 2
	MethodLZ4   Method = 3
	MethodZstd  Method = 4
	MethodOodle Method = 5
	MethodXz    Method = 6
	MethodBzip2 Method = 7
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodZlib:
		return "zlib"
	case MethodGzip:
		return "gzip"
	case MethodLZ4:
		return "lz4"
	case MethodZstd:
		return "zstd"
	case MethodOodle:
		return "oodle"
	case MethodXz:
		return "xz"
	case MethodBzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMethod parses a method name as accepted by the CLI.
func ParseMethod(v string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none":
		return MethodNone, nil
	case "zlib":
		return MethodZlib, nil
	case "gzip":
		return MethodGzip, nil
	case "lz4":
		return MethodLZ4, nil
	case "zstd":
		return MethodZstd, nil
	case "oodle":
		return MethodOodle, nil
	case "xz":
		return MethodXz, nil
	case "bzip2":
		return MethodBzip2, nil
	default:
		return 0, fmt.Errorf("chunk: unknown compression method %q", v)
	}
}

// ErrUnsupportedCodec is returned for methods that are recognized in
// entry metadata but have no decoder in this build (Oodle). The entry
// still lists and carries sizes; only its payload is unreadable.
var ErrUnsupportedCodec = fmt.Errorf("chunk: compression method not supported in this build")

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunk: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunk: zstd decoder initialization failed: " + err.Error())
	}
}

// Decompress decodes data with the given method. The result must be
// exactly uncompressedSize bytes; any other length is an error. For
// MethodNone the input is returned unchanged (no copy) after a length
// check.
func Decompress(data []byte, m Method, uncompressedSize int) ([]byte, error) {
	switch m {
	case MethodNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("chunk: stored size %d does not match expected %d", len(data), uncompressedSize)
		}
		return data, nil
	case MethodZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("chunk: zlib: %w", err)
		}
		defer zr.Close()
		return readExactly(zr, m, uncompressedSize)
	case MethodGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("chunk: gzip: %w", err)
		}
		defer zr.Close()
		return readExactly(zr, m, uncompressedSize)
	case MethodLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("chunk: lz4: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("chunk: lz4 produced %d bytes, expected %d", n, uncompressedSize)
		}
		return out, nil
	case MethodZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("chunk: zstd: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("chunk: zstd produced %d bytes, expected %d", len(out), uncompressedSize)
		}
		return out, nil
	case MethodXz:
		zr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("chunk: xz: %w", err)
		}
		return readExactly(zr, m, uncompressedSize)
	case MethodBzip2:
		zr, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, fmt.Errorf("chunk: bzip2: %w", err)
		}
		return readExactly(zr, m, uncompressedSize)
	case MethodOodle:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, m)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, m)
	}
}

// Compress encodes data with the given method for the container
// builder. MethodNone returns the input unchanged.
func Compress(data []byte, m Method) ([]byte, error) {
	switch m {
	case MethodNone:
		return data, nil
	case MethodZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("chunk: zlib: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("chunk: zlib: %w", err)
		}
		return buf.Bytes(), nil
	case MethodGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("chunk: gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("chunk: gzip: %w", err)
		}
		return buf.Bytes(), nil
	case MethodLZ4:
		bound := lz4.CompressBlockBound(len(data))
		out := make([]byte, bound)
		n, err := lz4.CompressBlock(data, out, nil)
		if err != nil {
			return nil, fmt.Errorf("chunk: lz4: %w", err)
		}
		if n == 0 {
			// Incompressible input: lz4 block mode refuses to expand
			// it, so store a raw copy framed as a literal-only block.
			// Falling back to MethodNone is the builder's decision.
			return nil, fmt.Errorf("chunk: lz4: input is incompressible")
		}
		return out[:n], nil
	case MethodZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case MethodXz:
		var buf bytes.Buffer
		zw, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("chunk: xz: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("chunk: xz: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("chunk: xz: %w", err)
		}
		return buf.Bytes(), nil
	case MethodBzip2:
		var buf bytes.Buffer
		zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
		if err != nil {
			return nil, fmt.Errorf("chunk: bzip2: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("chunk: bzip2: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("chunk: bzip2: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, m)
	}
}

func readExactly(r io.Reader, m Method, want int) ([]byte, error) {
	out := make([]byte, want)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("chunk: %s produced short output, expected %d bytes: %w", m, want, err)
	}
	var probe [1]byte
	if n, _ := r.Read(probe[:]); n != 0 {
		return nil, fmt.Errorf("chunk: %s produced more than the expected %d bytes", m, want)
	}
	return out, nil
}
