package ustar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the outer compression of an archive stream.
type Compression uint8

const (
	// CompressionNone is a plain tar stream.
	CompressionNone Compression = iota
	// CompressionGzip is a gzip-compressed tar stream (.tar.gz, .tgz).
	CompressionGzip
	// CompressionZstd is a zstd-compressed tar stream (.tar.zst).
	CompressionZstd
)

// String returns the conventional name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// Decompression limits.
const (
	// DefaultMaxDecompressedSize bounds the size of an archive decompressed into memory (4GiB).
	DefaultMaxDecompressedSize = 4 << 30

	// DefaultMaxDecoderMemory is the default maximum zstd decoder memory (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// ErrDecompressedTooLarge is returned when a decompressed archive exceeds the
// configured limit.
var ErrDecompressedTooLarge = errors.New("ustar: decompressed archive exceeds size limit")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression inspects the leading bytes of a stream.
func DetectCompression(prefix []byte) Compression {
	switch {
	case bytes.HasPrefix(prefix, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(prefix, gzipMagic):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// DecompressOption configures decompression.
type DecompressOption func(*decompressConfig)

type decompressConfig struct {
	maxSize          int64
	maxDecoderMemory uint64
	lowmem           bool
}

// WithMaxDecompressedSize limits the decompressed archive size.
// Values <= 0 select DefaultMaxDecompressedSize.
func WithMaxDecompressedSize(n int64) DecompressOption {
	return func(c *decompressConfig) {
		if n <= 0 {
			n = DefaultMaxDecompressedSize
		}
		c.maxSize = n
	}
}

// WithMaxDecoderMemory limits the memory the zstd decoder may allocate.
// Zero disables the limit.
func WithMaxDecoderMemory(limit uint64) DecompressOption {
	return func(c *decompressConfig) {
		c.maxDecoderMemory = limit
	}
}

// WithDecoderLowmem trades zstd decoding speed for lower memory use.
func WithDecoderLowmem(enabled bool) DecompressOption {
	return func(c *decompressConfig) {
		c.lowmem = enabled
	}
}

// NewDecompressedSource reads an archive stream, detects gzip or zstd
// compression from its leading bytes, and returns the decompressed archive as
// an in-memory source. Uncompressed streams are read as-is.
//
// USTAR queries need random access, which compressed streams cannot provide,
// so the whole archive is held in memory.
func NewDecompressedSource(r io.Reader, opts ...DecompressOption) (*BytesSource, error) {
	br := bufio.NewReader(r)
	prefix, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("detect compression: %w", err)
	}
	return Decompress(br, DetectCompression(prefix), opts...)
}

// Decompress reads r with the given compression and returns the decompressed
// archive as an in-memory source.
func Decompress(r io.Reader, c Compression, opts ...DecompressOption) (*BytesSource, error) {
	cfg := decompressConfig{
		maxSize:          DefaultMaxDecompressedSize,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var dec io.Reader
	switch c {
	case CompressionNone:
		dec = r
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		dec = zr
	case CompressionZstd:
		zr, err := newZstdReader(r, &cfg)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		dec = zr
	default:
		return nil, fmt.Errorf("decompress: unsupported compression %v", c)
	}

	// Read one byte past the limit to tell "exactly at" from "over".
	data, err := io.ReadAll(io.LimitReader(dec, cfg.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %v: %w", c, err)
	}
	if int64(len(data)) > cfg.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDecompressedTooLarge, cfg.maxSize)
	}
	return NewBytesSource(data), nil
}

func newZstdReader(r io.Reader, cfg *decompressConfig) (*zstd.Decoder, error) {
	zopts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(cfg.lowmem),
	}
	if cfg.maxDecoderMemory > 0 {
		zopts = append(zopts, zstd.WithDecoderMaxMemory(cfg.maxDecoderMemory))
	}
	return zstd.NewReader(r, zopts...)
}
