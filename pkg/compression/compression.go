// Package compression encodes serialized profiles for storage. pprof tooling
// reads gzip natively; zstd and uncompressed output are also supported.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Type identifies a compression algorithm.
type Type uint8

const (
	TypeNone Type = iota
	TypeGzip
	TypeZstd
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType maps a configuration name to a Type. The empty string means gzip.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gzip", "gz":
		return TypeGzip, nil
	case "zstd", "zst":
		return TypeZstd, nil
	case "none", "raw":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression type: %q", name)
	}
}

// Level trades speed for ratio.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses and decompresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	// Extension is the file suffix for output, including the dot, or "".
	Extension() string
}

// GzipCompressor implements Compressor with gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	switch level {
	case LevelFastest:
		return &GzipCompressor{level: gzip.BestSpeed}
	case LevelBest:
		return &GzipCompressor{level: gzip.BestCompression}
	default:
		return &GzipCompressor{level: gzip.DefaultCompression}
	}
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *GzipCompressor) Type() Type        { return TypeGzip }
func (c *GzipCompressor) Extension() string { return ".gz" }

// ZstdCompressor implements Compressor with zstd. The encoder and decoder are
// safe for concurrent EncodeAll/DecodeAll calls.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a zstd compressor. Call Close when done.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	zl := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zl = zstd.SpeedFastest
	case LevelBest:
		zl = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type        { return TypeZstd }
func (c *ZstdCompressor) Extension() string { return ".zst" }

// Close releases encoder and decoder resources.
func (c *ZstdCompressor) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

// NoOpCompressor passes data through.
type NoOpCompressor struct{}

func (NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (NoOpCompressor) Type() Type                             { return TypeNone }
func (NoOpCompressor) Extension() string                      { return "" }

// New creates a compressor by type and level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeNone:
		return NoOpCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// NewByName is New with a configuration name and the default level.
func NewByName(name string) (Compressor, error) {
	t, err := ParseType(name)
	if err != nil {
		return nil, err
	}
	return New(t, LevelDefault)
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectType inspects magic bytes. Anything unrecognized is TypeNone.
func DetectType(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return TypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return TypeGzip
	default:
		return TypeNone
	}
}

// AutoDecompress decompresses data according to its magic bytes; raw data is
// returned as is.
func AutoDecompress(data []byte) ([]byte, error) {
	switch DetectType(data) {
	case TypeZstd:
		c, err := NewZstdCompressor(LevelDefault)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.Decompress(data)
	case TypeGzip:
		return NewGzipCompressor(LevelDefault).Decompress(data)
	default:
		return data, nil
	}
}

// Close releases resources if c holds any.
func Close(c Compressor) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}
