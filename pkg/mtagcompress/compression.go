// Package mtagcompress implements the body codecs internal/tagsink applies
// to snapshot JSON/DOT documents before handing them to a Sink. Which codec
// actually runs is chosen per document rather than fixed at process start:
// a process that just called Init has one near-empty tree whose JSON is a
// few hundred bytes, while a long-running many-thread process can
// accumulate a document worth spending CPU to shrink before a COS upload.
package mtagcompress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Type identifies which codec produced a compressed body. tagsink also
// uses its Name() as the suffix appended to the written key, so a reader
// downloading "snapshot.json.zstd" knows which decoder to reach for
// without inspecting magic bytes.
type Type uint8

const (
	// TypeGzip trades ratio for the widest decompressor availability.
	TypeGzip Type = 0
	// TypeZstd is the preferred codec: nested-scope JSON is highly
	// repetitive (the same field names recur at every tree level), which
	// zstd's larger window exploits better than gzip at comparable speed.
	TypeZstd Type = 1
	// TypeNone marks a body left uncompressed.
	TypeNone Type = 255
)

// Level controls the codec's speed/ratio tradeoff.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// ParseType maps a storage.compress config value to a Type. An empty
// string defaults to TypeZstd, the profiler's preferred codec.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "zstd":
		return TypeZstd, nil
	case "gzip":
		return TypeGzip, nil
	case "none":
		return TypeNone, nil
	default:
		return 0, fmt.Errorf("mtagcompress: unknown compression type %q", s)
	}
}

// MinCompressibleBytes is the snapshot body size below which compression
// is skipped. A freshly initialized tree's JSON document is well under a
// kilobyte, and codec framing overhead at that size can leave the
// "compressed" body larger than the original.
const MinCompressibleBytes = 512

// ChooseForBody downgrades preferred to TypeNone for bodies smaller than
// MinCompressibleBytes, so a snapshot written moments after Init never
// pays codec overhead it can't recoup.
func ChooseForBody(bodyLen int, preferred Type) Type {
	if bodyLen < MinCompressibleBytes {
		return TypeNone
	}
	return preferred
}

// Compressor compresses and decompresses a snapshot document body.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	Name() string
}

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor at the given level.
func NewGzipCompressor(level Level) *GzipCompressor {
	gzipLevel := gzip.DefaultCompression
	switch level {
	case LevelFastest:
		gzipLevel = gzip.BestSpeed
	case LevelBest:
		gzipLevel = gzip.BestCompression
	default:
		gzipLevel = gzip.DefaultCompression
	}
	return &GzipCompressor{level: gzipLevel}
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("mtagcompress: create gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("mtagcompress: write gzip body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("mtagcompress: close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mtagcompress: create gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (c *GzipCompressor) Type() Type { return TypeGzip }
func (c *GzipCompressor) Name() string { return "gzip" }

// ZstdCompressor implements Compressor using zstd. It is reusable and
// safe for concurrent Compress calls, matching CompressingSink holding one
// instance for the process lifetime of a snapshot loop.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a zstd compressor at the given level.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	zstdLevel := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zstdLevel = zstd.SpeedFastest
	case LevelBest:
		zstdLevel = zstd.SpeedBestCompression
	default:
		zstdLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, fmt.Errorf("mtagcompress: create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("mtagcompress: create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type { return TypeZstd }
func (c *ZstdCompressor) Name() string { return "zstd" }

// Close releases the encoder/decoder's background resources. Called once
// when the sink that owns this compressor shuts down, not per Write.
func (c *ZstdCompressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// NoOpCompressor passes a body through unchanged, used for bodies under
// MinCompressibleBytes and for storage.compress: "none".
type NoOpCompressor struct{}

func NewNoOpCompressor() *NoOpCompressor { return &NoOpCompressor{} }

func (c *NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (c *NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (c *NoOpCompressor) Type() Type                             { return TypeNone }
func (c *NoOpCompressor) Name() string                           { return "raw" }

// New builds the Compressor for t at the given level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeNone:
		return NewNoOpCompressor(), nil
	default:
		return nil, fmt.Errorf("mtagcompress: unknown compression type: %d", t)
	}
}

// Closeable is implemented by compressors holding background resources
// (currently only ZstdCompressor).
type Closeable interface {
	Close()
}

// Close closes c if it holds resources requiring cleanup.
func Close(c Compressor) {
	if closer, ok := c.(Closeable); ok {
		closer.Close()
	}
}
