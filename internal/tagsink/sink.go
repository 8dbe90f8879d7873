// Package tagsink provides the storage backends snapshots are written to:
// local filesystem or Tencent Cloud COS. Both satisfy engine.Sink
// structurally (Write(ctx, key, io.Reader) error) without importing the
// engine package, keeping the dependency pointed from storage toward the
// engine's narrow interface rather than the other way around.
package tagsink

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/malloctag/mtag/pkg/mtagcompress"
	"github.com/malloctag/mtag/pkg/mtagconfig"
)

// Sink is the minimal contract tagsink backends satisfy; it matches
// internal/engine.Sink exactly.
type Sink interface {
	Write(ctx context.Context, key string, r io.Reader) error
}

// NewSink creates a Sink from config, defaulting to local storage for an
// empty or unrecognized type. Unless storage.compress is "none", the
// returned Sink is wrapped in a CompressingSink so every WriteStats/
// WriteSnapshotIfNeeded body picked up by the profiler is compressed
// before it reaches disk or COS.
func NewSink(cfg *mtagconfig.StorageConfig) (Sink, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var base Sink
	var err error
	switch cfg.Type {
	case "cos":
		base, err = NewCOSSink(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		base, err = NewLocalSink(cfg.LocalPath)
	}
	if err != nil {
		return nil, err
	}

	compressType, err := mtagcompress.ParseType(cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("tagsink: %w", err)
	}
	if compressType == mtagcompress.TypeNone {
		return base, nil
	}
	preferred, err := mtagcompress.New(compressType, mtagcompress.LevelDefault)
	if err != nil {
		return nil, fmt.Errorf("tagsink: build compressor: %w", err)
	}
	return NewCompressingSink(base, preferred), nil
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *mtagconfig.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("tagsink: storage config is nil")
	}

	storageType := cfg.Type
	if storageType == "" {
		storageType = "local"
	}

	if storageType != "cos" && storageType != "local" {
		return fmt.Errorf("tagsink: unsupported storage type: %s", cfg.Type)
	}

	if storageType == "cos" {
		if cfg.Bucket == "" {
			return fmt.Errorf("tagsink: COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("tagsink: COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("tagsink: COS credentials are required")
		}
	}

	if storageType == "local" {
		if cfg.LocalPath == "" {
			return fmt.Errorf("tagsink: local storage path is required")
		}
	}

	return nil
}

// CompressingSink wraps another Sink, compressing the body before
// forwarding it. A snapshot's JSON/DOT document ranges from a few hundred
// bytes right after Init to megabytes for a long-running many-thread
// process, so the codec applied is chosen per body via
// mtagcompress.ChooseForBody rather than fixed at construction: small
// bodies pass through raw instead of paying codec framing overhead.
type CompressingSink struct {
	inner     Sink
	preferred mtagcompress.Compressor
	raw       *mtagcompress.NoOpCompressor
}

// NewCompressingSink wraps inner, using preferred for any body at or above
// mtagcompress.MinCompressibleBytes.
func NewCompressingSink(inner Sink, preferred mtagcompress.Compressor) *CompressingSink {
	return &CompressingSink{inner: inner, preferred: preferred, raw: mtagcompress.NewNoOpCompressor()}
}

func (s *CompressingSink) Write(ctx context.Context, key string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("tagsink: read body: %w", err)
	}

	c := s.preferred
	if mtagcompress.ChooseForBody(len(body), s.preferred.Type()) == mtagcompress.TypeNone {
		c = s.raw
	}

	compressed, err := c.Compress(body)
	if err != nil {
		return fmt.Errorf("tagsink: compress body: %w", err)
	}
	return s.inner.Write(ctx, key+"."+c.Name(), bytes.NewReader(compressed))
}

// Close releases the wrapped codec's background resources, if any.
func (s *CompressingSink) Close() {
	mtagcompress.Close(s.preferred)
}
